package detection

// ToPixelBox maps a relative box into a space of the given size
func ToPixelBox(box Box, spaceWidth, spaceHeight float64) PixelBox {
	return PixelBox{
		X:      box.XMin * spaceWidth,
		Y:      box.YMin * spaceHeight,
		Width:  box.Width * spaceWidth,
		Height: box.Height * spaceHeight,
	}
}

// ToDisplayBox rescales a capture-space box into display space. Each axis is
// scaled on its own; keeping the aspect ratio is up to the caller's layout.
// A zero capture size gives a zero box.
func ToDisplayBox(px PixelBox, captureWidth, captureHeight, displayWidth, displayHeight float64) PixelBox {
	if captureWidth <= 0 || captureHeight <= 0 {
		return PixelBox{}
	}
	scaleX := displayWidth / captureWidth
	scaleY := displayHeight / captureHeight
	return PixelBox{
		X:      px.X * scaleX,
		Y:      px.Y * scaleY,
		Width:  px.Width * scaleX,
		Height: px.Height * scaleY,
	}
}

// Placement is a detection together with its box in both coordinate spaces
type Placement struct {
	Detection
	Capture PixelBox `json:"pixel_box"`
	Display PixelBox `json:"display_box"`
}

// MapBatch places every detection of a batch in capture and display space
func MapBatch(batch Batch, captureWidth, captureHeight, displayWidth, displayHeight float64) []Placement {
	placements := make([]Placement, 0, len(batch))
	for _, det := range batch {
		capture := ToPixelBox(det.Box, captureWidth, captureHeight)
		placements = append(placements, Placement{
			Detection: det,
			Capture:   capture,
			Display:   ToDisplayBox(capture, captureWidth, captureHeight, displayWidth, displayHeight),
		})
	}
	return placements
}
