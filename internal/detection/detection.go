package detection

import (
	"encoding/json"
	"fmt"
)

// UnknownLabel is the sentinel label for items that could not be identified.
// Detections carrying it never leave the normalizer.
const UnknownLabel = "Unknown"

// Box is a bounding box in relative image coordinates (0.0 to 1.0).
// On the wire it is the 4-element array [x_min, y_min, width, height].
type Box struct {
	XMin   float64
	YMin   float64
	Width  float64
	Height float64
}

// MarshalJSON encodes the box as [x_min, y_min, width, height]
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.XMin, b.YMin, b.Width, b.Height})
}

// UnmarshalJSON decodes the strict 4-number array form
func (b *Box) UnmarshalJSON(data []byte) error {
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decoding box: %w", err)
	}
	if len(values) != 4 {
		return fmt.Errorf("box must have 4 elements, got %d", len(values))
	}
	b.XMin, b.YMin, b.Width, b.Height = values[0], values[1], values[2], values[3]
	return nil
}

// Detection is one recognized item
type Detection struct {
	Label      string `json:"label"`
	Box        Box    `json:"box_2d"`
	Recyclable bool   `json:"recyclable"`
}

// Batch is the ordered set of detections returned by one analysis call.
// Order follows the remote reply.
type Batch []Detection

// Recyclable returns the recyclable subset, preserving order
func (b Batch) Recyclable() Batch {
	out := make(Batch, 0, len(b))
	for _, d := range b {
		if d.Recyclable {
			out = append(out, d)
		}
	}
	return out
}

// RecyclableCount returns how many detections are recyclable
func (b Batch) RecyclableCount() int {
	n := 0
	for _, d := range b {
		if d.Recyclable {
			n++
		}
	}
	return n
}

// PixelBox is a bounding box in absolute units of one coordinate space
type PixelBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
