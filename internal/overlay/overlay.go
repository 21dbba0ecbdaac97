// Package overlay draws detection boxes for the page.
//
// Every render produces a brand new transparent layer. Nothing is kept between
// calls, so boxes from an earlier capture can never show up on a later one.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/zombor/bluebin/internal/detection"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	strokeWidth = 3
	labelPadX   = 3
	labelPadY   = 2
	// the label starts to the right of the checkmark
	labelOffsetX = 20
	labelOffsetY = 15
)

var (
	// RecyclableColor is the Blue Bin green used for recyclable items
	RecyclableColor = color.RGBA{R: 0x1e, G: 0x8e, B: 0x3e, A: 0xff}
	// NonRecyclableColor marks items that do not go in the bin
	NonRecyclableColor = color.RGBA{R: 0xd9, G: 0x30, B: 0x25, A: 0xff}

	labelBackground = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xd0}
)

// Item is one box to draw, already in the layer's pixel space
type Item struct {
	Box        detection.PixelBox
	Label      string
	Recyclable bool
}

// Space selects which box of a placement is drawn
type Space int

const (
	DisplaySpace Space = iota
	CaptureSpace
)

// Items converts placements into drawable items in the given space
func Items(placements []detection.Placement, space Space) []Item {
	items := make([]Item, 0, len(placements))
	for _, p := range placements {
		box := p.Display
		if space == CaptureSpace {
			box = p.Capture
		}
		items = append(items, Item{Box: box, Label: p.Label, Recyclable: p.Recyclable})
	}
	return items
}

// Renderer draws items onto transparent layers
type Renderer struct {
	showNonRecyclable bool
	face              font.Face
}

// NewRenderer creates a Renderer. Non-recyclable items are skipped unless
// showNonRecyclable is set, in which case they are drawn in red without a checkmark.
func NewRenderer(showNonRecyclable bool) *Renderer {
	return &Renderer{
		showNonRecyclable: showNonRecyclable,
		face:              basicfont.Face7x13,
	}
}

// Render returns a new transparent layer of the given size with items drawn on it
func (r *Renderer) Render(width, height int, items []Item) *image.RGBA {
	layer := image.NewRGBA(image.Rect(0, 0, max(width, 0), max(height, 0)))
	for _, item := range items {
		if !item.Recyclable && !r.showNonRecyclable {
			continue
		}
		r.drawItem(layer, item)
	}
	return layer
}

// Drawn reports how many of items Render would draw
func (r *Renderer) Drawn(items []Item) int {
	n := 0
	for _, item := range items {
		if item.Recyclable || r.showNonRecyclable {
			n++
		}
	}
	return n
}

func (r *Renderer) drawItem(layer *image.RGBA, item Item) {
	c := RecyclableColor
	if !item.Recyclable {
		c = NonRecyclableColor
	}

	rect := image.Rect(
		int(item.Box.X),
		int(item.Box.Y),
		int(item.Box.X+item.Box.Width),
		int(item.Box.Y+item.Box.Height),
	)
	strokeRect(layer, rect, c, strokeWidth)

	if item.Recyclable {
		drawCheckmark(layer, rect.Min.X+5, rect.Min.Y+5, c)
	}
	if item.Label != "" {
		r.drawLabel(layer, rect, item.Label, c)
	}
}

// strokeRect draws the outline of rect, growing inward by width pixels
func strokeRect(dst *image.RGBA, rect image.Rectangle, c color.Color, width int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width),
		image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y),
		image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y),
	}
	for _, edge := range edges {
		draw.Draw(dst, edge.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawCheckmark draws a 12x10 tick whose top-left corner is at (x, y)
func drawCheckmark(dst *image.RGBA, x, y int, c color.Color) {
	drawLine(dst, x, y+5, x+4, y+9, c)
	drawLine(dst, x+4, y+9, x+11, y, c)
}

// drawLine draws a two pixel thick line
func drawLine(dst *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := x1-x0, y1-y0
	steps := max(abs(dx), abs(dy))
	if steps == 0 {
		steps = 1
	}
	bounds := dst.Bounds()
	for i := 0; i <= steps; i++ {
		x := x0 + dx*i/steps
		y := y0 + dy*i/steps
		for _, p := range []image.Point{{x, y}, {x + 1, y}, {x, y + 1}, {x + 1, y + 1}} {
			if p.In(bounds) {
				dst.Set(p.X, p.Y, c)
			}
		}
	}
}

func (r *Renderer) drawLabel(dst *image.RGBA, box image.Rectangle, label string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: r.face,
	}
	textWidth := d.MeasureString(label).Ceil()
	metrics := r.face.Metrics()
	ascent := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()

	x := box.Min.X + labelOffsetX
	baseline := box.Min.Y + labelOffsetY
	// keep the label on the layer when the box hugs the right edge
	if x+textWidth+labelPadX > dst.Bounds().Max.X {
		x = max(dst.Bounds().Max.X-textWidth-labelPadX, 0)
	}

	bg := image.Rect(x-labelPadX, baseline-ascent-labelPadY, x+textWidth+labelPadX, baseline+descent+labelPadY)
	draw.Draw(dst, bg.Intersect(dst.Bounds()), image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d.Dot = fixed.P(x, baseline)
	d.DrawString(label)
}

// Composite draws layer over frame and returns the result at the frame's size.
// A layer of a different size is scaled to fit.
func Composite(frame image.Image, layer image.Image) *image.RGBA {
	fb := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	draw.Draw(out, out.Bounds(), frame, fb.Min, draw.Src)
	if layer == nil {
		return out
	}

	lb := layer.Bounds()
	if lb.Dx() == fb.Dx() && lb.Dy() == fb.Dy() {
		draw.Draw(out, out.Bounds(), layer, lb.Min, draw.Over)
		return out
	}
	draw.ApproxBiLinear.Scale(out, out.Bounds(), layer, lb, draw.Over, nil)
	return out
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding overlay PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
