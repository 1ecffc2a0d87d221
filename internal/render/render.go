// Package render draws detection results onto a copy of a captured image.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/mgangumalla/focus/internal/detection"
)

// Defaults for Options.
const (
	DefaultMaxFontSize     = 80.0
	DefaultBoxStrokeWidth  = 6.0
	DefaultTextStrokeWidth = 2.0
	DefaultBoxColor        = "#ff0000"
	DefaultTextColor       = "#ffff00"
)

var goFont *truetype.Font

func init() {
	var err error
	goFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Options controls the look of the overlay. Zero values fall back to the
// package defaults, except TextStrokeWidth where zero draws plain glyphs.
type Options struct {
	MaxFontSize     float64
	BoxStrokeWidth  float64
	TextStrokeWidth float64
	BoxColor        color.Color
	TextColor       color.Color
}

// Renderer draws boxes and auto-fitted labels. It holds no per-call state and
// is safe for concurrent use.
type Renderer struct {
	opts Options
}

// LabelFit is the placement computed for one label.
type LabelFit struct {
	FontSize float64 // size the label is drawn at
	Width    float64 // label width at FontSize
	Height   float64 // label height at FontSize
	Margin   float64 // horizontal offset from the box's left edge, >= 0
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	if opts.MaxFontSize <= 0 {
		opts.MaxFontSize = DefaultMaxFontSize
	}
	if opts.BoxStrokeWidth <= 0 {
		opts.BoxStrokeWidth = DefaultBoxStrokeWidth
	}
	if opts.TextStrokeWidth < 0 {
		opts.TextStrokeWidth = 0
	}
	if opts.BoxColor == nil {
		opts.BoxColor = color.RGBA{R: 0xff, A: 0xff}
	}
	if opts.TextColor == nil {
		opts.TextColor = color.RGBA{R: 0xff, G: 0xff, A: 0xff}
	}
	return &Renderer{opts: opts}
}

// ParseColor parses a hex color such as "#ffcc00".
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	return c.Clamped(), nil
}

// Options returns the effective options.
func (r *Renderer) Options() Options {
	return r.opts
}

// Render returns a copy of img with every result drawn on it in order. img is
// not modified. An empty result list yields a plain copy.
func (r *Renderer) Render(img image.Image, results []detection.DetectionResult) image.Image {
	bounds := img.Bounds()
	// the clone is anchored at (0,0) whatever bounds.Min is
	dc := gg.NewContextForImage(imaging.Clone(img))

	for _, res := range results {
		box, ok := clampBox(res.BoundingBox(), bounds)
		if !ok {
			continue
		}
		box = box.Sub(bounds.Min)

		r.drawBox(dc, box)
		r.drawLabel(dc, box, res.Text())
	}

	return dc.Image()
}

// FitLabel computes the font size and left margin for text inside a box of the
// given width. Text that fits at the maximum size keeps it; wider text is
// scaled down proportionally. A non-positive box or text width skips the
// scaling and uses the maximum size with zero margin.
func (r *Renderer) FitLabel(text string, boxWidth float64) LabelFit {
	maxSize := r.opts.MaxFontSize
	naturalWidth, naturalHeight := measure(text, maxSize)

	if boxWidth <= 0 || naturalWidth <= 0 {
		return LabelFit{FontSize: maxSize, Width: naturalWidth, Height: naturalHeight}
	}

	fit := LabelFit{FontSize: maxSize, Width: naturalWidth, Height: naturalHeight}
	if boxWidth < naturalWidth {
		fit.FontSize = maxSize * boxWidth / naturalWidth
		fit.Width, fit.Height = measure(text, fit.FontSize)
	}

	fit.Margin = (boxWidth - fit.Width) / 2
	if fit.Margin < 0 {
		fit.Margin = 0
	}
	return fit
}

func (r *Renderer) drawBox(dc *gg.Context, box image.Rectangle) {
	dc.SetColor(r.opts.BoxColor)
	dc.SetLineWidth(r.opts.BoxStrokeWidth)
	dc.DrawRectangle(float64(box.Min.X), float64(box.Min.Y), float64(box.Dx()), float64(box.Dy()))
	dc.Stroke()
}

func (r *Renderer) drawLabel(dc *gg.Context, box image.Rectangle, text string) {
	if text == "" {
		return
	}
	fit := r.FitLabel(text, float64(box.Dx()))

	dc.SetFontFace(newFace(fit.FontSize))
	dc.SetColor(r.opts.TextColor)

	x := float64(box.Min.X) + fit.Margin
	y := float64(box.Min.Y) + fit.Height

	// thicken the glyphs the way a fill-and-stroke paint would
	half := r.opts.TextStrokeWidth / 2
	if half > 0 {
		for _, off := range [][2]float64{{-half, 0}, {half, 0}, {0, -half}, {0, half}} {
			dc.DrawString(text, x+off[0], y+off[1])
		}
	}
	dc.DrawString(text, x, y)
}

// measure returns the advance width and the ink height of text at size.
func measure(text string, size float64) (float64, float64) {
	face := newFace(size)
	defer face.Close()

	width := font.MeasureString(face, text)
	bounds, _ := font.BoundString(face, text)
	height := bounds.Max.Y - bounds.Min.Y
	return fixedToFloat(width), fixedToFloat(height)
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func newFace(size float64) font.Face {
	return truetype.NewFace(goFont, &truetype.Options{Size: size, Hinting: font.HintingNone})
}

// clampBox canonicalizes r and clips it to bounds. A zero-width or
// zero-height box inside bounds is kept as is; ok is false only when r lies
// entirely outside.
func clampBox(r, bounds image.Rectangle) (image.Rectangle, bool) {
	r = r.Canon()
	if r.Dx() > 0 && r.Dy() > 0 {
		clipped := r.Intersect(bounds)
		return clipped, !clipped.Empty()
	}
	if !r.Min.In(bounds) {
		return image.Rectangle{}, false
	}
	if r.Max.X > bounds.Max.X {
		r.Max.X = bounds.Max.X
	}
	if r.Max.Y > bounds.Max.Y {
		r.Max.Y = bounds.Max.Y
	}
	return r, true
}
