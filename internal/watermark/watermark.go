// Package watermark stamps a small semi-transparent text mark into the
// bottom-right corner of generated images.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

const (
	DefaultText    = "Gauty"
	minTextHeight  = 16
	widthDivisor   = 60
	marginRatio    = 0.02
	defaultOpacity = 0.7
)

var (
	ErrDecode = errors.New("failed to decode image")
	ErrEncode = errors.New("failed to encode image")
)

// Stamper is immutable after New and safe for concurrent use.
type Stamper struct {
	text    string
	opacity float64
	mask    *image.Alpha
}

type Option func(*Stamper)

func WithText(text string) Option {
	return func(s *Stamper) {
		if text != "" {
			s.text = text
		}
	}
}

func WithOpacity(opacity float64) Option {
	return func(s *Stamper) {
		if opacity > 0 && opacity <= 1 {
			s.opacity = opacity
		}
	}
}

func New(opts ...Option) *Stamper {
	s := &Stamper{
		text:    DefaultText,
		opacity: defaultOpacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mask = renderMask(s.text)
	return s
}

func (s *Stamper) Text() string {
	return s.text
}

// Stamp returns a PNG copy of img with the mark applied. Dimensions are
// preserved and nothing outside the mark's corner box is modified.
func (s *Stamper) Stamp(img *models.Image) (*models.Image, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: no image data", ErrDecode)
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	s.overlay(dst)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return &models.Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

// Box returns where the mark lands on a width x height image. An empty
// rectangle means the image is too small to carry a mark.
func (s *Stamper) Box(width, height int) image.Rectangle {
	mb := s.mask.Bounds()
	if mb.Dx() == 0 || mb.Dy() == 0 || width <= 0 || height <= 0 {
		return image.Rectangle{}
	}

	h := math.Max(minTextHeight, math.Round(float64(width)/widthDivisor))
	w := h * float64(mb.Dx()) / float64(mb.Dy())

	maxW, maxH := float64(width)/4, float64(height)/4
	if shrink := math.Min(maxW/w, maxH/h); shrink < 1 {
		w *= shrink
		h *= shrink
	}

	tw, th := int(math.Floor(w)), int(math.Floor(h))
	if tw < 1 || th < 1 {
		return image.Rectangle{}
	}

	margin := int(math.Round(float64(width) * marginRatio))
	x1, y1 := width-margin, height-margin
	return image.Rect(x1-tw, y1-th, x1, y1).Intersect(image.Rect(0, 0, width, height))
}

func (s *Stamper) overlay(dst *image.NRGBA) {
	box := s.Box(dst.Bounds().Dx(), dst.Bounds().Dy())
	if box.Empty() {
		return
	}

	scaled := image.NewAlpha(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), s.mask, s.mask.Bounds(), draw.Src, nil)

	ink := image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: uint8(math.Round(255 * s.opacity))})
	draw.DrawMask(dst, box, ink, image.Point{}, scaled, image.Point{}, draw.Over)
}

// renderMask draws text once with the built-in bitmap face. The mask is
// scaled per image in overlay.
func renderMask(text string) *image.Alpha {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	return mask
}
