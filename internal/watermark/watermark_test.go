package watermark

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) *models.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return &models.Image{Data: buf.Bytes(), MIMEType: "image/png"}
}

func decode(t *testing.T, img *models.Image) (image.Image, string) {
	t.Helper()
	out, format, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("image.Decode() error = %v", err)
	}
	return out, format
}

func TestStamp_PreservesDimensionsAndOutputsPNG(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"landscape", 1200, 800},
		{"portrait", 600, 900},
		{"small", 64, 64},
		{"tiny", 3, 3},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := encodePNG(t, solidImage(tt.w, tt.h, color.NRGBA{10, 20, 30, 255}))

			out, err := s.Stamp(in)
			if err != nil {
				t.Fatalf("Stamp() error = %v", err)
			}
			if out.MIMEType != "image/png" {
				t.Errorf("MIMEType = %q, want image/png", out.MIMEType)
			}
			img, format := decode(t, out)
			if format != "png" {
				t.Errorf("format = %q, want png", format)
			}
			if img.Bounds().Dx() != tt.w || img.Bounds().Dy() != tt.h {
				t.Errorf("size = %v, want %dx%d", img.Bounds().Size(), tt.w, tt.h)
			}
		})
	}
}

func TestStamp_OnlyTouchesCornerBox(t *testing.T) {
	const w, h = 1200, 800
	base := color.NRGBA{0, 0, 0, 255}
	s := New()

	out, err := s.Stamp(encodePNG(t, solidImage(w, h, base)))
	if err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}
	img, _ := decode(t, out)

	box := s.Box(w, h)
	if box.Empty() {
		t.Fatal("Box() is empty for a 1200x800 image")
	}
	if box.Min.X < w/2 || box.Min.Y < h/2 {
		t.Errorf("Box() = %v, want bottom-right placement", box)
	}
	if box.Dx() > w/4 || box.Dy() > h/4 {
		t.Errorf("Box() = %v exceeds a quarter of the image", box)
	}
	if box.Dy() != 20 {
		t.Errorf("Box() height = %d, want round(1200/60) = 20", box.Dy())
	}
	if margin := w - box.Max.X; margin != 24 {
		t.Errorf("right margin = %d, want 2%% of width = 24", margin)
	}

	changed := false
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			dirty := r != 0 || g != 0 || b != 0
			inBox := image.Pt(x, y).In(box)
			if dirty && !inBox {
				t.Fatalf("pixel (%d,%d) outside the mark box was modified", x, y)
			}
			if dirty {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("Stamp() did not draw anything")
	}
}

func TestStamp_SemiTransparent(t *testing.T) {
	const w, h = 1200, 800
	s := New()

	out, err := s.Stamp(encodePNG(t, solidImage(w, h, color.NRGBA{0, 0, 0, 255})))
	if err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}
	img, _ := decode(t, out)

	var brightest uint32
	box := s.Box(w, h)
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r > brightest {
				brightest = r
			}
		}
	}
	if brightest == 0 || brightest >= 0xffff {
		t.Errorf("brightest mark pixel = %#x, want partially transparent white", brightest)
	}
}

func TestStamp_Twice(t *testing.T) {
	s := New()
	in := encodePNG(t, solidImage(800, 600, color.NRGBA{200, 100, 50, 255}))

	once, err := s.Stamp(in)
	if err != nil {
		t.Fatalf("first Stamp() error = %v", err)
	}
	twice, err := s.Stamp(once)
	if err != nil {
		t.Fatalf("second Stamp() error = %v", err)
	}

	a, fa := decode(t, once)
	b, fb := decode(t, twice)
	if a.Bounds() != b.Bounds() {
		t.Errorf("bounds differ: %v vs %v", a.Bounds(), b.Bounds())
	}
	if fa != fb || twice.MIMEType != once.MIMEType {
		t.Errorf("format differs: %s/%s vs %s/%s", fa, once.MIMEType, fb, twice.MIMEType)
	}
}

func TestStamp_InputFormats(t *testing.T) {
	src := solidImage(320, 240, color.NRGBA{90, 90, 90, 255})

	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, src, nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	var gf bytes.Buffer
	if err := gif.Encode(&gf, src, nil); err != nil {
		t.Fatalf("gif.Encode() error = %v", err)
	}

	tests := []struct {
		name string
		img  *models.Image
	}{
		{"jpeg", &models.Image{Data: jpg.Bytes(), MIMEType: "image/jpeg"}},
		{"gif", &models.Image{Data: gf.Bytes(), MIMEType: "image/gif"}},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Stamp(tt.img)
			if err != nil {
				t.Fatalf("Stamp() error = %v", err)
			}
			img, format := decode(t, out)
			if format != "png" {
				t.Errorf("format = %q, want png", format)
			}
			if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
				t.Errorf("size = %v, want 320x240", img.Bounds().Size())
			}
		})
	}
}

func TestStamp_DecodeError(t *testing.T) {
	s := New()

	tests := []struct {
		name string
		img  *models.Image
	}{
		{"garbage", &models.Image{Data: []byte("not an image"), MIMEType: "image/png"}},
		{"empty", &models.Image{MIMEType: "image/png"}},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Stamp(tt.img); !errors.Is(err, ErrDecode) {
				t.Errorf("Stamp() error = %v, want %v", err, ErrDecode)
			}
		})
	}
}

func TestBox_ShrinksOnNarrowImages(t *testing.T) {
	s := New(WithText("A much longer watermark text"))

	box := s.Box(200, 1000)
	if box.Empty() {
		t.Fatal("Box() is empty")
	}
	if box.Dx() > 50 {
		t.Errorf("Box() width = %d, want at most a quarter of 200", box.Dx())
	}
	if box.Dy() >= minTextHeight {
		t.Errorf("Box() height = %d, want shrunk below %d", box.Dy(), minTextHeight)
	}
}

func TestOptions(t *testing.T) {
	s := New(WithText(""), WithOpacity(2))
	if s.Text() != DefaultText {
		t.Errorf("Text() = %q, want %q", s.Text(), DefaultText)
	}
	if s.opacity != defaultOpacity {
		t.Errorf("opacity = %v, want %v", s.opacity, defaultOpacity)
	}
}

func TestStamp_Concurrent(t *testing.T) {
	s := New()
	in := encodePNG(t, solidImage(300, 200, color.NRGBA{1, 2, 3, 255}))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Stamp(in); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Stamp() error = %v", err)
	}
}
