package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

func pngImage(data string) *models.Image {
	return &models.Image{Data: []byte(data), MIMEType: "image/png"}
}

func TestDisplayer_Display(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, 0)

	if err := d.Display(pngImage("png bytes"), "Victorian Era · Dandy Gentleman"); err != nil {
		t.Fatalf("Display() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "\x1b_G") {
		t.Error("output should contain a kitty escape sequence")
	}
	if !strings.HasSuffix(out, "Victorian Era · Dandy Gentleman\n") {
		t.Errorf("output should end with the caption, got %q", out)
	}
}

func TestDisplayer_DisplayErrors(t *testing.T) {
	d := New(&bytes.Buffer{}, 0)

	tests := []struct {
		name    string
		img     *models.Image
		wantErr error
	}{
		{"nil", nil, ErrNoImage},
		{"empty", &models.Image{MIMEType: "image/png"}, ErrNoImage},
		{"jpeg", &models.Image{Data: []byte("x"), MIMEType: "image/jpeg"}, ErrNotPNG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Display(tt.img, ""); !errors.Is(err, tt.wantErr) {
				t.Errorf("Display() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisplayer_DisplayAll(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, 20)

	imgs := []*models.Image{pngImage("a"), pngImage("b"), pngImage("c")}
	if err := d.DisplayAll(imgs, []string{"one", "two"}); err != nil {
		t.Fatalf("DisplayAll() error = %v", err)
	}

	out := buf.String()
	if n := strings.Count(out, "c=20"); n != 3 {
		t.Errorf("found %d images, want 3", n)
	}
	if !strings.Contains(out, "one\n") || !strings.Contains(out, "two\n") {
		t.Errorf("captions missing from %q", out)
	}

	err := d.DisplayAll([]*models.Image{pngImage("a"), nil}, nil)
	if !errors.Is(err, ErrNoImage) || !strings.Contains(err.Error(), "image 2") {
		t.Errorf("DisplayAll() error = %v", err)
	}
}

func TestSupported_NonTerminal(t *testing.T) {
	if Supported(&bytes.Buffer{}) {
		t.Error("Supported() = true for a buffer")
	}
	if got := Width(&bytes.Buffer{}, 80); got != 80 {
		t.Errorf("Width() = %d, want fallback 80", got)
	}
}

func TestIsTerminalSupported(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"kitty program", map[string]string{"TERM_PROGRAM": "kitty"}, true},
		{"wezterm program", map[string]string{"TERM_PROGRAM": "WezTerm"}, true},
		{"kitty window", map[string]string{"KITTY_WINDOW_ID": "1"}, true},
		{"ghostty term", map[string]string{"TERM": "xterm-ghostty"}, true},
		{"plain xterm", map[string]string{"TERM": "xterm-256color"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"TERM_PROGRAM", "KITTY_WINDOW_ID", "TERM"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := IsTerminalSupported(); got != tt.want {
				t.Errorf("IsTerminalSupported() = %v, want %v", got, tt.want)
			}
		})
	}
}
