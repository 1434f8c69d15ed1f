// Package display previews delivered images inline in terminals that speak
// the kitty graphics protocol.
package display

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

var (
	ErrNoImage     = errors.New("image has no data")
	ErrNotPNG      = errors.New("only PNG images can be previewed")
	ErrUnsupported = errors.New("terminal does not support inline images")
)

type Displayer struct {
	out     io.Writer
	columns int
}

func New(out io.Writer, columns int) *Displayer {
	return &Displayer{out: out, columns: columns}
}

// Display writes one PNG with an optional caption line under it.
func (d *Displayer) Display(img *models.Image, caption string) error {
	if img.Empty() {
		return ErrNoImage
	}
	if models.FormatFromMIME(img.MIMEType) != models.FormatPNG {
		return ErrNotPNG
	}

	enc := NewKittyEncoder(d.out, d.columns)
	if err := enc.Encode(img.Data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	fmt.Fprintln(d.out)
	if caption != "" {
		fmt.Fprintln(d.out, caption)
	}
	return nil
}

func (d *Displayer) DisplayAll(imgs []*models.Image, captions []string) error {
	for i, img := range imgs {
		caption := ""
		if i < len(captions) {
			caption = captions[i]
		}
		if err := d.Display(img, caption); err != nil {
			return fmt.Errorf("failed to display image %d: %w", i+1, err)
		}
	}
	return nil
}

// Supported reports whether out is an interactive terminal known to render
// kitty graphics.
func Supported(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return IsTerminalSupported()
}

// Width returns the column count of out, or fallback when it is not a
// terminal.
func Width(out io.Writer, fallback int) int {
	f, ok := out.(*os.File)
	if !ok {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	term := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(term, "kitty") || strings.Contains(term, "ghostty")
}
