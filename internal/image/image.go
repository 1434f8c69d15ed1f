// Package image reads source photos from disk or HTTPS and writes delivered
// results under their download names.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/timewarp-studio/timewarp/internal/security"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

// MaxUploadBytes is the largest accepted source image.
const MaxUploadBytes = 4 * 1024 * 1024

var (
	ErrTooLarge  = errors.New("image is too large")
	ErrNotImage  = errors.New("file is not an image")
	ErrNoData    = errors.New("no image data available")
	ErrDownload  = errors.New("image download failed")
	ErrReadImage = errors.New("failed to read image")
)

type Loader struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewLoader() *Loader {
	return &Loader{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxBytes: MaxUploadBytes,
	}
}

// Load reads src, a local path or an HTTPS URL, and checks it is an image
// within the size limit.
func (l *Loader) Load(ctx context.Context, src string) (*models.Image, error) {
	if security.IsRemote(src) {
		return l.download(ctx, src)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadImage, err)
	}
	defer f.Close()

	return l.Read(f)
}

// Read consumes at most one byte past the limit so oversized input is
// detected without buffering all of it.
func (l *Loader) Read(r io.Reader) (*models.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadImage, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: larger than %s", ErrTooLarge, humanize.IBytes(uint64(l.maxBytes)))
	}
	return Sniff(data)
}

func (l *Loader) download(ctx context.Context, rawURL string) (*models.Image, error) {
	if err := security.ValidateImageURL(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}
	if resp.ContentLength > l.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, humanize.IBytes(uint64(resp.ContentLength)))
	}

	return l.Read(resp.Body)
}

// Sniff detects the MIME type from content and rejects anything that is not
// an image.
func Sniff(data []byte) (*models.Image, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mime)
	}
	return &models.Image{Data: data, MIMEType: mime}, nil
}

// Saved is where one delivered result was written.
type Saved struct {
	Index   int
	Path    string
	RawPath string
	Bytes   int64
}

type Saver struct {
	keepRaw bool
}

func NewSaver(keepRaw bool) *Saver {
	return &Saver{keepRaw: keepRaw}
}

func (s *Saver) Save(img *models.Image, path string) error {
	if img.Empty() {
		return ErrNoData
	}

	if err := ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// SaveResult writes the watermarked image as
// timewarp_studio_<era>_<n>.png and, when raw copies are kept, the
// unwatermarked one next to it with a _raw suffix.
func (s *Saver) SaveResult(dir, eraName string, index int, watermarked, raw *models.Image) (*Saved, error) {
	saved := &Saved{
		Index: index,
		Path:  filepath.Join(dir, Filename(eraName, index, "", models.FormatPNG)),
	}
	if err := s.Save(watermarked, saved.Path); err != nil {
		return nil, fmt.Errorf("failed to save image %d: %w", index+1, err)
	}
	saved.Bytes = int64(len(watermarked.Data))

	if s.keepRaw && !raw.Empty() {
		saved.RawPath = filepath.Join(dir, Filename(eraName, index, "_raw", models.FormatFromMIME(raw.MIMEType)))
		if err := s.Save(raw, saved.RawPath); err != nil {
			return nil, fmt.Errorf("failed to save raw image %d: %w", index+1, err)
		}
	}
	return saved, nil
}

// Filename is the download name for the result at zero-based index.
func Filename(eraName string, index int, suffix string, format models.OutputFormat) string {
	return fmt.Sprintf("timewarp_studio_%s_%d%s.%s", security.Slug(eraName), index+1, suffix, format)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
