package models

import (
	"errors"
	"slices"
	"strings"
)

var (
	ErrEmptyPrompt      = errors.New("prompt cannot be empty")
	ErrNoImageData      = errors.New("image data is required")
	ErrNoMIMEType       = errors.New("image mime type is required")
	ErrEmptyInstruction = errors.New("edit instruction cannot be empty")
)

type Language string

const (
	LangEnglish Language = "en"
	LangFrench  Language = "fr"
)

func SupportedLanguages() []Language {
	return []Language{LangEnglish, LangFrench}
}

func (l Language) IsValid() bool {
	return slices.Contains(SupportedLanguages(), l)
}

func (l Language) String() string {
	return string(l)
}

type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWebP OutputFormat = "webp"
)

func ValidFormats() []OutputFormat {
	return []OutputFormat{FormatPNG, FormatJPEG, FormatWebP}
}

func (f OutputFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f OutputFormat) String() string {
	return string(f)
}

// FormatFromMIME maps an image mime type to an output format. Unknown types
// map to PNG.
func FormatFromMIME(mime string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/webp":
		return FormatWebP
	default:
		return FormatPNG
	}
}

// Image is a raw image payload as produced by a generator or loaded from disk.
type Image struct {
	Data     []byte
	MIMEType string
}

func (img *Image) Empty() bool {
	return img == nil || len(img.Data) == 0
}

func (img *Image) Validate() error {
	if img.Empty() {
		return ErrNoImageData
	}
	if img.MIMEType == "" {
		return ErrNoMIMEType
	}
	return nil
}

// Clone returns a deep copy so callers can hand the bytes to concurrent
// consumers without sharing the backing array.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	return &Image{
		Data:     slices.Clone(img.Data),
		MIMEType: img.MIMEType,
	}
}

type GenerationRequest struct {
	Source *Image
	Prompt string
	Model  string
}

func NewGenerationRequest(source *Image, prompt string) *GenerationRequest {
	return &GenerationRequest{
		Source: source,
		Prompt: prompt,
	}
}

func (r *GenerationRequest) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

type EditRequest struct {
	Source      *Image
	Instruction string
	Prompt      string
	Model       string
}

func NewEditRequest(source *Image, instruction string) *EditRequest {
	return &EditRequest{
		Source:      source,
		Instruction: instruction,
	}
}

func (r *EditRequest) Validate() error {
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Instruction) == "" {
		return ErrEmptyInstruction
	}
	return nil
}

// TransformationOptions is the configuration bundle consumed by the prompt
// builder for one variant.
type TransformationOptions struct {
	Intensity     string
	Style         string
	Environment   string
	Filter        string
	ArtisticStyle string
}

// DefaultOptions returns the option bundle the app uses for every variant
// before the style is filled in.
func DefaultOptions(artisticStyle string) TransformationOptions {
	return TransformationOptions{
		Intensity:     "Authentic",
		Environment:   "Era-appropriate setting",
		Filter:        "Era-appropriate photographic style",
		ArtisticStyle: artisticStyle,
	}
}

func (o TransformationOptions) WithStyle(style string) TransformationOptions {
	o.Style = style
	return o
}
