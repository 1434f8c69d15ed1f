package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrAPIKeyRequired   = errors.New("API key is required")
	ErrGenerationFailed = errors.New("image generation failed")
	ErrEditFailed       = errors.New("image edit failed")
	ErrStoryFailed      = errors.New("story generation failed")
	ErrSuggestionFailed = errors.New("suggestion generation failed")
)

// Generator produces one image from a source image and a prompt. A nil image
// with a nil error means the call completed but the model returned no image.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.Image, error)
}

// Editor applies a magic edit. Same empty-result contract as Generator.
type Editor interface {
	Edit(ctx context.Context, req *models.EditRequest) (*models.Image, error)
}

// Storyteller writes a short story about the person in the image. An empty
// string with a nil error is the empty outcome.
type Storyteller interface {
	Story(ctx context.Context, req *models.StoryRequest) (string, error)
}

// Suggester proposes edit ideas. An empty slice with a nil error is the
// empty outcome.
type Suggester interface {
	Suggest(ctx context.Context, req *models.SuggestionRequest) ([]string, error)
}

// Provider is a backend offering every capability.
type Provider interface {
	Name() string
	Generator
	Editor
	Storyteller
	Suggester
}

type Config struct {
	APIKey            string
	BaseURL           string
	TimeoutSec        int
	ImageModel        string
	TextModel         string
	RequestsPerMinute int
}

type Constructor func(ctx context.Context, cfg *Config) (Provider, error)

// Factory maps provider names to constructors.
type Factory struct {
	constructors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

func (f *Factory) Register(name string, c Constructor) {
	f.constructors[strings.ToLower(name)] = c
}

func (f *Factory) Create(ctx context.Context, name string, cfg *Config) (Provider, error) {
	c, ok := f.constructors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return c(ctx, cfg)
}

func (f *Factory) ListProviders() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
