package orchestrator

import (
	"errors"
	"fmt"

	"github.com/timewarp-studio/timewarp/internal/content"
)

var (
	ErrNoImageProduced = errors.New("no image produced")
	ErrAbandoned       = errors.New("transformation abandoned")
	ErrAllStampsFailed = errors.New("every image failed watermarking")
	ErrInvalidRequest  = errors.New("invalid transformation request")
)

// Kind is the user-facing failure category.
type Kind int

const (
	KindNone Kind = iota
	KindLimitReached
	KindNoImage
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindLimitReached:
		return "limit_reached"
	case KindNoImage:
		return "no_image"
	case KindUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// Failure is returned by Transform for the user-facing failure categories.
// Err carries the technical cause and is never shown to users.
type Failure struct {
	Kind  Kind
	Err   error
	Limit int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage returns the localized category text.
func (f *Failure) UserMessage(m content.Messages) string {
	switch f.Kind {
	case KindLimitReached:
		return m.LimitReachedFor(f.Limit)
	case KindNoImage:
		return m.NoImage
	default:
		return m.Unknown
	}
}

type Feature string

const (
	FeatureMagicEdit   Feature = "magic_edit"
	FeatureStory       Feature = "story"
	FeatureSuggestions Feature = "suggestions"
)

// AuxError is the failure of an auxiliary feature. It never affects a
// transformation session or the usage ledger.
type AuxError struct {
	Feature Feature
	Kind    Kind
	Err     error
}

func (e *AuxError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Feature, e.Kind, e.Err)
}

func (e *AuxError) Unwrap() error {
	return e.Err
}

func (e *AuxError) UserMessage(m content.Messages) string {
	switch e.Feature {
	case FeatureMagicEdit:
		return m.EditFailed
	case FeatureStory:
		return m.StoryFailed
	case FeatureSuggestions:
		return m.SuggestionsFailed
	default:
		return m.Unknown
	}
}
