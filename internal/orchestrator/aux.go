package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/timewarp-studio/timewarp/internal/logging"
	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

// DefaultSuggestionLimit is how many edit ideas Suggestions asks for.
const DefaultSuggestionLimit = 4

type AuxPromptBuilder interface {
	EditPrompt(instruction string, lang models.Language) string
	StoryPrompt(era *models.Era, lang models.Language) string
	SuggestionPrompt(era *models.Era, limit int, lang models.Language) string
}

type AuxDeps struct {
	Editor      provider.Editor
	Storyteller provider.Storyteller
	Suggester   provider.Suggester
	Prompts     AuxPromptBuilder
	Stamper     Stamper
}

// Aux runs the features layered on top of a delivered image. None of them
// read or write the usage ledger.
type Aux struct {
	deps            AuxDeps
	log             logrus.FieldLogger
	suggestionLimit int
}

type AuxOption func(*Aux)

func WithAuxLogger(log logrus.FieldLogger) AuxOption {
	return func(a *Aux) {
		if log != nil {
			a.log = log
		}
	}
}

func WithSuggestionLimit(n int) AuxOption {
	return func(a *Aux) {
		if n >= 1 {
			a.suggestionLimit = n
		}
	}
}

func NewAux(deps AuxDeps, opts ...AuxOption) *Aux {
	a := &Aux{
		deps:            deps,
		log:             logging.Log,
		suggestionLimit: DefaultSuggestionLimit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MagicEdit applies a free-form instruction to a raw image and watermarks
// the edited copy.
func (a *Aux) MagicEdit(ctx context.Context, raw *models.Image, instruction string, lang models.Language) (*Result, error) {
	req := models.NewEditRequest(raw, instruction)
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Prompt = a.deps.Prompts.EditPrompt(instruction, lang)
	log := a.log.WithField("feature", FeatureMagicEdit)

	img, err := a.deps.Editor.Edit(ctx, req)
	if err != nil {
		logging.Event(log, "EDIT_ERROR").WithError(err).Error("magic edit failed")
		return nil, &AuxError{Feature: FeatureMagicEdit, Kind: KindUnknown, Err: err}
	}
	if img.Empty() {
		logging.Event(log, "EDIT_NO_IMAGE").Warn("magic edit returned no image")
		return nil, &AuxError{Feature: FeatureMagicEdit, Kind: KindNoImage, Err: ErrNoImageProduced}
	}

	stamped, err := a.deps.Stamper.Stamp(img)
	if err != nil {
		logging.Event(log, "WATERMARK_ERROR").WithError(err).Error("edited image could not be watermarked")
		return nil, &AuxError{Feature: FeatureMagicEdit, Kind: KindUnknown, Err: err}
	}

	logging.Event(log, "EDIT_SUCCESS").WithField("instruction", instruction).Info("magic edit complete")
	return &Result{Style: instruction, Raw: img, Watermarked: stamped}, nil
}

// Story writes a short narrative about the person in raw living in era.
func (a *Aux) Story(ctx context.Context, raw *models.Image, era *models.Era, lang models.Language) (string, error) {
	req := models.NewStoryRequest(raw, era, lang)
	if era != nil {
		req.Prompt = a.deps.Prompts.StoryPrompt(era, lang)
	}
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	log := a.log.WithFields(logrus.Fields{"feature": FeatureStory, "era": era.ID})

	story, err := a.deps.Storyteller.Story(ctx, req)
	if err != nil {
		logging.Event(log, "STORY_ERROR").WithError(err).Error("story generation failed")
		return "", &AuxError{Feature: FeatureStory, Kind: KindUnknown, Err: err}
	}
	story = strings.TrimSpace(story)
	if story == "" {
		logging.Event(log, "STORY_EMPTY").Warn("story generation returned no text")
		return "", &AuxError{Feature: FeatureStory, Kind: KindNoImage, Err: provider.ErrStoryFailed}
	}
	return story, nil
}

// Suggestions proposes edit ideas suited to era, at most the configured limit.
func (a *Aux) Suggestions(ctx context.Context, raw *models.Image, era *models.Era, lang models.Language) ([]string, error) {
	req := models.NewSuggestionRequest(raw, era, lang)
	req.Limit = a.suggestionLimit
	if era != nil {
		req.Prompt = a.deps.Prompts.SuggestionPrompt(era, req.Limit, lang)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	log := a.log.WithFields(logrus.Fields{"feature": FeatureSuggestions, "era": era.ID})

	ideas, err := a.deps.Suggester.Suggest(ctx, req)
	if err != nil {
		logging.Event(log, "SUGGESTIONS_ERROR").WithError(err).Error("suggestion generation failed")
		return nil, &AuxError{Feature: FeatureSuggestions, Kind: KindUnknown, Err: err}
	}

	out := make([]string, 0, len(ideas))
	for _, idea := range ideas {
		if idea = strings.TrimSpace(idea); idea != "" {
			out = append(out, idea)
		}
		if len(out) == req.Limit {
			break
		}
	}
	if len(out) == 0 {
		logging.Event(log, "SUGGESTIONS_EMPTY").Warn("suggestion generation returned nothing")
		return nil, &AuxError{Feature: FeatureSuggestions, Kind: KindNoImage, Err: provider.ErrSuggestionFailed}
	}
	return out, nil
}
