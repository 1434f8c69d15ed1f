package gemini

import (
	"context"
	"fmt"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/timewarp-studio/timewarp/internal/logging"
	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

func imageConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage), string(genai.ModalityText)},
	}
}

func (p *Provider) Generate(ctx context.Context, req *models.GenerationRequest) (*models.Image, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrGenerationFailed, err)
	}

	model := firstNonEmpty(req.Model, p.imageModel)
	resp, err := p.call(ctx, model, sourceParts(req.Source, req.Prompt), imageConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrGenerationFailed, err)
	}

	img := firstImage(resp)
	if img == nil {
		logging.Event(p.log, "GEMINI_NO_IMAGE").WithField("text", truncate(responseText(resp), 200)).
			Debug("response did not contain an image")
	}
	return img, nil
}

func (p *Provider) Edit(ctx context.Context, req *models.EditRequest) (*models.Image, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEditFailed, err)
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = req.Instruction
	}

	model := firstNonEmpty(req.Model, p.imageModel)
	resp, err := p.call(ctx, model, sourceParts(req.Source, prompt), imageConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrEditFailed, err)
	}
	return firstImage(resp), nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
