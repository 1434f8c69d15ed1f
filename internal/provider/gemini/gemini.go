// Package gemini implements the provider ports on top of the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/timewarp-studio/timewarp/internal/logging"
	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

const (
	Name              = "gemini"
	DefaultImageModel = "gemini-2.5-flash-image-preview"
	DefaultTextModel  = "gemini-2.5-flash"
	defaultTimeout    = 120 * time.Second
)

type Provider struct {
	client     *genai.Client
	imageModel string
	textModel  string
	limiter    *rate.Limiter
	log        logrus.FieldLogger
}

type Option func(*Provider)

func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

func New(ctx context.Context, cfg *provider.Config, opts ...Option) (*Provider, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	p := &Provider{
		client:     client,
		imageModel: firstNonEmpty(cfg.ImageModel, DefaultImageModel),
		textModel:  firstNonEmpty(cfg.TextModel, DefaultTextModel),
		log:        logging.Log,
	}
	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Constructor adapts New to provider.Factory.
func Constructor(ctx context.Context, cfg *provider.Config) (provider.Provider, error) {
	p, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() string {
	return Name
}

// call issues one GenerateContent request. There is no retry here; retry
// policy belongs to the caller.
func (p *Provider) call(ctx context.Context, model string, parts []*genai.Part, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	p.logRequest(model, parts)

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		logging.Event(p.log, "GEMINI_ERROR").WithFields(logrus.Fields{
			"model":    model,
			"duration": time.Since(start).Round(time.Millisecond),
		}).WithError(err).Debug("request failed")
		return nil, err
	}

	p.logResponse(model, resp, time.Since(start))
	return resp, nil
}

func (p *Provider) logRequest(model string, parts []*genai.Part) {
	fields := logrus.Fields{"model": model}
	for _, part := range parts {
		switch {
		case part.InlineData != nil:
			fields["image_mime"] = part.InlineData.MIMEType
			fields["image_size"] = humanize.Bytes(uint64(len(part.InlineData.Data)))
		case part.Text != "":
			fields["prompt_chars"] = len(part.Text)
		}
	}
	logging.Event(p.log, "GEMINI_REQUEST").WithFields(fields).Debug("sending request")
}

func (p *Provider) logResponse(model string, resp *genai.GenerateContentResponse, took time.Duration) {
	fields := logrus.Fields{
		"model":      model,
		"candidates": len(resp.Candidates),
		"duration":   took.Round(time.Millisecond),
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		fields["finish_reason"] = string(resp.Candidates[0].FinishReason)
	}
	if img := firstImage(resp); img != nil {
		fields["image_size"] = humanize.Bytes(uint64(len(img.Data)))
	}
	logging.Event(p.log, "GEMINI_RESPONSE").WithFields(fields).Debug("received response")
}

func sourceParts(src *models.Image, prompt string) []*genai.Part {
	return []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: src.MIMEType, Data: src.Data}},
		genai.NewPartFromText(prompt),
	}
}

func candidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return nil
	}
	return c.Content.Parts
}

// firstImage returns the first inline image of the first candidate.
func firstImage(resp *genai.GenerateContentResponse) *models.Image {
	for _, part := range candidateParts(resp) {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &models.Image{Data: part.InlineData.Data, MIMEType: mime}
		}
	}
	return nil
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	var texts []string
	for _, part := range candidateParts(resp) {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return strings.TrimSpace(strings.Join(texts, ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
