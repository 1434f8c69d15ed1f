package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/timewarp-studio/timewarp/internal/provider"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

func (p *Provider) Story(ctx context.Context, req *models.StoryRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrStoryFailed, err)
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	model := firstNonEmpty(req.Model, p.textModel)
	resp, err := p.call(ctx, model, sourceParts(req.Source, req.Prompt), config)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrStoryFailed, err)
	}
	return responseText(resp), nil
}

func (p *Provider) Suggest(ctx context.Context, req *models.SuggestionRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrSuggestionFailed, err)
	}

	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	model := firstNonEmpty(req.Model, p.textModel)
	resp, err := p.call(ctx, model, sourceParts(req.Source, req.Prompt), config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrSuggestionFailed, err)
	}
	return parseSuggestions(responseText(resp), req.Limit), nil
}

// parseSuggestions reads a JSON array of strings, tolerating a markdown code
// fence around it. Anything else is split into lines with list markers
// stripped.
func parseSuggestions(text string, limit int) []string {
	text = stripCodeFence(text)
	if text == "" {
		return nil
	}

	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && (limit <= 0 || len(out) < limit) {
			out = append(out, s)
		}
	}

	if gjson.Valid(text) {
		res := gjson.Parse(text)
		if res.IsArray() {
			for _, item := range res.Array() {
				if item.Type == gjson.String {
					add(item.String())
				} else if v := item.Get("suggestion"); v.Exists() {
					add(v.String())
				}
			}
			return out
		}
	}

	for _, line := range strings.Split(text, "\n") {
		add(stripListMarker(line))
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func stripListMarker(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*• ")
	// "1." / "2)" style numbering
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		line = line[i+1:]
	}
	return strings.Trim(strings.TrimSpace(line), `"`)
}
