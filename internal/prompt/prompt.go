// Package prompt turns an era, a style and the option bundle into the text
// instructions sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/timewarp-studio/timewarp/internal/content"
	"github.com/timewarp-studio/timewarp/pkg/models"
)

// Builder is pure: the same inputs always produce the same prompt.
type Builder struct {
	phrases content.PhraseBook
}

func New(phrases content.PhraseBook) *Builder {
	return &Builder{phrases: phrases}
}

// Build returns the transformation prompt for one variant. The style
// argument overrides opts.Style when set.
func (b *Builder) Build(era *models.Era, style string, opts models.TransformationOptions, lang models.Language) string {
	p := b.phrases.For(lang).Prompt
	if style == "" {
		style = opts.Style
	}
	name := era.DisplayName(lang)
	period := era.DisplayPeriod(lang)

	var sb strings.Builder
	sb.WriteString(p.Title)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "%s %s (%s).\n\n", p.Objective, name, period)
	sb.WriteString(p.CoreObjective)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "**%s:**\n", p.HistoricalContext)
	line(&sb, p.Era, name)
	line(&sb, p.Period, period)
	line(&sb, p.Description, era.DisplayDescription(lang))
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "**%s:**\n", p.TransformationParameters)
	line(&sb, p.Style, style)
	line(&sb, p.Intensity, opts.Intensity)
	line(&sb, p.ArtisticStyle, opts.ArtisticStyle)
	fmt.Fprintf(&sb, "- %s %s.\n", p.Clothing, style)
	fmt.Fprintf(&sb, "- %s\n", p.Hairstyles)
	fmt.Fprintf(&sb, "- %s\n", p.Accessories)
	if opts.Environment != "" {
		fmt.Fprintf(&sb, "- %s %s.\n", p.Environment, opts.Environment)
	}
	if opts.Filter != "" {
		fmt.Fprintf(&sb, "- %s %s.\n", p.PhotographicStyle, opts.Filter)
	}
	pose := strings.TrimSpace(p.Pose + " " + name + " " + p.PoseSuffix)
	fmt.Fprintf(&sb, "- %s.\n\n", pose)

	fmt.Fprintf(&sb, "**%s:**\n", p.StrictInstructions)
	for i, instr := range p.Instructions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, instr)
	}
	sb.WriteString("\n")
	sb.WriteString(p.ImageOnly)

	return sb.String()
}

// EditPrompt wraps a free-form magic edit instruction.
func (b *Builder) EditPrompt(instruction string, lang models.Language) string {
	p := b.phrases.For(lang).Prompt
	return fmt.Sprintf("%s\n%s\n\n%s", p.Edit, strings.TrimSpace(instruction), p.ImageOnly)
}

func (b *Builder) StoryPrompt(era *models.Era, lang models.Language) string {
	p := b.phrases.For(lang).Prompt
	return p.Story + "\n\n" + b.eraContext(era, lang)
}

func (b *Builder) SuggestionPrompt(era *models.Era, limit int, lang models.Language) string {
	p := b.phrases.For(lang).Prompt
	return fmt.Sprintf(p.Suggestions, limit) + "\n\n" + b.eraContext(era, lang)
}

func (b *Builder) eraContext(era *models.Era, lang models.Language) string {
	p := b.phrases.For(lang).Prompt

	var sb strings.Builder
	line(&sb, p.Era, era.DisplayName(lang))
	line(&sb, p.Period, era.DisplayPeriod(lang))
	line(&sb, p.Description, era.DisplayDescription(lang))
	return strings.TrimRight(sb.String(), "\n")
}

// line writes a "- **label:** value" bullet, skipping empty values.
func line(sb *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "- **%s:** %s\n", label, value)
}
