package content

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

// PromptPhrases are the localized building blocks of every model prompt.
type PromptPhrases struct {
	Title                    string   `yaml:"title"`
	Objective                string   `yaml:"objective"`
	CoreObjective            string   `yaml:"core_objective"`
	HistoricalContext        string   `yaml:"historical_context"`
	Era                      string   `yaml:"era"`
	Period                   string   `yaml:"period"`
	Description              string   `yaml:"description"`
	TransformationParameters string   `yaml:"transformation_parameters"`
	Style                    string   `yaml:"style"`
	Intensity                string   `yaml:"intensity"`
	ArtisticStyle            string   `yaml:"artistic_style"`
	Clothing                 string   `yaml:"clothing"`
	Hairstyles               string   `yaml:"hairstyles"`
	Accessories              string   `yaml:"accessories"`
	Environment              string   `yaml:"environment"`
	PhotographicStyle        string   `yaml:"photographic_style"`
	Pose                     string   `yaml:"pose"`
	PoseSuffix               string   `yaml:"pose_suffix"`
	StrictInstructions       string   `yaml:"strict_instructions"`
	Instructions             []string `yaml:"instructions"`
	ImageOnly                string   `yaml:"image_only"`
	Edit                     string   `yaml:"edit"`
	Story                    string   `yaml:"story"`
	Suggestions              string   `yaml:"suggestions"`
}

// Messages are the user-facing strings. Anything technical stays in logs.
type Messages struct {
	LimitReached      string `yaml:"limit_reached"`
	NoImage           string `yaml:"no_image"`
	Unknown           string `yaml:"unknown"`
	RemainingOne      string `yaml:"remaining_one"`
	RemainingOther    string `yaml:"remaining_other"`
	NotImage          string `yaml:"not_image"`
	TooLarge          string `yaml:"too_large"`
	ReadError         string `yaml:"read_error"`
	Complete          string `yaml:"complete"`
	Arrived           string `yaml:"arrived"`
	EditFailed        string `yaml:"edit_failed"`
	StoryFailed       string `yaml:"story_failed"`
	SuggestionsFailed string `yaml:"suggestions_failed"`
}

func (m Messages) LimitReachedFor(limit int) string {
	return fmt.Sprintf(m.LimitReached, limit)
}

// RemainingFor returns the "N transformation(s) left today" line.
func (m Messages) RemainingFor(n int) string {
	if n == 1 {
		return fmt.Sprintf(m.RemainingOne, n)
	}
	return fmt.Sprintf(m.RemainingOther, n)
}

func (m Messages) ArrivedAt(eraName string) string {
	return fmt.Sprintf(m.Arrived, eraName)
}

type Phrases struct {
	Prompt   PromptPhrases `yaml:"prompt"`
	Messages Messages      `yaml:"messages"`
}

// PhraseBook holds the phrases for every supported language.
type PhraseBook map[models.Language]*Phrases

// For returns the phrases for lang, falling back to English.
func (b PhraseBook) For(lang models.Language) *Phrases {
	if p, ok := b[lang]; ok && p != nil {
		return p
	}
	if p, ok := b[models.LangEnglish]; ok && p != nil {
		return p
	}
	return &Phrases{}
}

func ParsePhrases(data []byte) (PhraseBook, error) {
	var book PhraseBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("failed to parse phrases: %w", err)
	}
	for lang, p := range book {
		if !lang.IsValid() {
			return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidPhrase, lang)
		}
		if p == nil || p.Prompt.Title == "" || p.Messages.Unknown == "" {
			return nil, fmt.Errorf("%w: %s is incomplete", ErrInvalidPhrase, lang)
		}
	}
	return book, nil
}
