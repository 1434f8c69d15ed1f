package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

var (
	ErrEraNotFound   = errors.New("era not found")
	ErrDuplicateEra  = errors.New("duplicate era id")
	ErrInvalidEra    = errors.New("invalid era")
	ErrNoPhrases     = errors.New("no English phrases in phrase book")
	ErrInvalidPhrase = errors.New("invalid phrase book")
)

//go:embed eras.yaml
var embeddedEras []byte

//go:embed phrases.yaml
var embeddedPhrases []byte

type eraFile struct {
	Eras []eraDoc `yaml:"eras"`
}

type eraDoc struct {
	ID          string               `yaml:"id"`
	Theme       string               `yaml:"theme"`
	Category    models.Localized     `yaml:"category"`
	Name        models.Localized     `yaml:"name"`
	Period      models.Localized     `yaml:"period"`
	Description models.Localized     `yaml:"description"`
	Styles      models.LocalizedList `yaml:"styles"`
}

func (d eraDoc) toEra() *models.Era {
	return &models.Era{
		ID:          d.ID,
		Name:        d.Name,
		Period:      d.Period,
		Description: d.Description,
		Category:    d.Category,
		StyleList:   d.Styles,
		Theme:       d.Theme,
	}
}

// Catalog is the read-only content pack: eras plus localized phrases.
type Catalog struct {
	eras    []*models.Era
	index   map[string]*models.Era
	phrases PhraseBook
}

// CategoryGroup is a named group of eras in catalog order.
type CategoryGroup struct {
	Name string
	Eras []*models.Era
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	eras, err := ParseEras(embeddedEras)
	if err != nil {
		return nil, fmt.Errorf("embedded eras: %w", err)
	}
	phrases, err := ParsePhrases(embeddedPhrases)
	if err != nil {
		return nil, fmt.Errorf("embedded phrases: %w", err)
	}
	return New(eras, phrases)
}

// LoadFile returns a catalog whose eras come from the YAML file at path and
// whose phrases are the embedded ones.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read eras file: %w", err)
	}
	eras, err := ParseEras(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	phrases, err := ParsePhrases(embeddedPhrases)
	if err != nil {
		return nil, fmt.Errorf("embedded phrases: %w", err)
	}
	return New(eras, phrases)
}

// Load picks LoadFile when path is set and Default otherwise.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return LoadFile(path)
}

func ParseEras(data []byte) ([]*models.Era, error) {
	var f eraFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse eras: %w", err)
	}

	eras := make([]*models.Era, 0, len(f.Eras))
	for i, d := range f.Eras {
		if strings.TrimSpace(d.ID) == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrInvalidEra, i+1)
		}
		if d.Name.Get(models.LangEnglish) == "" {
			return nil, fmt.Errorf("%w: %s has no English name", ErrInvalidEra, d.ID)
		}
		eras = append(eras, d.toEra())
	}
	return eras, nil
}

func New(eras []*models.Era, phrases PhraseBook) (*Catalog, error) {
	if _, ok := phrases[models.LangEnglish]; !ok {
		return nil, ErrNoPhrases
	}

	c := &Catalog{
		eras:    eras,
		index:   make(map[string]*models.Era, len(eras)),
		phrases: phrases,
	}
	for _, era := range eras {
		if _, dup := c.index[era.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEra, era.ID)
		}
		c.index[era.ID] = era
	}
	return c, nil
}

// Eras returns all eras in catalog order.
func (c *Catalog) Eras() []*models.Era {
	out := make([]*models.Era, len(c.eras))
	copy(out, c.eras)
	return out
}

func (c *Catalog) Era(id string) (*models.Era, error) {
	era, ok := c.index[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEraNotFound, id)
	}
	return era, nil
}

func (c *Catalog) Phrases() PhraseBook {
	return c.phrases
}

func (c *Catalog) Messages(lang models.Language) Messages {
	return c.phrases.For(lang).Messages
}

// Categories groups the eras by their localized category, keeping the order
// in which each category first appears.
func (c *Catalog) Categories(lang models.Language) []CategoryGroup {
	var groups []CategoryGroup
	pos := make(map[string]int)

	for _, era := range c.eras {
		name := era.DisplayCategory(lang)
		i, ok := pos[name]
		if !ok {
			i = len(groups)
			pos[name] = i
			groups = append(groups, CategoryGroup{Name: name})
		}
		groups[i].Eras = append(groups[i].Eras, era)
	}
	return groups
}
