package models

// Localized holds one string per language.
type Localized map[Language]string

// LocalizedList holds one list per language.
type LocalizedList map[Language][]string

// Get returns the entry for lang, falling back to English.
func (l Localized) Get(lang Language) string {
	if s, ok := l[lang]; ok && s != "" {
		return s
	}
	return l[LangEnglish]
}

// Get returns the list for lang, falling back to English only when lang has
// no entry at all. An explicitly empty list is returned as is.
func (l LocalizedList) Get(lang Language) []string {
	if v, ok := l[lang]; ok {
		return v
	}
	return l[LangEnglish]
}

// Era is a read-only descriptor of a transformation target supplied by the
// content layer.
type Era struct {
	ID          string
	Name        Localized
	Period      Localized
	Description Localized
	Category    Localized
	StyleList   LocalizedList
	Theme       string
}

func (e *Era) DisplayName(lang Language) string {
	return e.Name.Get(lang)
}

func (e *Era) DisplayPeriod(lang Language) string {
	return e.Period.Get(lang)
}

func (e *Era) DisplayDescription(lang Language) string {
	return e.Description.Get(lang)
}

func (e *Era) DisplayCategory(lang Language) string {
	return e.Category.Get(lang)
}

// Styles returns a copy of the era's style options for lang.
func (e *Era) Styles(lang Language) []string {
	src := e.StyleList.Get(lang)
	out := make([]string, len(src))
	copy(out, src)
	return out
}
