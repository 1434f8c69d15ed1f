package content

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/timewarp-studio/timewarp/pkg/models"
)

var supportedTags = []language.Tag{
	language.English,
	language.French,
}

var matcher = language.NewMatcher(supportedTags)

// MatchLanguage resolves a user supplied tag such as "fr-CA" or an
// Accept-Language style list to a supported language. Anything unparseable
// resolves to English.
func MatchLanguage(tag string) models.Language {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return models.LangEnglish
	}

	tags, _, err := language.ParseAcceptLanguage(tag)
	if err != nil || len(tags) == 0 {
		return models.LangEnglish
	}

	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return models.LangEnglish
	}
	base, _ := supportedTags[idx].Base()
	return models.Language(base.String())
}
