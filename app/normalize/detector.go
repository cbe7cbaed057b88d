package normalize

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Fallback when detection is inconclusive (very short or mixed-language
// text). Matches the dominant language of the configured feeds.
const defaultLanguage = "en"

// Detector identifies the language of article text. Detection is fully
// offline and deterministic, so a replayed record always gets the same code.
type Detector struct {
	detector lingua.LanguageDetector
}

func NewDetector() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(
			lingua.English, lingua.German, lingua.French, lingua.Spanish,
			lingua.Chinese, lingua.Russian, lingua.Italian, lingua.Portuguese,
			lingua.Dutch, lingua.Swedish, lingua.Danish, lingua.Finnish,
			lingua.Polish, lingua.Czech, lingua.Hungarian, lingua.Romanian,
		).
		Build()

	return &Detector{detector: detector}
}

// Detect returns the ISO 639-1 code of the text's language, or the default
// when no candidate language is confident enough.
func (d *Detector) Detect(text string) string {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return defaultLanguage
	}

	return strings.ToLower(lang.IsoCode639_1().String())
}
