package textutil

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// detectable is the set of languages seen in the sampled audiences. Restricting the
// set keeps model memory small.
var detectable = []lingua.Language{
	lingua.English,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.French,
	lingua.German,
	lingua.Italian,
	lingua.Indonesian,
	lingua.Turkish,
}

// DetectLanguage returns the ISO 639-1 code of s, or "" when the text is too short or
// ambiguous.
func DetectLanguage(s string) string {
	sample := strings.TrimSpace(s)
	letters := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < 6 {
		return ""
	}

	lang, ok := getDetector().DetectLanguageOf(sample)
	if !ok {
		return ""
	}
	code := strings.ToLower(lang.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(detectable...).
			Build()
	})
	return detector
}
