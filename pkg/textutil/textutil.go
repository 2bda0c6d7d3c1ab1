// Package textutil cleans and tokenizes captions, comments and biographies.
package textutil

import (
	"html"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// Clean strips markup and decodes entities, collapsing whitespace.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	policyOnce.Do(func() { policy = bluemonday.StrictPolicy() })
	s = html.UnescapeString(policy.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize lower-cases text and splits it on anything that is not a letter, digit,
// apostrophe, '#' or '@'. Leading and trailing apostrophes are dropped.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '#' && r != '@' && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

var hashtagPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_&])#([\p{L}\p{N}_]+)`)

// Hashtags returns the lower-cased tags in s, without the '#', in order of first use.
func Hashtags(s string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range hashtagPattern.FindAllStringSubmatch(s, -1) {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// mentionPattern requires the '@' to start the text or follow a character that cannot
// be part of an email local-part, so "user@domain.co" never yields "domain.co".
var mentionPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_.@+\-])@([A-Za-z0-9_.]{1,30})`)

// Mentions returns the @handles in s, lower-cased, without the '@'.
func Mentions(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(s, -1) {
		h := strings.ToLower(strings.Trim(m[1], "."))
		if h == "" || seen[h] {
			continue
		}
		// "@domain.com" on its own is almost always an email fragment.
		if looksLikeDomain(h) {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

var tlds = []string{".com", ".co", ".net", ".org", ".io", ".me", ".uk", ".de", ".fr", ".ai"}

func looksLikeDomain(h string) bool {
	for _, t := range tlds {
		if strings.HasSuffix(h, t) && len(h) > len(t) {
			return true
		}
	}
	return false
}

// Slugify lower-cases s and keeps only letters and digits.
// "Astro Kobi!" becomes "astrokobi".
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
