package filter

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/skyfeed/internal/repo"
)

// MinAlternatingSpan is the shortest run of alternating-case letters that
// qualifies a word.
const MinAlternatingSpan = 7

var (
	urlPattern     = regexp.MustCompile(`https?://\S+|www\.\S+|[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}/\S+`)
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{M}\p{N}_]+`)
)

const macroPrefix = "macro:"

// AlternatingCase accepts posts written in alternating case ("sPoNgEbOb"
// text), ignoring URLs, hashtags and macro-generated posts.
type AlternatingCase struct{}

// Include reports whether post's text is alternating case.
func (AlternatingCase) Include(post *repo.Post, _ repo.Candidate) (bool, error) {
	return IsAlternatingCase(post.Text), nil
}

// IsAlternatingCase reports whether any whitespace-separated word of text
// contains at least MinAlternatingSpan letters in strictly alternating
// case. Text beginning with "macro:" never matches.
func IsAlternatingCase(text string) bool {
	text = norm.NFC.String(text)
	if strings.HasPrefix(strings.ToLower(text), macroPrefix) {
		return false
	}

	text = urlPattern.ReplaceAllString(text, "")
	text = hashtagPattern.ReplaceAllString(text, "")

	for _, word := range strings.Fields(text) {
		if alternatingSpan(word, true) || alternatingSpan(word, false) {
			return true
		}
	}
	return false
}

// alternatingSpan scans word for a qualifying run whose first letter is
// lower case when lowerFirst is set, upper case otherwise. Non-letters
// reset the run. A letter that breaks alternation starts a new run of one
// if it has the starting case.
func alternatingSpan(word string, lowerFirst bool) bool {
	span := 0
	for _, r := range word {
		if !unicode.IsLetter(r) {
			span = 0
			continue
		}
		expectLower := (span%2 == 0) == lowerFirst
		if hasCase(r, expectLower) {
			span++
			if span >= MinAlternatingSpan {
				return true
			}
			continue
		}
		if hasCase(r, lowerFirst) {
			span = 1
		} else {
			span = 0
		}
	}
	return false
}

func hasCase(r rune, lower bool) bool {
	if lower {
		return unicode.IsLower(r)
	}
	return unicode.IsUpper(r)
}
