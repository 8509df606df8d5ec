// Package profanity provides the outbound text filters applied by the
// message router.
package profanity

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Filter transforms outbound text.
type Filter interface {
	Clean(text string) string
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(string) string

// Clean calls f(text).
func (f FilterFunc) Clean(text string) string { return f(text) }

// Identity returns text unchanged.
var Identity Filter = FilterFunc(func(s string) string { return s })

// DefaultWords is used when no word list is configured.
var DefaultWords = []string{
	"arse", "ass", "asshole", "bastard", "bitch", "bollocks",
	"crap", "damn", "dick", "fuck", "fucking", "piss", "shit", "wanker",
}

// Words masks whole-word, case-insensitive matches of a word list. Every
// rune of a match is replaced by the placeholder; everything else is left
// verbatim.
type Words struct {
	re          *regexp.Regexp
	placeholder string
}

// NewWords builds a Words filter. An empty list disables masking; an empty
// placeholder defaults to "*".
func NewWords(words []string, placeholder string) *Words {
	if placeholder == "" {
		placeholder = "*"
	}

	quoted := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	// longest first so "fucking" wins over "fuck"
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })

	f := &Words{placeholder: placeholder}
	if len(quoted) > 0 {
		f.re = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return f
}

// Clean implements Filter.
func (f *Words) Clean(text string) string {
	if f.re == nil || text == "" {
		return text
	}
	return f.re.ReplaceAllStringFunc(text, func(match string) string {
		return strings.Repeat(f.placeholder, utf8.RuneCountInString(match))
	})
}

// StripHTML removes all markup using bluemonday's strict policy.
func StripHTML() Filter {
	p := bluemonday.StrictPolicy()
	return FilterFunc(p.Sanitize)
}

// Chain applies filters in order.
func Chain(filters ...Filter) Filter {
	return FilterFunc(func(s string) string {
		for _, f := range filters {
			if f != nil {
				s = f.Clean(s)
			}
		}
		return s
	})
}
