package profanity_test

import (
	"testing"

	"github.com/Tyrowin/gorelay/internal/profanity"
	"github.com/stretchr/testify/assert"
)

func TestWordsClean(t *testing.T) {
	f := profanity.NewWords([]string{"darn", "heck"}, "*")

	tests := []struct {
		in, want string
	}{
		{"what the heck", "what the ****"},
		{"DARN it", "**** it"},
		{"Heck, darn!", "****, ****!"},
		{"darning socks", "darning socks"},
		{"nothing to see", "nothing to see"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Clean(tt.in), "input %q", tt.in)
	}
}

func TestWordsPrefersLongestMatch(t *testing.T) {
	f := profanity.NewWords([]string{"fuck", "fucking"}, "#")
	assert.Equal(t, "####### hell", f.Clean("fucking hell"))
}

func TestWordsEmptyListIsIdentity(t *testing.T) {
	f := profanity.NewWords(nil, "")
	assert.Equal(t, "damn", f.Clean("damn"))
}

func TestStripHTML(t *testing.T) {
	f := profanity.StripHTML()
	assert.Equal(t, "hello", f.Clean("<b>hello</b><script>alert(1)</script>"))
}

func TestChain(t *testing.T) {
	f := profanity.Chain(profanity.StripHTML(), profanity.NewWords([]string{"heck"}, "*"))
	assert.Equal(t, "oh ****", f.Clean("<i>oh heck</i>"))
	assert.Equal(t, "plain", profanity.Chain().Clean("plain"))
}
