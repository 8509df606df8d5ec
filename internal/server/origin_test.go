package server

import (
	"net/http/httptest"
	"testing"

	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"HTTP://Example.com", "not a url", " "}, logging.Nop())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"normalized match", "http://example.com", true},
		{"case-insensitive", "http://EXAMPLE.com", true},
		{"other host", "http://evil.com", false},
		{"other scheme", "https://example.com", false},
		{"missing header", "", false},
		{"garbage", "::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.check(r))
		})
	}
	assert.Equal(t, []string{"http://example.com"}, p.corsOrigins())
}

func TestOriginPolicyWildcard(t *testing.T) {
	p := newOriginPolicy([]string{"*"}, logging.Nop())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.test")
	assert.True(t, p.check(r))
	assert.Equal(t, []string{"*"}, p.corsOrigins())
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient(nil, NewHub(nil), nil, "test", 1024, 3, nil)

	assert.True(t, c.Send([]byte(`{}`)))
	c.Close()
	c.Close()
	assert.False(t, c.Send([]byte(`{}`)))
}

func TestClientFullBufferCloses(t *testing.T) {
	c := NewClient(nil, NewHub(nil), nil, "test", 1024, 3, nil)

	for i := 0; i < sendBuffer; i++ {
		assert.True(t, c.Send([]byte(`{}`)))
	}
	assert.False(t, c.Send([]byte(`{}`)))
	assert.False(t, c.Send([]byte(`{}`)))
}
