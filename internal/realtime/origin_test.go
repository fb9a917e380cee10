package realtime

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	frontendURL := "https://errify.example.com/feed"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		{"empty origin", "", false, true},
		{"frontend origin", "https://errify.example.com", false, true},

		{"different host", "https://evil.com", false, false},
		{"different port", "https://errify.example.com:9090", false, false},
		{"http instead of https", "http://errify.example.com", false, false},
		{"subdomain", "https://api.errify.example.com", false, false},

		{"localhost dev", "http://localhost:5173", true, true},
		{"127.0.0.1 dev", "http://127.0.0.1:3000", true, true},
		{"localhost prod rejected", "http://localhost:5173", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(frontendURL, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		rawURL string
		want   string
	}{
		{"https://example.com/feed", "https://example.com"},
		{"http://localhost:5173/", "http://localhost:5173"},
		{"", ""},
		{"not a url", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extractOrigin(tt.rawURL), tt.rawURL)
	}
}
