package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSmartPriority(t *testing.T) {
	tests := []struct {
		name string
		url  string
		base float64
		want float64
	}{
		{"about boost", "https://acme.test/about", 0.5, 0.75},
		{"company boost", "https://acme.test/company/history", 0.5, 0.75},
		{"products boost", "https://acme.test/products/widgets", 0.5, 0.7},
		{"contact boost", "https://acme.test/contact", 0.6, 0.75},
		{"careers boost", "https://acme.test/careers", 0.5, 0.6},
		{"blog boost", "https://acme.test/blog", 0.5, 0.55},
		{"first match only", "https://acme.test/about/contact", 0.5, 0.75},
		{"no boost", "https://acme.test/pricing", 0.6, 0.6},
		{"depth penalty", "https://acme.test/a/b/c/d", 0.6, 0.5},
		{"depth penalty capped", "https://acme.test/a/b/c/d/e/f/g", 0.5, 0.3},
		{"clamped high", "https://acme.test/about", 0.9, 1.0},
		{"clamped low", "https://acme.test/a/b/c/d/e/f", 0.2, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SmartPriority(tt.url, tt.base), 1e-9)
		})
	}
}
