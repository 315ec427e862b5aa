package discovery

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://acme.test", BaseURL("acme.test"))
	assert.Equal(t, "https://acme.test", BaseURL(" acme.test/ "))
	assert.Equal(t, "http://127.0.0.1:8080", BaseURL("http://127.0.0.1:8080/"))
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "acme.co.uk", RegistrableDomain("shop.acme.co.uk"))
	assert.Equal(t, "acme.com", RegistrableDomain("WWW.Acme.com"))
	assert.Equal(t, "127.0.0.1", RegistrableDomain("127.0.0.1"))
	assert.Equal(t, "localhost", RegistrableDomain("localhost"))
}

func TestTitleFromURL(t *testing.T) {
	tests := map[string]string{
		"https://acme.test/":                     "Home",
		"https://acme.test/index.html":           "Home",
		"https://acme.test/about-us":             "About Us",
		"https://acme.test/news/q3_results.html": "Q3 Results",
		"https://acme.test/careers/":             "Careers",
	}
	for in, want := range tests {
		assert.Equal(t, want, TitleFromURL(in), in)
	}
}

func TestResolveLink(t *testing.T) {
	base, err := url.Parse("https://www.acme.test/company/")
	require.NoError(t, err)

	got, ok := resolveLink(base, "team#leaders", "acme.test")
	assert.True(t, ok)
	assert.Equal(t, "https://www.acme.test/company/team", got)

	got, ok = resolveLink(base, "https://blog.acme.test/post", "acme.test")
	assert.True(t, ok)
	assert.Equal(t, "https://blog.acme.test/post", got)

	for _, href := range []string{"", "#top", "mailto:x@acme.test", "tel:123", "javascript:void(0)", "https://other.test/", "/img/logo.svg", "ftp://acme.test/file"} {
		_, ok := resolveLink(base, href, "acme.test")
		assert.False(t, ok, href)
	}
}

func TestPathSegments(t *testing.T) {
	assert.Empty(t, PathSegments("/"))
	assert.Equal(t, []string{"a", "b"}, PathSegments("/a//b/"))
}
