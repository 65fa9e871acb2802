package offlinecache

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	origin, _ := url.Parse("https://app.test")
	keyer := cachekey.NewCacheKeyer(*origin)
	c := newClassifier(keyer, "/sw.js", []string{"images.test"})

	request := func(method, target string, headers ...string) *http.Request {
		r := httptest.NewRequest(method, target, nil)
		for i := 0; i+1 < len(headers); i += 2 {
			r.Header.Set(headers[i], headers[i+1])
		}
		return r
	}

	tests := []struct {
		name     string
		req      *http.Request
		expected Category
	}{
		{"post is unhandled", request("POST", "/api/items"), CategoryUnhandled},
		{"post navigation is unhandled", request("POST", "/form", "Sec-Fetch-Mode", "navigate"), CategoryUnhandled},
		{"head is unhandled", request("HEAD", "/app.css"), CategoryUnhandled},
		{"navigate mode", request("GET", "/", "Sec-Fetch-Mode", "navigate"), CategoryNavigation},
		{"accepts html", request("GET", "/about", "Accept", "text/html,application/xhtml+xml"), CategoryNavigation},
		{"external navigation", request("GET", "https://other.test/", "Sec-Fetch-Mode", "navigate"), CategoryNavigation},
		{"same origin asset", request("GET", "/app.css"), CategoryStatic},
		{"same origin image", request("GET", "/logo.png"), CategoryStatic},
		{"worker script", request("GET", "/sw.js"), CategoryPassthrough},
		{"worker script with query", request("GET", "/sw.js?v=3"), CategoryPassthrough},
		{"allowed image by extension", request("GET", "https://images.test/cat.PNG"), CategoryImage},
		{"allowed image with query", request("GET", "https://images.test/cat.webp?w=200"), CategoryImage},
		{"allowed image by destination", request("GET", "https://images.test/avatar", "Sec-Fetch-Dest", "image"), CategoryImage},
		{"allowed host non image", request("GET", "https://images.test/data.json"), CategoryPassthrough},
		{"unknown host image", request("GET", "https://tracker.test/pixel.gif"), CategoryPassthrough},
		{"unknown host destination image", request("GET", "https://tracker.test/p", "Sec-Fetch-Dest", "image"), CategoryPassthrough},
		{"own hostname other port image", request("GET", "https://app.test:8443/icon.svg"), CategoryImage},
		{"external script", request("GET", "https://cdn.test/lib.js"), CategoryPassthrough},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := keyer.Target(tt.req)
			assert.Equal(t, tt.expected, c.classify(tt.req, target))
		})
	}
}

func TestHostAllowlistIsCaseInsensitive(t *testing.T) {
	hosts := NewHostAllowlist("Images.Test")
	assert.True(t, hosts.Has("images.test"))
	assert.False(t, hosts.Has("other.test"))
}
