package cachekey

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// CacheKeyer maps intercepted requests to the absolute URLs they target
// and derives cache keys from those URLs.
type CacheKeyer struct {
	// Origin of the controlled pages, i.e. the worker's own origin.
	Origin url.URL
	// Root all relative identifiers are resolved against.
	scope *url.URL
}

func NewCacheKeyer(origin url.URL) CacheKeyer {
	return CacheKeyer{
		Origin: origin,
		scope: &url.URL{
			Scheme: origin.Scheme,
			Host:   origin.Host,
			Path:   "/",
		},
	}
}

// Target returns the absolute URL the request is aimed at.
// Requests in absolute form (i.e. proxy requests) are aimed at the URL as given,
// requests in origin form are aimed at the worker's own origin.
func (c CacheKeyer) Target(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return c.scope.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

// Resolve resolves a possibly relative identifier, such as a manifest entry.
func (c CacheKeyer) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.scope.ResolveReference(u), nil
}

// Key returns the cache key for the URL.
// It is the absolute URL without fragment.
func (c CacheKeyer) Key(u *url.URL) string {
	k := *u
	k.Fragment = ""
	k.RawFragment = ""
	return k.String()
}

// SameOrigin reports whether the URL shares scheme, host and port with the worker origin.
func (c CacheKeyer) SameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.Origin.Scheme) &&
		hostPort(u) == hostPort(&c.Origin)
}

// hostPort returns the lowercased host with an explicit port.
func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	return net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}
