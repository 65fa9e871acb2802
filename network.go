package offlinecache

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"

	"github.com/rs/zerolog"
)

// Headers that are not carried over to worker fetches.
var skipRequestHeaders = map[string]bool{
	// hop-by-hop
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,

	// the transport negotiates compression itself and hands on decoded bodies
	"Accept-Encoding": true,

	// responses must be complete to be stored
	"If-Match":            true,
	"If-None-Match":       true,
	"If-Modified-Since":   true,
	"If-Unmodified-Since": true,
	"If-Range":            true,
	"Range":               true,
}

// NewNetworkHandler returns the handler for requests that are not intercepted.
// It forwards them to wherever they are aimed at, as if no worker was installed.
func NewNetworkHandler(origin url.URL, transport http.RoundTripper, logger zerolog.Logger) http.Handler {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &httputil.ReverseProxy{
		Rewrite:   createRewrite(cachekey.NewCacheKeyer(origin)),
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Debug().Err(err).Str("method", r.Method).Str("url", r.URL.String()).Msg("Network request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// Forwarding headers are removed by the proxy before rewriting.
var forwardingHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

func createRewrite(keyer cachekey.CacheKeyer) func(pr *httputil.ProxyRequest) {
	return func(pr *httputil.ProxyRequest) {
		target := keyer.Target(pr.In)
		pr.Out.URL = target
		pr.Out.Host = target.Host
		// pass them on as they came in, without adding our own
		for _, name := range forwardingHeaders {
			if values, ok := pr.In.Header[name]; ok {
				pr.Out.Header[name] = values
			}
		}
	}
}

// newRequest builds the outgoing request for target, carrying over the headers
// of the intercepted request r (which may be nil).
// A bypassing request asks every cache on the way to revalidate.
func (w *Worker) newRequest(ctx context.Context, r *http.Request, target *url.URL, bypass bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if r != nil {
		copyHeader(req.Header, r.Header)
	}
	if bypass {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	return req, nil
}

// fetch performs a GET for target. Redirects are not followed.
// Any response the network produces is returned, regardless of its status.
func (w *Worker) fetch(ctx context.Context, r *http.Request, target *url.URL, bypass bool) (*http.Response, error) {
	req, err := w.newRequest(ctx, r, target, bypass)
	if err != nil {
		return nil, err
	}
	return w.client.Do(req)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if skipRequestHeaders[k] {
			continue
		}
		// forwarding headers set by a proxy in front of us are not ours to pass on
		if k == "X-Forwarded-For" || k == "X-Forwarded-Proto" || k == "X-Forwarded-Host" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
