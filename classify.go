package offlinecache

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
)

// Category is the class of an intercepted request.
// Each category is served by exactly one strategy.
type Category int

const (
	// Not handled at all, default networking applies.
	CategoryUnhandled Category = iota
	CategoryNavigation
	CategoryStatic
	CategoryImage
	CategoryPassthrough
)

func (c Category) String() string {
	switch c {
	case CategoryUnhandled:
		return "unhandled"
	case CategoryNavigation:
		return "navigation"
	case CategoryStatic:
		return "static"
	case CategoryImage:
		return "image"
	case CategoryPassthrough:
		return "passthrough"
	}
	return "unknown"
}

// HostAllowlist is the set of hostnames whose images may be cached.
type HostAllowlist struct {
	m map[string]struct{}
}

func NewHostAllowlist(hosts ...string) HostAllowlist {
	m := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		m[strings.ToLower(host)] = struct{}{}
	}
	return HostAllowlist{m}
}

func (h HostAllowlist) Has(host string) bool {
	_, ok := h.m[strings.ToLower(host)]
	return ok
}

var imagePathRegexp = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|gif|webp|svg)(\?.*)?$`)

type classifier struct {
	keyer      cachekey.CacheKeyer
	scriptPath string
	hosts      HostAllowlist
}

func newClassifier(keyer cachekey.CacheKeyer, scriptPath string, allowedHosts []string) classifier {
	// own origin is always allowed
	hosts := append([]string{keyer.Origin.Hostname()}, allowedHosts...)
	return classifier{
		keyer:      keyer,
		scriptPath: scriptPath,
		hosts:      NewHostAllowlist(hosts...),
	}
}

// classify assigns the request aimed at target to a category.
// The first matching category wins.
func (c classifier) classify(r *http.Request, target *url.URL) Category {
	if r.Method != http.MethodGet {
		return CategoryUnhandled
	}
	if isNavigation(r) {
		return CategoryNavigation
	}
	if c.keyer.SameOrigin(target) && target.Path != c.scriptPath {
		return CategoryStatic
	}
	if isImage(r, target) && c.hosts.Has(target.Hostname()) {
		return CategoryImage
	}
	return CategoryPassthrough
}

// isNavigation checks the fetch metadata mode, falling back to the Accept header
// for clients that do not send fetch metadata.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(accept, "text/html") {
			return true
		}
	}
	return false
}

func isImage(r *http.Request, target *url.URL) bool {
	if r.Header.Get("Sec-Fetch-Dest") == "image" {
		return true
	}
	path := target.EscapedPath()
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return imagePathRegexp.MatchString(path)
}
