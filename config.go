package offlinecache

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

const (
	// DefaultScriptPath is the path of the worker script when not configured.
	DefaultScriptPath = "/sw.js"
	// DefaultOfflineDocument is the shell served to offline navigations when not configured.
	DefaultOfflineDocument = "index.html"
)

// Config is the process-wide configuration of one worker generation.
// It is built once at startup and not changed afterwards.
type Config struct {
	// Origin of the controlled pages, i.e. the worker's own origin.
	// Only scheme and host are used.
	Origin url.URL
	// Path of the worker script. Requests for it are never cached.
	ScriptPath string
	// Generation tag of this build. Both logical stores are named after it.
	Generation string
	// Identifiers (URLs or paths) to precache during install.
	// Relative identifiers are resolved against the origin root.
	Manifest []string
	// Document served to navigations when the network is unavailable.
	// It should be part of the manifest.
	OfflineDocument string
	// Hostnames, besides the own origin, whose images may be cached.
	AllowedHosts []string
	// Storage for all caches.
	Storage cache.Storage
	// Transport for network fetches. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Keep a freshly installed generation waiting until it receives
	// the skip-waiting message, instead of taking over right away.
	DisableSkipWaiting bool
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

func (c Config) validate() error {
	if c.Storage == nil {
		return errors.New("storage is required")
	}
	if c.Generation == "" {
		return errors.New("generation tag is required")
	}
	if c.Origin.Scheme == "" || c.Origin.Host == "" {
		return errors.New("origin must be an absolute URL")
	}
	return nil
}
