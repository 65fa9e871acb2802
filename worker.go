package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/always-cache/offline-cache"

// MessageSkipWaiting tells a waiting generation to take over right away.
const MessageSkipWaiting = "SKIP_WAITING"

var (
	// ErrInstallFailed is returned when the precache could not be populated.
	ErrInstallFailed = errors.New("install failed")
	// ErrUnknownMessage is returned for messages the worker does not understand.
	ErrUnknownMessage = errors.New("unknown message")
)

// Worker is one generation of the caching layer.
// It is an http.Handler for all intercepted requests of the pages it controls.
type Worker struct {
	id          string
	registry    cache.Registry
	keyer       cachekey.CacheKeyer
	classifier  classifier
	manifest    []*url.URL
	offlineKey  string
	client      http.Client
	network     http.Handler
	log         zerolog.Logger
	tracer      trace.Tracer
	autoSkip    bool
	skipWaiting atomic.Bool
	lifetime    *lifetime
}

// CreateWorker creates the worker for the configured generation.
// Nothing is fetched or stored until Install is called.
func CreateWorker(config Config) (*Worker, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	id := uuid.NewString()
	// create a child logger and add defaults
	logger = logger.With().
		Str("generation", config.Generation).
		Str("worker", id).
		Logger()

	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = DefaultScriptPath
	}
	offlineDocument := config.OfflineDocument
	if offlineDocument == "" {
		offlineDocument = DefaultOfflineDocument
	}

	keyer := cachekey.NewCacheKeyer(config.Origin)
	offlineURL, err := keyer.Resolve(offlineDocument)
	if err != nil {
		return nil, fmt.Errorf("offline document %q: %w", offlineDocument, err)
	}
	manifest := make([]*url.URL, 0, len(config.Manifest))
	for _, entry := range config.Manifest {
		u, err := keyer.Resolve(entry)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		manifest = append(manifest, u)
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Worker{
		id:         id,
		registry:   cache.NewRegistry(config.Storage, config.Generation),
		keyer:      keyer,
		classifier: newClassifier(keyer, scriptPath, config.AllowedHosts),
		manifest:   manifest,
		offlineKey: keyer.Key(offlineURL),
		client: http.Client{
			Transport: transport,
			// do not follow redirects, they are handed on as they are
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		network:  NewNetworkHandler(config.Origin, transport, logger),
		log:      logger,
		tracer:   otel.Tracer(tracerName),
		autoSkip: !config.DisableSkipWaiting,
		lifetime: newLifetime(),
	}, nil
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Generation() string {
	return w.registry.Generation()
}

// Install populates the precache store with every manifest resource.
// Resources are fetched concurrently, bypassing intermediary caches.
// If any of them fails, the whole install fails and the generation must not
// be activated; entries written before the failure may remain.
func (w *Worker) Install(ctx context.Context) error {
	precache, err := w.registry.Precache(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	w.log.Info().Int("resources", len(w.manifest)).Msg("Installing")

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range w.manifest {
		g.Go(func() error {
			return w.precacheResource(gctx, precache, u)
		})
	}
	if err := g.Wait(); err != nil {
		w.log.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if w.autoSkip {
		w.SkipWaiting()
	}
	w.log.Info().Bool("skipWaiting", w.SkipsWaiting()).Msg("Installed")
	return nil
}

func (w *Worker) precacheResource(ctx context.Context, precache cache.Cache, u *url.URL) error {
	res, err := w.fetch(ctx, nil, u, true)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", u, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return fmt.Errorf("fetch %s: unexpected status %d", u, res.StatusCode)
	}
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return fmt.Errorf("read %s: %w", u, err)
	}
	key := w.keyer.Key(u)
	if err := precache.Put(ctx, key, b); err != nil {
		return fmt.Errorf("store %s: %w", u, err)
	}
	w.log.Trace().Str("key", key).Msg("Precached")
	return nil
}

// Activate destroys the stores of every other generation, leaving exactly
// the precache and runtime stores of this one.
// Taking control of open pages is done by the host, which routes requests
// to the worker right before activating it.
func (w *Worker) Activate(ctx context.Context) error {
	deleted, err := w.registry.Sweep(ctx)
	for _, name := range deleted {
		w.log.Debug().Str("cache", name).Msg("Deleted stale cache")
	}
	if err != nil {
		return fmt.Errorf("sweep caches: %w", err)
	}
	w.log.Info().Msg("Activated")
	return nil
}

// SkipWaiting marks the generation as ready to supersede the active one
// without waiting for controlled pages to go away.
func (w *Worker) SkipWaiting() {
	w.skipWaiting.Store(true)
}

func (w *Worker) SkipsWaiting() bool {
	return w.skipWaiting.Load()
}

// Message handles a control message sent by a controlled page.
func (w *Worker) Message(msg string) error {
	switch strings.TrimSpace(msg) {
	case MessageSkipWaiting:
		w.log.Debug().Msg("Received skip-waiting message")
		w.SkipWaiting()
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownMessage, msg)
}

// waitUntil runs the task in the background and extends the worker's
// lifetime until it completes (see Wait).
// It must only be called while serving a request.
func (w *Worker) waitUntil(task func()) {
	w.lifetime.extend()
	go func() {
		defer w.lifetime.done()
		task()
	}()
}

// Wait blocks until all requests being served and their background work,
// i.e. cache writes and revalidations, have finished.
// Requests may keep arriving while waiting.
func (w *Worker) Wait() {
	w.lifetime.wait()
}

// Retire stops the worker from handling requests and waits for the work in
// progress. Requests arriving afterwards go to the network untouched.
func (w *Worker) Retire() {
	w.lifetime.retire()
	w.log.Debug().Msg("Retired")
}

// ServeHTTP implements the http.Handler interface.
// It classifies the request and runs the strategy for its category.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.lifetime.admit() {
		w.log.Trace().Str("method", r.Method).Msg("Retired, not intercepting")
		w.network.ServeHTTP(rw, r)
		return
	}
	defer w.lifetime.done()

	target := w.keyer.Target(r)
	category := w.classifier.classify(r, target)
	if category == CategoryUnhandled {
		w.network.ServeHTTP(rw, r)
		cs := cachestatus.CacheStatus{}
		cs.Forward(cachestatus.FwdReasonMethod)
		logRequest(r, cs, w.log.With().Str("url", target.String()).Logger())
		return
	}

	ctx, span := w.tracer.Start(r.Context(), "offlinecache.intercept", trace.WithAttributes(
		attribute.String("offlinecache.generation", w.Generation()),
		attribute.String("offlinecache.category", category.String()),
		attribute.String("url.full", target.String()),
	))
	defer span.End()
	r = r.WithContext(ctx)

	logger := w.log.With().
		Str("category", category.String()).
		Str("url", target.String()).
		Logger()

	var cs cachestatus.CacheStatus
	switch category {
	case CategoryNavigation:
		cs = w.networkFirst(rw, r, target, logger)
	case CategoryStatic:
		cs = w.staleWhileRevalidate(rw, r, target, staticRevalidation, logger)
	case CategoryImage:
		cs = w.staleWhileRevalidate(rw, r, target, imageRevalidation, logger)
	default:
		cs = w.passthrough(rw, r, target, logger)
	}

	span.SetAttributes(
		attribute.String("offlinecache.cache_status", cs.String()),
		attribute.Bool("offlinecache.hit", cs.IsHit()),
	)
	logRequest(r, cs, logger)
}

func logRequest(r *http.Request, cs cachestatus.CacheStatus, log zerolog.Logger) {
	isHit := 0
	if cs.IsHit() {
		isHit = 1
	}
	log.Debug().
		Str("method", r.Method).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Int("fwdStatus", cs.FwdStatus).
		Bool("stored", cs.Stored).
		Str("detail", cs.Detail).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
