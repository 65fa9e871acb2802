package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNothingWaiting is returned when a message is meant for a waiting generation
// but none is installed.
var ErrNothingWaiting = errors.New("no waiting generation")

// Worker is one generation of the caching layer as seen by the host.
type Worker interface {
	http.Handler
	ID() string
	Generation() string
	// Install prepares the generation. An error means it must not be activated.
	Install(ctx context.Context) error
	// Activate is called once the generation controls all requests.
	Activate(ctx context.Context) error
	// SkipsWaiting reports whether the generation wants to take over right away.
	SkipsWaiting() bool
	Message(msg string) error
	// Retire stops the generation from intercepting requests and blocks until
	// the requests it is serving and their background work have finished.
	Retire()
}

// Status describes the generations held by a host.
type Status struct {
	Active  string `json:"active,omitempty"`
	Waiting string `json:"waiting,omitempty"`
}

// Host runs worker generations the way a browser runs service workers.
// It holds at most one active and one waiting generation. All requests go to
// the active one, or to the network handler while none is active.
type Host struct {
	network http.Handler
	log     zerolog.Logger

	// serializes lifecycle transitions
	transition sync.Mutex
	mutex      sync.RWMutex
	active     Worker
	waiting    Worker
}

func NewHost(network http.Handler, logger zerolog.Logger) *Host {
	return &Host{
		network: network,
		log:     logger,
	}
}

// Register installs the worker and makes it the waiting generation.
// It is promoted right away if nothing is active or if it skips waiting.
// If the install fails, the currently active generation stays in control.
func (h *Host) Register(ctx context.Context, w Worker) error {
	h.transition.Lock()
	defer h.transition.Unlock()

	log := h.log.With().Str("generation", w.Generation()).Str("worker", w.ID()).Logger()
	if err := w.Install(ctx); err != nil {
		log.Error().Err(err).Msg("Could not install generation, keeping current one")
		return fmt.Errorf("register generation %s: %w", w.Generation(), err)
	}

	h.mutex.Lock()
	previous := h.waiting
	h.waiting = w
	hasActive := h.active != nil
	h.mutex.Unlock()
	if previous != nil {
		log.Debug().Str("replaced", previous.Generation()).Msg("Replacing waiting generation")
		previous.Retire()
	}

	if !hasActive || w.SkipsWaiting() {
		h.promote(ctx)
		return nil
	}
	log.Info().Msg("Generation installed, waiting")
	return nil
}

// Message hands a control message to the waiting generation and promotes it
// if the message made it skip waiting.
func (h *Host) Message(ctx context.Context, msg string) error {
	h.transition.Lock()
	defer h.transition.Unlock()

	h.mutex.RLock()
	waiting := h.waiting
	h.mutex.RUnlock()
	if waiting == nil {
		return ErrNothingWaiting
	}

	if err := waiting.Message(msg); err != nil {
		return err
	}
	if waiting.SkipsWaiting() {
		h.promote(ctx)
	}
	return nil
}

// promote makes the waiting generation the active one: it takes control of all
// requests, the previous generation is retired, then the new one is activated.
// Must be called with the transition lock held.
func (h *Host) promote(ctx context.Context) {
	h.mutex.Lock()
	previous := h.active
	next := h.waiting
	h.active = next
	h.waiting = nil
	h.mutex.Unlock()
	if next == nil {
		return
	}

	log := h.log.With().Str("generation", next.Generation()).Str("worker", next.ID()).Logger()
	if previous != nil {
		log.Debug().Str("previous", previous.Generation()).Msg("Retiring previous generation")
		previous.Retire()
	}
	// a failed sweep leaves stale caches behind but does not stop the generation
	if err := next.Activate(ctx); err != nil {
		log.Error().Err(err).Msg("Activation incomplete")
	}
	log.Info().Msg("Generation in control")
}

func (h *Host) Active() Worker {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.active
}

func (h *Host) Waiting() Worker {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.waiting
}

func (h *Host) Status() Status {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	status := Status{}
	if h.active != nil {
		status.Active = h.active.Generation()
	}
	if h.waiting != nil {
		status.Waiting = h.waiting.Generation()
	}
	return status
}

// ServeHTTP implements the http.Handler interface.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if active := h.Active(); active != nil {
		active.ServeHTTP(w, r)
		return
	}
	h.network.ServeHTTP(w, r)
}

// Close retires all generations, waiting for their work in progress.
func (h *Host) Close() {
	h.mutex.RLock()
	active, waiting := h.active, h.waiting
	h.mutex.RUnlock()
	if active != nil {
		active.Retire()
	}
	if waiting != nil {
		waiting.Retire()
	}
}
