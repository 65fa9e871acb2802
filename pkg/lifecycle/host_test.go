package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	generation  string
	installErr  error
	activateErr error
	autoSkip    bool

	mu      sync.Mutex
	skip    bool
	events  *[]string
	retired int
}

func (w *fakeWorker) record(event string) {
	*w.events = append(*w.events, w.generation+" "+event)
}

func (w *fakeWorker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	fmt.Fprint(rw, w.generation)
}

func (w *fakeWorker) ID() string {
	return "worker-" + w.generation
}

func (w *fakeWorker) Generation() string {
	return w.generation
}

func (w *fakeWorker) Install(ctx context.Context) error {
	w.record("install")
	if w.installErr != nil {
		return w.installErr
	}
	if w.autoSkip {
		w.mu.Lock()
		w.skip = true
		w.mu.Unlock()
	}
	return nil
}

func (w *fakeWorker) Activate(ctx context.Context) error {
	w.record("activate")
	return w.activateErr
}

func (w *fakeWorker) SkipsWaiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skip
}

func (w *fakeWorker) Message(msg string) error {
	if msg != "SKIP_WAITING" {
		return errors.New("unknown message")
	}
	w.mu.Lock()
	w.skip = true
	w.mu.Unlock()
	return nil
}

func (w *fakeWorker) Retire() {
	w.record("retire")
	w.retired++
}

func newHost() *Host {
	network := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "network")
	})
	return NewHost(network, zerolog.Nop())
}

func get(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	b, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(b)
}

func TestNetworkWhenNothingActive(t *testing.T) {
	h := newHost()
	assert.Equal(t, "network", get(t, h))
	assert.Equal(t, Status{}, h.Status())
}

func TestFirstGenerationIsActivated(t *testing.T) {
	events := []string{}
	h := newHost()
	v1 := &fakeWorker{generation: "v1", events: &events}

	require.NoError(t, h.Register(t.Context(), v1))
	assert.Equal(t, []string{"v1 install", "v1 activate"}, events)
	assert.Equal(t, "v1", get(t, h))
	assert.Equal(t, Status{Active: "v1"}, h.Status())
}

func TestSkipWaitingGenerationTakesOver(t *testing.T) {
	events := []string{}
	h := newHost()
	v1 := &fakeWorker{generation: "v1", events: &events}
	v2 := &fakeWorker{generation: "v2", autoSkip: true, events: &events}

	require.NoError(t, h.Register(t.Context(), v1))
	require.NoError(t, h.Register(t.Context(), v2))
	assert.Equal(t, []string{
		"v1 install", "v1 activate",
		"v2 install", "v1 retire", "v2 activate",
	}, events)
	assert.Equal(t, "v2", get(t, h))
	assert.Nil(t, h.Waiting())
}

func TestWaitingGenerationNeedsMessage(t *testing.T) {
	events := []string{}
	h := newHost()
	v1 := &fakeWorker{generation: "v1", events: &events}
	v2 := &fakeWorker{generation: "v2", events: &events}

	require.NoError(t, h.Register(t.Context(), v1))
	require.NoError(t, h.Register(t.Context(), v2))
	assert.Equal(t, "v1", get(t, h))
	assert.Equal(t, Status{Active: "v1", Waiting: "v2"}, h.Status())

	assert.Error(t, h.Message(t.Context(), "CLAIM"))
	assert.Equal(t, "v1", get(t, h))

	require.NoError(t, h.Message(t.Context(), "SKIP_WAITING"))
	assert.Equal(t, "v2", get(t, h))
	assert.Equal(t, Status{Active: "v2"}, h.Status())
	assert.Equal(t, 1, v1.retired)
}

func TestMessageWithoutWaitingGeneration(t *testing.T) {
	h := newHost()
	assert.ErrorIs(t, h.Message(t.Context(), "SKIP_WAITING"), ErrNothingWaiting)
}

func TestFailedInstallKeepsActiveGeneration(t *testing.T) {
	events := []string{}
	h := newHost()
	installErr := errors.New("offline")
	v1 := &fakeWorker{generation: "v1", events: &events}
	v2 := &fakeWorker{generation: "v2", autoSkip: true, installErr: installErr, events: &events}

	require.NoError(t, h.Register(t.Context(), v1))
	err := h.Register(t.Context(), v2)
	assert.ErrorIs(t, err, installErr)
	assert.Equal(t, "v1", get(t, h))
	assert.Nil(t, h.Waiting())
	assert.NotContains(t, events, "v2 activate")
}

func TestFailedActivationStillPromotes(t *testing.T) {
	events := []string{}
	h := newHost()
	v1 := &fakeWorker{generation: "v1", activateErr: errors.New("sweep failed"), events: &events}

	require.NoError(t, h.Register(t.Context(), v1))
	assert.Equal(t, "v1", get(t, h))
}

func TestCloseRetiresGenerations(t *testing.T) {
	events := []string{}
	h := newHost()
	v1 := &fakeWorker{generation: "v1", events: &events}
	v2 := &fakeWorker{generation: "v2", events: &events}
	require.NoError(t, h.Register(t.Context(), v1))
	require.NoError(t, h.Register(t.Context(), v2))

	h.Close()
	assert.Equal(t, 1, v1.retired)
	assert.Equal(t, 1, v2.retired)
}
