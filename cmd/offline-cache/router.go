package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/lifecycle"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const controlPrefix = "/_offline-cache"

// message is what controlled pages post to the message endpoint.
type message struct {
	Type string `json:"type"`
}

// newRouter routes control requests to the control endpoints
// and everything else to the host.
func newRouter(host *lifecycle.Host, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))
	r.Use(extractTraceContext)

	r.Route(controlPrefix, func(r chi.Router) {
		r.Use(ownOriginOnly(host))
		r.Post("/message", handleMessage(host))
		r.Get("/status", handleStatus(host))
	})
	r.Handle("/*", host)
	return r
}

func extractTraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownOriginOnly hands proxy requests for other hosts, which merely share
// the control path, on to the host.
func ownOriginOnly(host http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.IsAbs() {
				host.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleMessage(host *lifecycle.Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}

		// a promotion must not be cut short by the client going away
		ctx := context.WithoutCancel(r.Context())
		err := host.Message(ctx, msg.Type)
		switch {
		case errors.Is(err, lifecycle.ErrNothingWaiting):
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, offlinecache.ErrUnknownMessage):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Msg("Could not handle message")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		writeStatus(w, r, host)
	}
}

func handleStatus(host *lifecycle.Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, host)
	}
}

func writeStatus(w http.ResponseWriter, r *http.Request, host *lifecycle.Host) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(host.Status()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write status")
	}
}
