package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/always-cache/offline-cache/cache"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

// networkFirst serves navigations: fresh from the network when possible, with a
// copy kept in the runtime store, and the precached offline document otherwise.
func (w *Worker) networkFirst(rw http.ResponseWriter, r *http.Request, target *url.URL, log zerolog.Logger) cachestatus.CacheStatus {
	cs := cachestatus.CacheStatus{}
	ctx := r.Context()

	res, err := w.fetch(ctx, r, target, true)
	if err != nil {
		log.Debug().Err(err).Msg("Network unavailable, looking for offline document")
		if precache, ok := w.openStore(ctx, w.registry.Precache, log); ok {
			if stored := w.match(ctx, precache, w.offlineKey, r, log); stored != nil {
				cs.Hit()
				cs.Detail = cachestatus.DetailOfflineFallback
				w.sendStored(rw, stored, cs, log)
				return cs
			}
		}
		cs.Forward(cachestatus.FwdReasonMiss)
		return sendNetworkError(rw, cs)
	}

	cs.Forward(cachestatus.FwdReasonRequest)
	cs.FwdStatus = res.StatusCode
	cs.Stored = true
	// set cache-status on underlying rw only (i.e. do not save to cache)
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	rwtee := tee.NewResponseSaver(rw)
	if err := send(rwtee, res); err != nil {
		log.Warn().Err(err).Msg("Incomplete network response, not storing")
		return cs
	}
	if err := rwtee.ClientError(); err != nil {
		log.Debug().Err(err).Int64("bytes", rwtee.BodyLength()).Msg("Client went away, storing response anyway")
	}

	key := w.keyer.Key(target)
	bg := context.WithoutCancel(ctx)
	w.waitUntil(func() {
		if runtime, ok := w.openStore(bg, w.registry.Runtime, log); ok {
			w.put(bg, runtime, key, rwtee.Response(), log)
		}
	})
	return cs
}

// revalidation holds what differs between the stale-while-revalidate categories.
type revalidation struct {
	// storable reports whether a network response may replace the stored one.
	storable func(*http.Response) bool
	// fallback answers when neither the cache nor the network produced a response.
	fallback func(http.ResponseWriter, cachestatus.CacheStatus) cachestatus.CacheStatus
}

// Same-origin responses include redirects, which are handed on unfollowed.
var staticRevalidation = revalidation{
	storable: func(res *http.Response) bool {
		return res.StatusCode == http.StatusOK || isOpaqueRedirect(res)
	},
	fallback: sendGatewayTimeout,
}

var imageRevalidation = revalidation{
	storable: func(res *http.Response) bool {
		return res.StatusCode == http.StatusOK
	},
	fallback: sendNetworkError,
}

type fetchResult struct {
	res    *http.Response
	stored bool
	err    error
}

// staleWhileRevalidate answers from the runtime store right away if it can,
// while the network fetch refreshes the stored copy in the background.
// Without a stored copy it waits for the network.
func (w *Worker) staleWhileRevalidate(rw http.ResponseWriter, r *http.Request, target *url.URL, policy revalidation, log zerolog.Logger) cachestatus.CacheStatus {
	cs := cachestatus.CacheStatus{}
	ctx := r.Context()
	key := w.keyer.Key(target)
	runtime, haveRuntime := w.openStore(ctx, w.registry.Runtime, log)

	// the revalidation outlives the request
	bg := context.WithoutCancel(ctx)
	fetched := make(chan fetchResult, 1)
	req, err := w.newRequest(bg, r, target, false)
	if err != nil {
		fetched <- fetchResult{err: err}
	} else {
		w.waitUntil(func() {
			res, err := w.client.Do(req)
			if err != nil {
				fetched <- fetchResult{err: err}
				return
			}
			b, err := serializer.ResponseToBytes(res)
			if err != nil {
				fetched <- fetchResult{err: err}
				return
			}
			storable := haveRuntime && policy.storable(res)
			fetched <- fetchResult{res: res, stored: storable}
			if storable {
				w.put(bg, runtime, key, b, log)
			} else {
				log.Trace().Int("status", res.StatusCode).Msg("Not storing network response")
			}
		})
	}

	if haveRuntime {
		if stored := w.match(ctx, runtime, key, r, log); stored != nil {
			cs.Hit()
			w.sendStored(rw, stored, cs, log)
			return cs
		}
	}

	cs.Forward(cachestatus.FwdReasonUriMiss)
	var result fetchResult
	select {
	case result = <-fetched:
	case <-ctx.Done():
		log.Debug().Err(ctx.Err()).Msg("Request abandoned before network response")
		return cs
	}
	if result.err != nil {
		log.Debug().Err(result.err).Msg("Network unavailable and nothing stored")
		return policy.fallback(rw, cs)
	}
	cs.FwdStatus = result.res.StatusCode
	cs.Stored = result.stored
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	if err := send(rw, result.res); err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
	return cs
}

// passthrough serves everything else straight from the network, falling back to
// a copy that other strategies happened to store in the runtime store.
func (w *Worker) passthrough(rw http.ResponseWriter, r *http.Request, target *url.URL, log zerolog.Logger) cachestatus.CacheStatus {
	cs := cachestatus.CacheStatus{}
	ctx := r.Context()
	cs.Forward(cachestatus.FwdReasonBypass)

	res, err := w.fetch(ctx, r, target, false)
	if err == nil {
		cs.FwdStatus = res.StatusCode
		rw.Header().Set(cachestatus.HeaderName, cs.String())
		if err := send(rw, res); err != nil {
			log.Error().Err(err).Msg("Could not write response body to client")
		}
		return cs
	}

	log.Debug().Err(err).Msg("Network unavailable, looking for stored copy")
	if runtime, ok := w.openStore(ctx, w.registry.Runtime, log); ok {
		if stored := w.match(ctx, runtime, w.keyer.Key(target), r, log); stored != nil {
			cs = cachestatus.CacheStatus{Detail: cachestatus.DetailOfflineFallback}
			cs.Hit()
			w.sendStored(rw, stored, cs, log)
			return cs
		}
	}
	return sendNetworkError(rw, cs)
}

// openStore opens one of the generation's stores.
// Failures are logged, the caller carries on without the store.
func (w *Worker) openStore(ctx context.Context, open func(context.Context) (cache.Cache, error), log zerolog.Logger) (cache.Cache, bool) {
	c, err := open(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open cache")
		return c, false
	}
	return c, true
}

// match looks up the key and parses the stored response.
// Lookup errors and corrupted entries count as a miss.
func (w *Worker) match(ctx context.Context, c cache.Cache, key string, r *http.Request, log zerolog.Logger) *http.Response {
	b, ok, err := c.Match(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("cache", c.Name()).Str("key", key).Msg("Could not read from cache")
		return nil
	}
	if !ok {
		log.Trace().Str("cache", c.Name()).Str("key", key).Msg("Cache miss")
		return nil
	}
	res, err := serializer.BytesToResponse(b, r)
	if err != nil {
		log.Error().Err(err).Str("cache", c.Name()).Str("key", key).Msg("Could not read stored response")
		return nil
	}
	return res
}

// put writes to the cache on a best-effort basis: failures are logged only.
func (w *Worker) put(ctx context.Context, c cache.Cache, key string, b []byte, log zerolog.Logger) {
	if err := c.Put(ctx, key, b); err != nil {
		log.Warn().Err(err).Str("cache", c.Name()).Str("key", key).Msg("Could not write to cache")
		return
	}
	log.Trace().Str("cache", c.Name()).Str("key", key).Msg("Cache write")
}

func (w *Worker) sendStored(rw http.ResponseWriter, res *http.Response, cs cachestatus.CacheStatus, log zerolog.Logger) {
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	if err := send(rw, res); err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// sendNetworkError answers with the generic network error.
func sendNetworkError(rw http.ResponseWriter, cs cachestatus.CacheStatus) cachestatus.CacheStatus {
	cs.Detail = cachestatus.DetailNetworkError
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	rw.WriteHeader(http.StatusBadGateway)
	return cs
}

func sendGatewayTimeout(rw http.ResponseWriter, cs cachestatus.CacheStatus) cachestatus.CacheStatus {
	cs.Detail = cachestatus.DetailGatewayTimeout
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	http.Error(rw, http.StatusText(http.StatusGatewayTimeout), http.StatusGatewayTimeout)
	return cs
}

func send(w http.ResponseWriter, res *http.Response) error {
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	_, err := io.Copy(w, res.Body)
	return err
}

// isOpaqueRedirect reports whether the response is a redirect the client did not follow.
func isOpaqueRedirect(res *http.Response) bool {
	return isRedirect(res.StatusCode)
}

func isRedirect(statusCode int) bool {
	if statusCode == 301 ||
		statusCode == 302 ||
		statusCode == 303 ||
		statusCode == 307 ||
		statusCode == 308 {
		return true
	}
	return false
}
