package cachestatus

import (
	"fmt"
	"strings"
)

// HeaderName is the response header carrying the cache status.
const HeaderName = "Cache-Status"

// CacheName identifies this cache in the Cache-Status header.
const CacheName = "OfflineCache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The request's semantics did not allow the use of a stored response.
	FwdReasonRequest FwdReason = "request"
)

// Details used by this cache.
const (
	DetailOfflineFallback = "offline-fallback"
	DetailNetworkError    = "network-error"
	DetailGatewayTimeout  = "gateway-timeout"
)

// CacheStatus describes how a single response was produced.
type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Status code of the forwarded response, if any.
	FwdStatus int
	// Whether the forwarded response is (being) stored.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response was served from a cache.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

// String formats the status as a Cache-Status header value.
func (cs CacheStatus) String() string {
	parts := []string{CacheName}
	switch cs.Status {
	case StatusHit:
		parts = append(parts, string(StatusHit))
	case StatusFwd:
		parts = append(parts, fmt.Sprintf("fwd=%s", cs.FwdReason))
		if cs.FwdStatus != 0 {
			parts = append(parts, fmt.Sprintf("fwd-status=%d", cs.FwdStatus))
		}
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}
