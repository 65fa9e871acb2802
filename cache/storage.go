package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNoSuchCache is returned when writing to a cache that was never opened
// or that has been deleted.
var ErrNoSuchCache = errors.New("no such cache")

// Storage is the key-value store backing all named caches.
// It holds any number of named caches, each of them mapping request keys
// to serialized HTTP responses.
// Only the Registry talks to a Storage directly; everything else goes
// through a Cache handle obtained from the registry.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open creates the named cache if it does not exist yet.
	Open(ctx context.Context, name string) error
	// Names returns the names of all existing caches.
	Names(ctx context.Context) ([]string, error)
	// Delete destroys the named cache along with all its entries.
	// The boolean is false if there was no such cache.
	Delete(ctx context.Context, name string) (bool, error)
	// Match returns the entry stored under key in the named cache.
	// The boolean is false if there is no such entry (or no such cache).
	Match(ctx context.Context, name, key string) (Entry, bool, error)
	// Put stores the entry in the named cache, replacing any previous entry
	// with the same key. Concurrent writers to a key are not ordered:
	// the last write wins.
	Put(ctx context.Context, name string, entry Entry) error
	// Keys calls the given callback for each key in the named cache.
	Keys(ctx context.Context, name string, cb func(string)) error
}

// Entry is a single stored response.
type Entry struct {
	// Request key, i.e. the absolute request URL.
	Key string
	// Time of the write.
	StoredAt time.Time
	// HTTP/1.1 representation of the response.
	Bytes []byte
}
