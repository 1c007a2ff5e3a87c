// Package kvstore persists small opaque blobs (snapshot payloads and the order
// cache) so that a restarted process can resume from its last state.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrUnsupportedScheme is returned by Open for unknown store URLs.
	ErrUnsupportedScheme = errors.New("unsupported store scheme")
	// ErrInvalidURL is returned by Open for store URLs that do not parse.
	ErrInvalidURL = errors.New("invalid store url")
)

// Store is a minimal key/value contract shared by every backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open dispatches on the URL scheme:
//
//	memory://            in-process map
//	file:///var/lib/ob   one file per key
//	pebble:///var/lib/ob embedded pebble database
//	redis://host:6379/0  redis server
func Open(rawURL string) (Store, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return NewMemory(), nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	switch parsed.Scheme {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(pathOf(parsed))
	case "pebble":
		return NewPebble(pathOf(parsed))
	case "redis", "rediss":
		return NewRedis(rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

// pathOf accepts both file:///abs/dir and file://relative/dir.
func pathOf(u *url.URL) string {
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Path
}

// Memory is a concurrency-safe in-process store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
