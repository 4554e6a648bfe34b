package media

import (
	"errors"
	"reflect"
	"sync"
)

var errHolderClosed = errors.New("media: holder closed")

// Holder keeps the display source of one field, the way a mounted image
// preview does. Setting a different value releases the previous source and
// Close releases the last one.
type Holder struct {
	resolver *Resolver

	mu     sync.Mutex
	value  any
	key    string
	handle *Handle
	closed bool
}

func NewHolder(r *Resolver) *Holder {
	return &Holder{resolver: r}
}

// Set resolves value and returns its URL. Setting the same value and key
// again reuses the current source.
func (h *Holder) Set(value any, cacheKey string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", errHolderClosed
	}
	if h.handle != nil && sameValue(h.value, value) && h.key == cacheKey {
		return h.handle.URL(), nil
	}

	next, err := h.resolver.Resolve(value, cacheKey)
	if err != nil {
		return "", err
	}
	prev := h.handle
	h.value, h.key, h.handle = value, cacheKey, next
	if prev != nil {
		if err := prev.Release(); err != nil {
			h.resolver.Logger.Warn().Err(err).Msg("release previous media source")
		}
	}
	return next.URL(), nil
}

// URL returns the current display URL, empty when nothing is held.
func (h *Holder) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handle.URL()
}

// Close releases the held source. The holder cannot be used afterwards.
func (h *Holder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	handle := h.handle
	h.handle, h.value = nil, nil
	return handle.Release()
}

// sameValue compares strings by content and blobs by identity.
func sameValue(a, b any) bool {
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		return ok && sa == sb
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Pointer && vb.Kind() == reflect.Pointer {
		return va.Pointer() == vb.Pointer()
	}
	return false
}
