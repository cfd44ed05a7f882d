// Package validators holds the cache-validation tokens observed on data
// responses and turns them into conditional-request preconditions.
package validators

import (
	"net/http"
	"sync"
)

// Header names used for conditional requests.
const (
	HeaderETag            = "ETag"
	HeaderLastModified    = "Last-Modified"
	HeaderIfNoneMatch     = "If-None-Match"
	HeaderIfModifiedSince = "If-Modified-Since"
)

// Validators are the most recently observed validation tokens.
// Both values are opaque and passed back to the server verbatim.
type Validators struct {
	// ETag from the last response that carried one ("" until then)
	ETag string

	// LastModified from the last response that carried one ("" until then)
	LastModified string
}

// IsZero reports whether no validator has been observed yet.
func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Store keeps the validators for one client instance.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current Validators
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Current returns a copy of the stored validators.
func (s *Store) Current() Validators {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Observe records ETag and Last-Modified from response headers.
//
// A header that is absent or empty leaves the stored value untouched;
// stored values are only ever overwritten, never cleared. Observe returns
// the validators in effect afterwards.
func (s *Store) Observe(h http.Header) Validators {
	etag := h.Get(HeaderETag)
	lastModified := h.Get(HeaderLastModified)

	s.mu.Lock()
	defer s.mu.Unlock()

	if etag != "" && etag != s.current.ETag {
		s.current.ETag = etag
		ValidatorUpdates.WithLabelValues("etag").Inc()
	}
	if lastModified != "" && lastModified != s.current.LastModified {
		s.current.LastModified = lastModified
		ValidatorUpdates.WithLabelValues("last_modified").Inc()
	}
	return s.current
}

// Apply sets both precondition headers on req. Missing validators are sent
// as empty strings rather than omitted.
func Apply(req *http.Request, v Validators) {
	if req == nil {
		return
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	req.Header.Set(HeaderIfNoneMatch, v.ETag)
	req.Header.Set(HeaderIfModifiedSince, v.LastModified)

	if !v.IsZero() {
		ConditionalRequestsSent.Inc()
	}
}
