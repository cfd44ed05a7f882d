// Package testutil provides testing utilities for the userdata client.
package testutil

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/Sternrassler/userdata-client/pkg/codec"
	"github.com/Sternrassler/userdata-client/pkg/dataset"
	"github.com/Sternrassler/userdata-client/pkg/schema"
)

// Paths served by MockDataServer.
const (
	DataPath   = "/data"
	SchemaPath = "/data.proto"
)

// DefaultETag is the entity tag served until SetSnapshot changes it.
const DefaultETag = `"v1"`

// SampleSnapshot returns a small snapshot with one user.
func SampleSnapshot() *dataset.Snapshot {
	return &dataset.Snapshot{
		Users: []dataset.UserRecord{
			{ID: 1, Name: "Ana", Email: "a@x.com", Age: 30, City: "Lima"},
		},
		Total:     1,
		Timestamp: "2024-01-01T00:00:00Z",
	}
}

// MockDataServer is a configurable user data server for testing.
//
// It serves the snapshot on DataPath in the format negotiated by Accept and
// the schema definition on SchemaPath. A request is answered with 304 when
// If-None-Match equals the current ETag or If-Modified-Since equals the
// snapshot timestamp.
type MockDataServer struct {
	server *httptest.Server
	handle *schema.Handle

	mu         sync.RWMutex
	handlers   map[string]http.HandlerFunc
	snapshot   *dataset.Snapshot
	etag       string
	schemaText []byte
	encoding   string
	delays     map[codec.Format]time.Duration
	failStatus int
	failBody   string
	mangle     func(codec.Format, []byte) []byte
	omitValid  bool

	// Tracking
	requestCount       int
	schemaRequestCount int
	conditionalCount   int
	notModifiedCount   int
	requestHeaders     []http.Header
}

// NewMockDataServer starts a server publishing SampleSnapshot.
func NewMockDataServer() *MockDataServer {
	h, err := schema.NewRegistry(schema.EmbeddedSource(), schema.DefaultMessage).Resolve(context.Background())
	if err != nil {
		panic("testutil: embedded schema: " + err.Error())
	}

	mock := &MockDataServer{
		handle:     h,
		handlers:   make(map[string]http.HandlerFunc),
		snapshot:   SampleSnapshot(),
		etag:       DefaultETag,
		schemaText: schema.EmbeddedSource().Data,
		delays:     make(map[codec.Format]time.Duration),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		switch r.URL.Path {
		case DataPath:
			mock.serveData(w, r)
		case SchemaPath:
			mock.serveSchema(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockDataServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockDataServer) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a specific path.
func (m *MockDataServer) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetSnapshot replaces the served snapshot and its entity tag.
func (m *MockDataServer) SetSnapshot(snap *dataset.Snapshot, etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = snap
	m.etag = etag
}

// SetSchema replaces the definition served on SchemaPath.
func (m *MockDataServer) SetSchema(text []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaText = text
}

// SetDelay delays responses for format by d.
func (m *MockDataServer) SetDelay(format codec.Format, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[format] = d
}

// SetEncoding compresses data responses with "gzip" or "zstd". Any other
// non-empty value is sent as Content-Encoding with an uncompressed body.
func (m *MockDataServer) SetEncoding(encoding string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encoding = encoding
}

// SetFailure makes DataPath answer with status and body. Validators are
// still sent. A status of 0 restores normal responses.
func (m *MockDataServer) SetFailure(status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
	m.failBody = body
}

// SetMangle rewrites encoded payloads before they are sent.
func (m *MockDataServer) SetMangle(fn func(codec.Format, []byte) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mangle = fn
}

// OmitValidators stops ETag and Last-Modified from being sent.
func (m *MockDataServer) OmitValidators(omit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitValid = omit
}

// Reset clears all tracking counters.
func (m *MockDataServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.schemaRequestCount = 0
	m.conditionalCount = 0
	m.notModifiedCount = 0
	m.requestHeaders = nil
}

// RequestCount returns the number of data requests.
func (m *MockDataServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// SchemaRequestCount returns the number of schema requests.
func (m *MockDataServer) SchemaRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schemaRequestCount
}

// ConditionalCount returns the number of data requests carrying a
// non-empty precondition.
func (m *MockDataServer) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// NotModifiedCount returns the number of 304 responses sent.
func (m *MockDataServer) NotModifiedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notModifiedCount
}

// LastRequestHeader returns the headers of the latest data request.
func (m *MockDataServer) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requestHeaders) == 0 {
		return nil
	}
	return m.requestHeaders[len(m.requestHeaders)-1]
}

// RequestHeaders returns the headers of every data request in arrival order.
func (m *MockDataServer) RequestHeaders() []http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]http.Header(nil), m.requestHeaders...)
}

func (m *MockDataServer) serveSchema(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.schemaRequestCount++
	text := m.schemaText
	m.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(text)
}

func (m *MockDataServer) serveData(w http.ResponseWriter, r *http.Request) {
	format := negotiate(r.Header.Get("Accept"))

	m.mu.Lock()
	m.requestCount++
	m.requestHeaders = append(m.requestHeaders, r.Header.Clone())
	ifNoneMatch := r.Header.Get("If-None-Match")
	ifModifiedSince := r.Header.Get("If-Modified-Since")
	if ifNoneMatch != "" || ifModifiedSince != "" {
		m.conditionalCount++
	}
	snap := m.snapshot
	etag := m.etag
	delay := m.delays[format]
	encoding := m.encoding
	failStatus, failBody := m.failStatus, m.failBody
	mangle := m.mangle
	omit := m.omitValid
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if !omit {
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		if snap.Timestamp != "" {
			w.Header().Set("Last-Modified", snap.Timestamp)
		}
	}

	if failStatus != 0 {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(failStatus)
		_, _ = w.Write([]byte(failBody))
		return
	}

	if (ifNoneMatch != "" && ifNoneMatch == etag) ||
		(ifModifiedSince != "" && ifModifiedSince == snap.Timestamp) {
		m.mu.Lock()
		m.notModifiedCount++
		m.mu.Unlock()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	body, err := codec.Encode(snap, format, m.handle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if mangle != nil {
		body = mangle(format, body)
	}

	body, err = compress(encoding, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if encoding != "" {
		w.Header().Set("Content-Encoding", encoding)
	}

	w.Header().Set("Content-Type", format.MediaType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// negotiate picks the first supported media type from accept and falls back
// to JSON.
func negotiate(accept string) codec.Format {
	for _, part := range strings.Split(accept, ",") {
		if f, err := codec.ParseFormat(part); err == nil {
			return f
		}
	}
	return codec.StructuredText
}

func compress(encoding string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case "zstd":
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		return body, nil
	}
	return buf.Bytes(), nil
}
