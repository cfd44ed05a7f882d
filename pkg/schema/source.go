package schema

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
)

// DefaultMessage is the message type the data endpoint encodes.
const DefaultMessage = "userdata.DataResponse"

// maxSchemaBytes bounds a fetched schema definition.
const maxSchemaBytes = 1 << 20

//go:embed data.proto
var embeddedSchema []byte

// Source supplies the raw .proto text of the schema definition.
type Source interface {
	// Load returns the schema definition. It is called once per load attempt.
	Load(ctx context.Context) ([]byte, error)

	// Origin describes where the definition comes from, for logs and errors.
	Origin() string
}

// HTTPSource fetches the schema definition from a well-known URL.
type HTTPSource struct {
	URL       string
	Client    *http.Client
	UserAgent string
}

// Load performs a plain GET against URL.
func (s *HTTPSource) Load(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schema: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch schema: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read schema body: %w", err)
	}
	if len(data) > maxSchemaBytes {
		return nil, fmt.Errorf("schema exceeds %d bytes", maxSchemaBytes)
	}
	return data, nil
}

// Origin returns the schema URL.
func (s *HTTPSource) Origin() string {
	return s.URL
}

// StaticSource serves a schema definition held in memory.
type StaticSource struct {
	Name string
	Data []byte
}

// Load returns a copy of Data.
func (s *StaticSource) Load(context.Context) ([]byte, error) {
	return append([]byte(nil), s.Data...), nil
}

// Origin returns Name.
func (s *StaticSource) Origin() string {
	return s.Name
}

// EmbeddedSource returns the schema definition compiled into this package.
func EmbeddedSource() *StaticSource {
	return &StaticSource{Name: "embedded:data.proto", Data: embeddedSchema}
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Origin reports a generic name.
func (f SourceFunc) Origin() string {
	return "func"
}
