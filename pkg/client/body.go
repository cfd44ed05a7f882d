package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/Sternrassler/userdata-client/pkg/codec"
)

// acceptEncoding is advertised when compression is enabled. Setting it
// ourselves disables the transport's transparent gzip handling, so every
// listed encoding must be decoded in readBody.
const acceptEncoding = "zstd, gzip"

// countingReader counts bytes read from the wire and remembers the first
// read error so transport failures can be told apart from corrupt data.
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && c.err == nil {
		c.err = err
	}
	return n, err
}

// readBody returns the decoded response body and the number of bytes
// received on the wire.
func readBody(resp *http.Response, format codec.Format, limit int64) ([]byte, int64, error) {
	wire := &countingReader{r: resp.Body}

	var r io.Reader = wire
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(wire)
		if err != nil {
			return nil, wire.n, bodyError(wire, format, fmt.Errorf("open gzip stream: %w", err))
		}
		defer zr.Close()
		r = zr
	case "zstd":
		zr, err := zstd.NewReader(wire, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, wire.n, bodyError(wire, format, fmt.Errorf("open zstd stream: %w", err))
		}
		defer zr.Close()
		r = zr
	default:
		return nil, 0, &codec.DecodeError{
			Format: format,
			Err:    fmt.Errorf("unsupported content encoding %q", encoding),
		}
	}

	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, wire.n, bodyError(wire, format, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, wire.n, &codec.DecodeError{
			Format: format,
			Err:    fmt.Errorf("body exceeds %d bytes", limit),
		}
	}
	return body, wire.n, nil
}

// bodyError classifies a body failure: errors from the connection itself
// are transport errors, anything else means the content was corrupt.
func bodyError(wire *countingReader, format codec.Format, err error) error {
	if wire.err != nil {
		return &FetchError{
			Kind:    KindTransport,
			Format:  format,
			Message: "response body interrupted",
			Err:     err,
		}
	}
	return &codec.DecodeError{Format: format, Err: err}
}
