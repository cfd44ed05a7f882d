package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/userdata-client/pkg/codec"
)

// ErrorKind classifies a failed refresh.
type ErrorKind string

const (
	// KindTransport means no response was obtained, or the body could not
	// be read: connection refused, timeout, DNS failure.
	KindTransport ErrorKind = "transport"

	// KindStatus means the server answered with a non-success status.
	KindStatus ErrorKind = "status"

	// KindDecode means the payload was present but malformed.
	KindDecode ErrorKind = "decode"

	// KindSchemaLoad means the schema definition could not be loaded.
	KindSchemaLoad ErrorKind = "schema_load"

	// KindSchemaUnavailable means a schema-defined payload was decoded
	// without a schema.
	KindSchemaUnavailable ErrorKind = "schema_unavailable"

	// KindInvalidFormat means the requested format is not supported.
	KindInvalidFormat ErrorKind = "invalid_format"
)

// FetchError is returned by Refresh for every failed outcome.
// The previously published snapshot is untouched when it is returned.
type FetchError struct {
	Kind       ErrorKind
	Format     codec.Format
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	prefix := fmt.Sprintf("userdata %s %s error", e.Format, e.Kind)
	if e.StatusCode != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" if err is not a FetchError.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
