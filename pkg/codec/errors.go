package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFormat is returned for a Format outside the supported set.
	ErrUnknownFormat = errors.New("unknown format")

	// ErrSchemaUnavailable is returned when a schema-defined payload is
	// decoded or encoded without a resolved schema handle.
	ErrSchemaUnavailable = errors.New("schema unavailable")
)

// DecodeError reports a payload that is present but malformed for its
// declared format.
type DecodeError struct {
	Format Format
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Format, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
