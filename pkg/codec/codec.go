// Package codec converts between wire payloads and dataset.Snapshot.
//
// Each Format has exactly one decode and one encode function. The format is
// always chosen by the caller; it is never inferred from payload content or
// response headers.
//
//	snap, err := codec.Decode(body, codec.BinaryMap, nil)
//
// SchemaBinary additionally needs the *schema.Handle resolved by a
// schema.Registry:
//
//	h, err := registry.Resolve(ctx)
//	snap, err := codec.Decode(body, codec.SchemaBinary, h)
package codec

import (
	"fmt"

	"github.com/Sternrassler/userdata-client/pkg/dataset"
	"github.com/Sternrassler/userdata-client/pkg/schema"
)

// Decode converts payload into a Snapshot.
//
// Malformed payloads yield a *DecodeError. SchemaBinary without a handle
// yields ErrSchemaUnavailable.
func Decode(payload []byte, format Format, h *schema.Handle) (*dataset.Snapshot, error) {
	var (
		snap *dataset.Snapshot
		err  error
	)

	switch format {
	case BinaryMap:
		snap, err = decodeBinaryMap(payload)
	case StructuredText:
		snap, err = decodeStructuredText(payload)
	case SchemaBinary:
		if h == nil {
			return nil, ErrSchemaUnavailable
		}
		snap, err = decodeSchemaBinary(payload, h)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	return snap, nil
}

// Encode serializes snap in the given format.
func Encode(snap *dataset.Snapshot, format Format, h *schema.Handle) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot cannot be nil")
	}

	switch format {
	case BinaryMap:
		return encodeBinaryMap(snap), nil
	case StructuredText:
		return encodeStructuredText(snap)
	case SchemaBinary:
		if h == nil {
			return nil, ErrSchemaUnavailable
		}
		return encodeSchemaBinary(snap, h)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
