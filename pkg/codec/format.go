package codec

import (
	"fmt"
	"mime"
	"strings"
)

// Format selects one of the supported wire encodings.
type Format string

const (
	// BinaryMap is the self-describing MessagePack encoding.
	BinaryMap Format = "msgpack"

	// StructuredText is plain JSON.
	StructuredText Format = "json"

	// SchemaBinary is protobuf, decoded against a loaded schema.
	SchemaBinary Format = "protobuf"
)

// Media types sent as the Accept preference for each format.
const (
	MediaTypeMsgpack  = "application/x-msgpack"
	MediaTypeJSON     = "application/json"
	MediaTypeProtobuf = "application/x-protobuf"
)

// Formats returns every supported format in a stable order.
func Formats() []Format {
	return []Format{BinaryMap, StructuredText, SchemaBinary}
}

// MediaType returns the Accept value matching f, or "" for unknown formats.
func (f Format) MediaType() string {
	switch f {
	case BinaryMap:
		return MediaTypeMsgpack
	case StructuredText:
		return MediaTypeJSON
	case SchemaBinary:
		return MediaTypeProtobuf
	default:
		return ""
	}
}

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f.MediaType() != ""
}

// NeedsSchema reports whether decoding f requires a schema handle.
func (f Format) NeedsSchema() bool {
	return f == SchemaBinary
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return string(f)
}

// ParseFormat accepts a format name ("msgpack", "json", "protobuf") or
// its media type, case-insensitively.
func ParseFormat(s string) (Format, error) {
	value := strings.ToLower(strings.TrimSpace(s))
	if mediaType, _, err := mime.ParseMediaType(value); err == nil {
		value = mediaType
	}

	switch value {
	case string(BinaryMap), MediaTypeMsgpack:
		return BinaryMap, nil
	case string(StructuredText), MediaTypeJSON:
		return StructuredText, nil
	case string(SchemaBinary), MediaTypeProtobuf:
		return SchemaBinary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}
