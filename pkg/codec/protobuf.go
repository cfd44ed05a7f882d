package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/Sternrassler/userdata-client/pkg/dataset"
	"github.com/Sternrassler/userdata-client/pkg/schema"
)

// decodeSchemaBinary parses b as a dynamic message and copies it into a
// plain Snapshot, so callers never see protobuf types.
func decodeSchemaBinary(b []byte, h *schema.Handle) (*dataset.Snapshot, error) {
	msg := dynamicpb.NewMessage(h.Message)
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, err
	}

	list := msg.Get(h.MessageField(schema.FieldUsers)).List()
	users := make([]dataset.UserRecord, list.Len())
	for i := range users {
		u := list.Get(i).Message()
		id, err := intField(u, h.UserField(schema.FieldID))
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		age, err := intField(u, h.UserField(schema.FieldAge))
		if err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		users[i] = dataset.UserRecord{
			ID:    id,
			Name:  u.Get(h.UserField(schema.FieldName)).String(),
			Email: u.Get(h.UserField(schema.FieldEmail)).String(),
			Age:   age,
			City:  u.Get(h.UserField(schema.FieldCity)).String(),
		}
	}

	total, err := intField(msg, h.MessageField(schema.FieldTotal))
	if err != nil {
		return nil, err
	}

	return &dataset.Snapshot{
		Users:     users,
		Total:     total,
		Timestamp: msg.Get(h.MessageField(schema.FieldTimestamp)).String(),
	}, nil
}

func encodeSchemaBinary(s *dataset.Snapshot, h *schema.Handle) ([]byte, error) {
	msg := dynamicpb.NewMessage(h.Message)

	list := msg.Mutable(h.MessageField(schema.FieldUsers)).List()
	for i, u := range s.Users {
		elem := list.NewElement()
		um := elem.Message()

		if err := setInt(um, h.UserField(schema.FieldID), u.ID); err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		if err := setInt(um, h.UserField(schema.FieldAge), u.Age); err != nil {
			return nil, fmt.Errorf("users[%d]: %w", i, err)
		}
		um.Set(h.UserField(schema.FieldName), protoreflect.ValueOfString(u.Name))
		um.Set(h.UserField(schema.FieldEmail), protoreflect.ValueOfString(u.Email))
		um.Set(h.UserField(schema.FieldCity), protoreflect.ValueOfString(u.City))

		list.Append(elem)
	}

	if err := setInt(msg, h.MessageField(schema.FieldTotal), s.Total); err != nil {
		return nil, err
	}
	msg.Set(h.MessageField(schema.FieldTimestamp), protoreflect.ValueOfString(s.Timestamp))

	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

func intField(m protoreflect.Message, fd protoreflect.FieldDescriptor) (int64, error) {
	v := m.Get(fd)
	switch fd.Kind() {
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u := v.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("field %s: %d overflows int64", fd.Name(), u)
		}
		return int64(u), nil
	default:
		return v.Int(), nil
	}
}

func setInt(m protoreflect.Message, fd protoreflect.FieldDescriptor, n int64) error {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("field %s: %d overflows int32", fd.Name(), n)
		}
		m.Set(fd, protoreflect.ValueOfInt32(int32(n)))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		m.Set(fd, protoreflect.ValueOfInt64(n))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if n < 0 || n > math.MaxUint32 {
			return fmt.Errorf("field %s: %d overflows uint32", fd.Name(), n)
		}
		m.Set(fd, protoreflect.ValueOfUint32(uint32(n)))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if n < 0 {
			return fmt.Errorf("field %s: negative value %d", fd.Name(), n)
		}
		m.Set(fd, protoreflect.ValueOfUint64(uint64(n)))
	default:
		return fmt.Errorf("field %s: unsupported kind %s", fd.Name(), fd.Kind())
	}
	return nil
}
