package schema

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Field names the DataResponse message must declare.
const (
	FieldUsers     = "users"
	FieldTotal     = "total"
	FieldTimestamp = "timestamp"

	FieldID    = "id"
	FieldName  = "name"
	FieldEmail = "email"
	FieldAge   = "age"
	FieldCity  = "city"
)

// Handle is the resolved message descriptor used to decode the
// schema-defined binary format. A Handle never changes once created.
type Handle struct {
	// Message is the top-level DataResponse descriptor.
	Message protoreflect.MessageDescriptor

	// User is the element type of the repeated users field.
	User protoreflect.MessageDescriptor

	Origin   string
	LoadedAt time.Time
}

// MessageField returns a field of the top-level message. It panics on
// unknown names; every name it is called with is checked in newHandle.
func (h *Handle) MessageField(name string) protoreflect.FieldDescriptor {
	return mustField(h.Message, name)
}

// UserField returns a field of the user message.
func (h *Handle) UserField(name string) protoreflect.FieldDescriptor {
	return mustField(h.User, name)
}

func mustField(md protoreflect.MessageDescriptor, name string) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("schema: message %s has no field %q", md.FullName(), name))
	}
	return fd
}

// newHandle checks that md has the shape of a DataResponse and builds a Handle.
func newHandle(md protoreflect.MessageDescriptor, origin string) (*Handle, error) {
	users := md.Fields().ByName(FieldUsers)
	if users == nil {
		return nil, fmt.Errorf("message %s has no field %q", md.FullName(), FieldUsers)
	}
	if users.Kind() != protoreflect.MessageKind || !users.IsList() {
		return nil, fmt.Errorf("field %s must be a repeated message", users.FullName())
	}
	if err := requireKind(md, FieldTotal, isInteger); err != nil {
		return nil, err
	}
	if err := requireKind(md, FieldTimestamp, isString); err != nil {
		return nil, err
	}

	user := users.Message()
	for _, name := range []string{FieldID, FieldAge} {
		if err := requireKind(user, name, isInteger); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{FieldName, FieldEmail, FieldCity} {
		if err := requireKind(user, name, isString); err != nil {
			return nil, err
		}
	}

	return &Handle{
		Message:  md,
		User:     user,
		Origin:   origin,
		LoadedAt: time.Now(),
	}, nil
}

func requireKind(md protoreflect.MessageDescriptor, name string, ok func(protoreflect.FieldDescriptor) bool) error {
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return fmt.Errorf("message %s has no field %q", md.FullName(), name)
	}
	if fd.IsList() || fd.IsMap() || !ok(fd) {
		return fmt.Errorf("field %s has unsupported type %s", fd.FullName(), fd.Kind())
	}
	return nil
}

func isString(fd protoreflect.FieldDescriptor) bool {
	return fd.Kind() == protoreflect.StringKind
}

func isInteger(fd protoreflect.FieldDescriptor) bool {
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return true
	default:
		return false
	}
}

// findMessage looks up a message by full name, including nested messages.
func findMessage(fd protoreflect.FileDescriptor, name protoreflect.FullName) protoreflect.MessageDescriptor {
	return findIn(fd.Messages(), name)
}

func findIn(msgs protoreflect.MessageDescriptors, name protoreflect.FullName) protoreflect.MessageDescriptor {
	for i := 0; i < msgs.Len(); i++ {
		md := msgs.Get(i)
		if md.FullName() == name {
			return md
		}
		if nested := findIn(md.Messages(), name); nested != nil {
			return nested
		}
	}
	return nil
}
