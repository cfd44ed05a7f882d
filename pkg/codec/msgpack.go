package codec

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/Sternrassler/userdata-client/pkg/dataset"
)

// Map keys of the MessagePack document. They match the JSON field names.
const (
	keyUsers     = "users"
	keyTotal     = "total"
	keyTimestamp = "timestamp"
	keyID        = "id"
	keyName      = "name"
	keyEmail     = "email"
	keyAge       = "age"
	keyCity      = "city"
)

func decodeBinaryMap(b []byte) (*dataset.Snapshot, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}

	snap := &dataset.Snapshot{}
	var seen fieldSet
	for ; n > 0; n-- {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return nil, err
		}

		name := string(key)
		switch name {
		case keyUsers:
			snap.Users, b, err = readUsers(b)
		case keyTotal:
			snap.Total, b, err = msgp.ReadInt64Bytes(b)
		case keyTimestamp:
			snap.Timestamp, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, msgp.WrapError(err, name)
		}
		seen.add(name)
	}

	if err := seen.require(keyUsers, keyTotal, keyTimestamp); err != nil {
		return nil, err
	}
	if len(b) > 0 {
		return nil, fmt.Errorf("%d trailing bytes after document", len(b))
	}
	return snap, nil
}

func readUsers(b []byte) ([]dataset.UserRecord, []byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}

	// Cap the preallocation; a forged header must not force a huge allocation.
	users := make([]dataset.UserRecord, 0, min(int(n), len(b)))
	for i := uint32(0); i < n; i++ {
		var u dataset.UserRecord
		u, b, err = readUser(b)
		if err != nil {
			return nil, b, msgp.WrapError(err, i)
		}
		users = append(users, u)
	}
	return users, b, nil
}

func readUser(b []byte) (dataset.UserRecord, []byte, error) {
	var u dataset.UserRecord

	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return u, b, err
	}

	var seen fieldSet
	for ; n > 0; n-- {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return u, b, err
		}

		name := string(key)
		switch name {
		case keyID:
			u.ID, b, err = msgp.ReadInt64Bytes(b)
		case keyName:
			u.Name, b, err = msgp.ReadStringBytes(b)
		case keyEmail:
			u.Email, b, err = msgp.ReadStringBytes(b)
		case keyAge:
			u.Age, b, err = msgp.ReadInt64Bytes(b)
		case keyCity:
			u.City, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return u, b, msgp.WrapError(err, name)
		}
		seen.add(name)
	}

	return u, b, seen.require(keyID, keyName, keyEmail, keyAge, keyCity)
}

func encodeBinaryMap(s *dataset.Snapshot) []byte {
	b := make([]byte, 0, 64+len(s.Users)*96)

	b = msgp.AppendMapHeader(b, 3)
	b = msgp.AppendString(b, keyUsers)
	b = msgp.AppendArrayHeader(b, uint32(len(s.Users)))
	for _, u := range s.Users {
		b = msgp.AppendMapHeader(b, 5)
		b = msgp.AppendString(b, keyID)
		b = msgp.AppendInt64(b, u.ID)
		b = msgp.AppendString(b, keyName)
		b = msgp.AppendString(b, u.Name)
		b = msgp.AppendString(b, keyEmail)
		b = msgp.AppendString(b, u.Email)
		b = msgp.AppendString(b, keyAge)
		b = msgp.AppendInt64(b, u.Age)
		b = msgp.AppendString(b, keyCity)
		b = msgp.AppendString(b, u.City)
	}
	b = msgp.AppendString(b, keyTotal)
	b = msgp.AppendInt64(b, s.Total)
	b = msgp.AppendString(b, keyTimestamp)
	b = msgp.AppendString(b, s.Timestamp)

	return b
}

// fieldSet records which required keys a map carried.
type fieldSet map[string]struct{}

func (s *fieldSet) add(name string) {
	if *s == nil {
		*s = make(fieldSet, 8)
	}
	(*s)[name] = struct{}{}
}

func (s fieldSet) require(names ...string) error {
	for _, name := range names {
		if _, ok := s[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	return nil
}
