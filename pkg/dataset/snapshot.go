// Package dataset defines the canonical in-memory user collection that every
// wire format decodes into.
package dataset

// UserRecord is a single user as published by the data endpoint.
type UserRecord struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int64  `json:"age"`
	City  string `json:"city"`
}

// Snapshot is one complete capture of the user collection.
//
// A Snapshot is immutable once decoded. A successful refresh replaces the
// published Snapshot wholesale; records are never merged across snapshots.
//
// Total is the cardinality the server reports and may exceed len(Users) when
// the server paginates. Callers must not assume Total == len(Users).
type Snapshot struct {
	Users     []UserRecord `json:"users"`
	Total     int64        `json:"total"`
	Timestamp string       `json:"timestamp"`
}

// Len returns the number of records carried in this snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Users)
}

// IsPartial reports whether the server announced more records than it sent.
func (s *Snapshot) IsPartial() bool {
	if s == nil {
		return false
	}
	return s.Total > int64(len(s.Users))
}

// Equal reports field-for-field equality, including record order.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Total != other.Total || s.Timestamp != other.Timestamp {
		return false
	}
	if len(s.Users) != len(other.Users) {
		return false
	}
	for i := range s.Users {
		if s.Users[i] != other.Users[i] {
			return false
		}
	}
	return true
}
