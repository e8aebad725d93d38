// Package ids provides typed opaque identifiers. An ID[User] and an ID[Team]
// share a representation (a random UUID) but are distinct types, so passing
// one where the other is expected fails to compile.
package ids

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies an entity of kind T.
type ID[T any] struct {
	u uuid.UUID
}

// New returns a fresh random (v4) identifier.
func New[T any]() ID[T] {
	return ID[T]{u: uuid.New()}
}

// Parse parses the canonical hyphenated form.
func Parse[T any](s string) (ID[T], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID[T]{}, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID[T]{u: u}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse[T any](s string) ID[T] {
	id, err := Parse[T](s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the 36 character lowercase hyphenated form.
func (id ID[T]) String() string {
	return id.u.String()
}

func (id ID[T]) IsZero() bool {
	return id.u == uuid.Nil
}

// Compare orders identifiers by their underlying bytes.
func Compare[T any](a, b ID[T]) int {
	return bytes.Compare(a.u[:], b.u[:])
}

func (id ID[T]) MarshalText() ([]byte, error) {
	return []byte(id.u.String()), nil
}

func (id *ID[T]) UnmarshalText(b []byte) error {
	parsed, err := Parse[T](string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores the identifier as its hyphenated string.
func (id ID[T]) Value() (driver.Value, error) {
	return id.u.String(), nil
}

// Scan accepts the string or byte forms a SQL driver may return.
func (id *ID[T]) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 16 {
			copy(id.u[:], v)
			return nil
		}
		return id.UnmarshalText(v)
	case nil:
		return fmt.Errorf("cannot scan NULL into id")
	default:
		return fmt.Errorf("cannot scan %T into id", src)
	}
}

// Null is an optional identifier for nullable reference columns.
type Null[T any] struct {
	ID    ID[T]
	Valid bool
}

// Some wraps a present identifier.
func Some[T any](id ID[T]) Null[T] {
	return Null[T]{ID: id, Valid: true}
}

// Ptr returns a pointer to the identifier, or nil when absent.
func (n Null[T]) Ptr() *ID[T] {
	if !n.Valid {
		return nil
	}
	id := n.ID
	return &id
}

func (n Null[T]) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.ID.Value()
}

func (n *Null[T]) Scan(src any) error {
	if src == nil {
		n.ID, n.Valid = ID[T]{}, false
		return nil
	}
	if err := n.ID.Scan(src); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// FromPtr converts an optional pointer into a Null.
func FromPtr[T any](id *ID[T]) Null[T] {
	if id == nil {
		return Null[T]{}
	}
	return Some(*id)
}
