// Package password stores and verifies user and upload passwords.
//
// A Stored value is either Current (an Argon2id encoded hash) or Legacy (a
// PBKDF2 hash in PHC string format, kept only so existing users can sign in
// and be migrated). New hashes are always Current.
package password

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/BlakeRain/parcel-sub000/internal/common"
	"github.com/alexedwards/argon2id"
)

// Kind distinguishes the hash schemes.
type Kind int

const (
	Current Kind = iota
	Legacy
)

func (k Kind) String() string {
	switch k {
	case Current:
		return "argon2"
	case Legacy:
		return "pbkdf2"
	default:
		return "unknown"
	}
}

// Params are the Argon2id parameters used for new hashes.
var Params = &argon2id.Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Stored is an encoded password hash tagged with its scheme.
type Stored struct {
	kind    Kind
	encoded string
}

// New hashes plain with Argon2id using a fresh random salt.
func New(plain string) (Stored, error) {
	encoded, err := argon2id.CreateHash(plain, Params)
	if err != nil {
		return Stored{}, fmt.Errorf("hash password: %w", err)
	}
	return Stored{kind: Current, encoded: encoded}, nil
}

// Decode recognizes an encoded hash by its leading marker.
func Decode(encoded string) (Stored, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2"):
		return Stored{kind: Current, encoded: encoded}, nil
	case strings.HasPrefix(encoded, "$pbkdf2"):
		return Stored{kind: Legacy, encoded: encoded}, nil
	default:
		return Stored{}, fmt.Errorf("%w: unknown password hash type", common.ErrorMalformed)
	}
}

func (s Stored) Kind() Kind { return s.kind }

// NeedsMigration reports whether the hash should be replaced by New after the
// next successful verification.
func (s Stored) NeedsMigration() bool { return s.kind == Legacy }

// Verify reports whether plain is the preimage of the stored hash. Malformed
// hashes never verify.
func (s Stored) Verify(plain string) bool {
	switch s.kind {
	case Current:
		ok, err := argon2id.ComparePasswordAndHash(plain, s.encoded)
		return err == nil && ok
	case Legacy:
		ok, err := verifyPBKDF2(plain, s.encoded)
		return err == nil && ok
	default:
		return false
	}
}

// String returns the encoded hash as persisted.
func (s Stored) String() string { return s.encoded }

// GoString keeps the hash out of %#v output.
func (s Stored) GoString() string {
	return fmt.Sprintf("password.Stored{%s}", s.kind)
}

func (s Stored) Value() (driver.Value, error) {
	return s.encoded, nil
}

func (s *Stored) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into password", src)
	}
	decoded, err := Decode(raw)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// Null is an optional stored password for nullable columns.
type Null struct {
	Stored Stored
	Valid  bool
}

func (n Null) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Stored.Value()
}

func (n *Null) Scan(src any) error {
	if src == nil {
		n.Stored, n.Valid = Stored{}, false
		return nil
	}
	if err := n.Stored.Scan(src); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Ptr returns the stored password or nil.
func (n Null) Ptr() *Stored {
	if !n.Valid {
		return nil
	}
	s := n.Stored
	return &s
}

// FromPtr wraps an optional password.
func FromPtr(s *Stored) Null {
	if s == nil {
		return Null{}
	}
	return Null{Stored: *s, Valid: true}
}
