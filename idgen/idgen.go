// Package idgen provides pluggable ID generation for vorschau.
//
// Constructors that mint request or session identifiers accept a Generator,
// making the ID strategy an injection point rather than a hard-coded choice.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv4 returns a Generator producing canonical random UUID strings.
// Request ids use this form: 36 characters, fixed version and variant
// nibbles, lowercase hex.
func UUIDv4() Generator {
	return func() string {
		return uuid.Must(uuid.NewRandom()).String()
	}
}

// Token returns a Generator producing base-36 tokens of the given length.
// Surface session tokens use this strategy: short, URL-safe, unguessable
// enough to act as a provenance check on inbound signals.
func Token(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		b := make([]byte, length)
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// Default is the request-id generator used when a caller injects nothing.
var Default Generator = UUIDv4()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// ValidRequestID reports whether s is a canonical random-UUID string as
// minted by UUIDv4. Non-canonical spellings (braces, urn prefix, uppercase,
// surrounding whitespace) and other UUID versions are rejected.
func ValidRequestID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	if u.String() != s {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}
