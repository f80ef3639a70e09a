// Package digest provides the fixed-width content hash used as a cache key
// and as a stable identity for commands in the graph.
package digest

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Size is the width of every digest in bytes.
const Size = sha1.Size

// Kind tells which constructor produced a Digest.
type Kind uint8

const (
	// Definition digests hash the declarative command definition.
	Definition Kind = iota
	// Execution digests are reserved for hashing the inputs an execution
	// actually touched. Nothing populates them yet.
	Execution
)

// Digest is an opaque 20-byte content hash.
type Digest struct {
	kind Kind
	sum  [Size]byte
}

// FromDefinition hashes the given fields in order. Callers must pass the
// fields in a stable order for the result to be deterministic. Each field is
// length-prefixed, so moving bytes across a field boundary changes the hash.
func FromDefinition(fields ...string) Digest {
	return Digest{kind: Definition, sum: hashFields(fields)}
}

// FromExecution hashes the given execution inputs in order.
func FromExecution(inputs ...string) Digest {
	return Digest{kind: Execution, sum: hashFields(inputs)}
}

func hashFields(fields []string) [Size]byte {
	h := sha1.New()
	var size [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(size[:], uint64(len(f)))
		h.Write(size[:])
		h.Write([]byte(f))
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Parse decodes a hex string into a definition digest.
func Parse(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, &Error{Input: s, Err: err}
	}
	if len(raw) != Size {
		return Digest{}, &Error{Input: s, Expected: Size, Observed: len(raw)}
	}
	var d Digest
	copy(d.sum[:], raw)
	return d, nil
}

// Kind reports which constructor produced the digest.
func (d Digest) Kind() Kind {
	return d.kind
}

// Bytes returns a copy of the raw digest.
func (d Digest) Bytes() [Size]byte {
	return d.sum
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d.sum == [Size]byte{}
}

// Equal compares the hash payloads, ignoring the kind.
func (d Digest) Equal(other Digest) bool {
	return d.sum == other.sum
}

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d.sum[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	parsed.kind = d.kind
	*d = parsed
	return nil
}

// Error is returned when a hex string cannot be decoded into a digest.
type Error struct {
	Input    string
	Expected int
	Observed int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("digest %q is not valid hex: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("digest %q has wrong size: expected %d bytes, got %d", e.Input, e.Expected, e.Observed)
}

func (e *Error) Unwrap() error { return e.Err }
