// Package interfaceid identifies an imported host interface, either by a
// 32-byte hash or by a plain opaque name. The name variant exists to accept
// modules that import by plain string (e.g. POSIX-style namespaces) rather
// than by hash.
package interfaceid

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// ID is a tagged identifier of an imported interface.
type ID struct {
	hash   [32]byte
	name   string
	isHash bool
}

// FromHash builds an ID from a 32-byte hash.
func FromHash(hash [32]byte) ID {
	return ID{hash: hash, isHash: true}
}

// FromName builds an ID from an opaque name.
func FromName(name string) ID {
	return ID{name: name}
}

// IsHash reports whether this ID carries a hash (as opposed to a name).
func (id ID) IsHash() bool { return id.isHash }

// Hash returns the 32-byte hash. Only meaningful when IsHash() is true.
func (id ID) Hash() [32]byte { return id.hash }

// Name returns the opaque name. Only meaningful when IsHash() is false.
func (id ID) Name() string { return id.name }

// Equal reports structural equality between two interface IDs.
func (id ID) Equal(other ID) bool {
	if id.isHash != other.isHash {
		return false
	}
	if id.isHash {
		return id.hash == other.hash
	}
	return id.name == other.name
}

// String renders the ID for debugging: the base58 encoding of the hash, or
// the raw name.
func (id ID) String() string {
	if id.isHash {
		return base58.Encode(id.hash[:])
	}
	return id.name
}

// ParseModuleName parses a WASM import module-name string the way the
// scheduler resolves it at instantiation time: first as the base58
// representation of a 32-byte hash, right-aligning a short decoding into
// the 32-byte buffer (so a shorter decoded value is zero-prefixed, not
// zero-suffixed). If the string does not decode as base58, it falls through
// silently to the Name variant.
func ParseModuleName(moduleName string) ID {
	decoded, err := base58.Decode(moduleName)
	if err != nil || len(decoded) > 32 {
		return FromName(moduleName)
	}

	var buf [32]byte
	copy(buf[32-len(decoded):], decoded)
	return FromHash(buf)
}

// GoString gives a Go-syntax-like representation used in error messages.
func (id ID) GoString() string {
	if id.isHash {
		return fmt.Sprintf("InterfaceID(hash=%s)", id.String())
	}
	return fmt.Sprintf("InterfaceID(name=%q)", id.name)
}
