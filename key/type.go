// Package key models wrapped key material: symmetric keys that carry an id
// and a role, the RSA key pair used for sharing, and keys encrypted under
// other keys with support for re-wrapping.
package key

import "errors"

// Type is the role a key plays in the hierarchy.
type Type int

const (
	Stretched Type = iota
	Vault
	Organization
	Item
	Private
)

// ErrUnknownType is returned when an unrecognized key type is encountered.
var ErrUnknownType = errors.New("unknown key type")

func (t Type) String() string {
	switch t {
	case Stretched:
		return "Stretched"
	case Vault:
		return "Vault"
	case Organization:
		return "Organization"
	case Item:
		return "Item"
	case Private:
		return "Private"
	default:
		return "Unknown"
	}
}

// Symmetric reports whether keys of this type are 64-byte symmetric keys.
func (t Type) Symmetric() bool {
	return t != Private
}
