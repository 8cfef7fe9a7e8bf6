package domain

import (
	"strings"

	dErrors "scorer/pkg/domain-errors"
)

const addressHexLen = 40

// Address is a canonical (lowercased) EVM account address.
//
// Usage: construct via ParseAddress at trust boundaries. Direct conversion skips
// canonicalisation and breaks the (address, community) uniqueness key.
type Address string

// ParseAddress validates and lowercases a 0x-prefixed, 20-byte hex address.
//
// Errors: returns CodeInvalidInput for anything that is not exactly 0x + 40 hex digits.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address cannot be empty")
	}
	if len(s) != addressHexLen+2 || (s[:2] != "0x" && s[:2] != "0X") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "address must be 0x followed by 40 hex characters")
	}
	for _, c := range s[2:] {
		if !isHex(c) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "address contains non-hex characters")
		}
	}
	return Address("0x" + strings.ToLower(s[2:])), nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (a Address) String() string {
	return string(a)
}

// IsNil reports whether the address is unset.
func (a Address) IsNil() bool {
	return a == ""
}

// Equal compares two addresses case-insensitively so that values that bypassed ParseAddress
// still compare correctly.
func (a Address) Equal(other Address) bool {
	return strings.EqualFold(string(a), string(other))
}
