package domain

import (
	"strconv"
	"strings"

	dErrors "scorer/pkg/domain-errors"
)

// CommunityID identifies a scoring tenant.
// Invariant: strictly positive.
type CommunityID int64

// PassportID identifies one (community, address) pair.
type PassportID int64

// ParseCommunityID constructs a CommunityID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty, not a base-10 integer, or not
// positive.
func ParseCommunityID(s string) (CommunityID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "community id cannot be empty")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "community id must be an integer")
	}
	if v <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "community id must be positive")
	}
	return CommunityID(v), nil
}

func (id CommunityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsNil reports whether the ID is unset.
func (id CommunityID) IsNil() bool {
	return id <= 0
}

func (id PassportID) String() string {
	return strconv.FormatInt(int64(id), 10)
}
