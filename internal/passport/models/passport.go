package models

import (
	"strings"
	"time"

	"scorer/pkg/domain"
)

// Passport is the scored identity: one (community, address) pair. Unique on
// (address, community).
type Passport struct {
	ID                  domain.PassportID
	CommunityID         domain.CommunityID
	Address             domain.Address
	RequiresCalculation bool
	CreatedAt           time.Time
}

// Stamp is a verified credential currently attached to a passport. Unique on
// (hash, passport).
type Stamp struct {
	ID         int64
	PassportID domain.PassportID
	Hash       string
	Provider   string
	Credential *Credential
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewStamp attaches credential c to a passport. c must carry an expiration date.
func NewStamp(passportID domain.PassportID, c *Credential, now time.Time) *Stamp {
	s := &Stamp{
		PassportID: passportID,
		Hash:       c.PrimaryHash(),
		Provider:   c.Subject.Provider,
		Credential: c,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if c.ExpirationDate != nil {
		s.ExpiresAt = *c.ExpirationDate
	}
	return s
}

// ClaimKeys forwards to the credential.
func (s *Stamp) ClaimKeys() []string {
	if s.Credential == nil {
		if s.Hash == "" || strings.HasPrefix(s.Hash, KeylessHashPrefix) {
			return nil
		}
		return []string{s.Hash}
	}
	return s.Credential.ClaimKeys()
}

// ExpiredAt reports whether the stamp is no longer valid at now.
func (s *Stamp) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// AffectedPassport identifies a passport whose stamps were taken by a FIFO transfer.
type AffectedPassport struct {
	PassportID  domain.PassportID
	CommunityID domain.CommunityID
	Address     domain.Address
}
