// Package hashindex defines the claim index: the durable mapping from a claim key (a hash or a
// nullifier) to the one address that currently owns it within a community.
//
// Invariant: within a community, a key maps to at most one non-expired owner. Stores enforce
// it with a unique constraint on (community, key); a losing concurrent writer observes
// ErrAlreadyClaimed and must re-read before deciding again. Expired entries never block a
// claim. Entries are replaced by delete+insert, never updated in place.
package hashindex

import (
	"context"
	"errors"
	"time"

	"scorer/pkg/domain"
)

// ErrAlreadyClaimed is returned when another owner holds a live entry for the key, or a
// concurrent writer inserted one first. Retryable.
var ErrAlreadyClaimed = errors.New("claim key already claimed")

// Owner is the current holder of a key.
type Owner struct {
	Address   domain.Address
	ExpiresAt time.Time
}

// Link is one stored index entry.
type Link struct {
	CommunityID domain.CommunityID
	Key         string
	Address     domain.Address
	ExpiresAt   time.Time
}

// LiveAt reports whether the link still blocks other claimants at now.
func (l Link) LiveAt(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// Owner projects the link onto its holder.
func (l Link) Owner() Owner {
	return Owner{Address: l.Address, ExpiresAt: l.ExpiresAt}
}

// Index is the claim index contract. Mutations join the transaction carried by ctx and must
// not poison it on conflict.
type Index interface {
	// Lookup returns the live owners of any of keys.
	Lookup(ctx context.Context, communityID domain.CommunityID, keys []string, now time.Time) (map[string]Owner, error)
	// Claim inserts an owner for a key with no live entry.
	Claim(ctx context.Context, communityID domain.CommunityID, key string, address domain.Address, expiresAt, now time.Time) error
	// Transfer replaces from's entry (or an expired or missing one) with to's.
	Transfer(ctx context.Context, communityID domain.CommunityID, key string, from, to domain.Address, expiresAt, now time.Time) error
	// Release removes address's entry for key, if any.
	Release(ctx context.Context, communityID domain.CommunityID, key string, address domain.Address) error
	// ReleaseAddress removes every entry held by address in the community.
	ReleaseAddress(ctx context.Context, communityID domain.CommunityID, address domain.Address) error
}

// IsSelfClaim reports whether an existing owner is the submitter itself, which is never a
// clash.
func IsSelfClaim(owner Owner, submitter domain.Address) bool {
	return owner.Address.Equal(submitter)
}
