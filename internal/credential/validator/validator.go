// Package validator checks submitted credentials before they reach deduplication.
package validator

//go:generate mockgen -source=validator.go -destination=mocks/mocks.go -package=mocks Validator,SignatureVerifier

import (
	"context"
	"strings"
	"time"

	"scorer/internal/passport/models"
	"scorer/pkg/domain"
	pstrings "scorer/pkg/platform/strings"
)

const didPrefix = "did:pkh:eip155:1:"

// Validator judges a single credential presented for did. An empty result means valid.
type Validator interface {
	Validate(ctx context.Context, did string, credential *models.Credential) []string
	VerifyIssuer(credential *models.Credential) bool
}

// SignatureVerifier checks a credential's proof.
type SignatureVerifier interface {
	Verify(ctx context.Context, credential *models.Credential) error
}

// DIDForAddress returns the subject DID a credential issued to address carries.
func DIDForAddress(address domain.Address) string {
	return didPrefix + address.String()
}

// Basic checks the structural fields, expiry, issuer allow-list and subject of a credential
// and delegates the proof to an optional SignatureVerifier.
type Basic struct {
	trusted  map[string]struct{}
	verifier SignatureVerifier
	now      func() time.Time
}

type Option func(*Basic)

// WithTrustedIssuers restricts issuers. Without it every issuer is accepted.
func WithTrustedIssuers(issuers ...string) Option {
	return func(b *Basic) {
		issuers = pstrings.DedupeAndTrim(issuers)
		if len(issuers) > 0 {
			b.trusted = pstrings.Set(issuers...)
		}
	}
}

func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(b *Basic) {
		b.verifier = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Basic) {
		b.now = now
	}
}

func NewBasic(opts ...Option) *Basic {
	b := &Basic{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Basic) Validate(ctx context.Context, did string, c *models.Credential) []string {
	if c == nil {
		return []string{"credential is empty"}
	}

	var problems []string
	if c.Subject.Provider == "" {
		problems = append(problems, "credentialSubject.provider is missing")
	}
	if len(c.ClaimKeys()) == 0 {
		problems = append(problems, "credentialSubject.hash or credentialSubject.nullifiers is required")
	}
	if !strings.EqualFold(c.Subject.ID, did) {
		problems = append(problems, "credentialSubject.id does not match the submitting address")
	}

	now := b.now()
	switch {
	case c.ExpirationDate == nil:
		problems = append(problems, "expirationDate is missing")
	case !c.ExpirationDate.After(now):
		problems = append(problems, "credential is expired")
	}
	if c.IssuanceDate != nil && c.IssuanceDate.After(now) {
		problems = append(problems, "issuanceDate is in the future")
	}

	if !b.VerifyIssuer(c) {
		problems = append(problems, "issuer is not trusted")
	}

	if b.verifier != nil && len(problems) == 0 {
		if err := b.verifier.Verify(ctx, c); err != nil {
			problems = append(problems, "invalid proof: "+err.Error())
		}
	}
	return problems
}

func (b *Basic) VerifyIssuer(c *models.Credential) bool {
	if c.Issuer == "" {
		return false
	}
	if b.trusted == nil {
		return true
	}
	_, ok := b.trusted[c.Issuer]
	return ok
}
