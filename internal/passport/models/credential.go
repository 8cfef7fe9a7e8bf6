package models

import (
	"encoding/json"
	"strings"
	"time"

	dErrors "scorer/pkg/domain-errors"
	pstrings "scorer/pkg/platform/strings"
)

// Credential is a parsed view over an opaque verifiable-credential document. Only the
// well-known fields the pipeline needs are decoded; Raw keeps the document as submitted.
type Credential struct {
	Raw            json.RawMessage
	Subject        CredentialSubject
	Issuer         string
	IssuanceDate   *time.Time
	ExpirationDate *time.Time
	HasProof       bool
}

// CredentialSubject is the credentialSubject block.
type CredentialSubject struct {
	ID         string
	Hash       string
	Nullifiers []string
	Provider   string
}

type credentialDoc struct {
	CredentialSubject struct {
		ID         string   `json:"id"`
		Hash       string   `json:"hash"`
		Nullifiers []string `json:"nullifiers"`
		Provider   string   `json:"provider"`
	} `json:"credentialSubject"`
	Issuer         json.RawMessage `json:"issuer"`
	IssuanceDate   string          `json:"issuanceDate"`
	ExpirationDate string          `json:"expirationDate"`
	Proof          json.RawMessage `json:"proof"`
}

// ParseCredential decodes raw. Missing fields are left empty for the validator to judge;
// malformed JSON or dates are errors.
//
// Errors: CodeValidation for malformed documents.
func ParseCredential(raw json.RawMessage) (*Credential, error) {
	var doc credentialDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "credential is not a JSON object")
	}

	issuance, err := parseISOTime(doc.IssuanceDate)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid issuanceDate")
	}
	expiration, err := parseISOTime(doc.ExpirationDate)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid expirationDate")
	}

	return &Credential{
		Raw: append(json.RawMessage(nil), raw...),
		Subject: CredentialSubject{
			ID:         strings.TrimSpace(doc.CredentialSubject.ID),
			Hash:       strings.TrimSpace(doc.CredentialSubject.Hash),
			Nullifiers: pstrings.DedupeAndTrim(doc.CredentialSubject.Nullifiers),
			Provider:   strings.TrimSpace(doc.CredentialSubject.Provider),
		},
		Issuer:         parseIssuer(doc.Issuer),
		IssuanceDate:   issuance,
		ExpirationDate: expiration,
		HasProof:       len(doc.Proof) > 0 && string(doc.Proof) != "null",
	}, nil
}

// parseIssuer accepts both the string form and the {"id": ...} object form.
func parseIssuer(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseISOTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var firstErr error
	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			t = t.UTC()
			return &t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// ClaimKeys returns the keys this credential's uniqueness is tracked by: its nullifiers when
// present, otherwise its hash. A credential with neither has no keys and is never
// deduplicated.
func (c *Credential) ClaimKeys() []string {
	if len(c.Subject.Nullifiers) > 0 {
		return c.Subject.Nullifiers
	}
	if c.Subject.Hash != "" {
		return []string{c.Subject.Hash}
	}
	return nil
}

// KeylessHashPrefix marks the storage key of a credential that carries neither a hash nor
// nullifiers. Such keys are never claimed.
const KeylessHashPrefix = "provider:"

// PrimaryHash is the key a stamp is stored under: the hash, or the first nullifier for
// credentials that only carry nullifiers. Keyless credentials are stored once per provider.
func (c *Credential) PrimaryHash() string {
	if c.Subject.Hash != "" {
		return c.Subject.Hash
	}
	if len(c.Subject.Nullifiers) > 0 {
		return c.Subject.Nullifiers[0]
	}
	return KeylessHashPrefix + c.Subject.Provider
}

// ExpiredAt reports whether the credential has no expiration or expired at or before now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.ExpirationDate == nil || !c.ExpirationDate.After(now)
}
