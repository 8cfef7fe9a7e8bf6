package domain

import dErrors "scorer/pkg/domain-errors"

// DedupRule selects how a community resolves the same claim key presented by two addresses.
// Invariant: the value must be one of the supported rules.
type DedupRule string

const (
	// DedupLIFO keeps the existing claim; the newest submitter loses the stamp.
	DedupLIFO DedupRule = "LIFO"
	// DedupFIFO moves the stamp to the newest submitter and rescores the previous holder.
	DedupFIFO DedupRule = "FIFO"
)

var validDedupRules = map[DedupRule]bool{
	DedupLIFO: true,
	DedupFIFO: true,
}

// ParseDedupRule constructs a DedupRule from external input. An empty value selects LIFO.
//
// Errors: returns CodeInvalidInput for unsupported values.
func ParseDedupRule(s string) (DedupRule, error) {
	if s == "" {
		return DedupLIFO, nil
	}
	r := DedupRule(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid deduplication rule")
	}
	return r, nil
}

// IsValid checks if the rule is one of the supported enum values.
func (r DedupRule) IsValid() bool {
	return validDedupRules[r]
}

func (r DedupRule) String() string {
	return string(r)
}
