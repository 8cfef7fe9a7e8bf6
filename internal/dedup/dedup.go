// Package dedup decides which submitted stamps an address keeps when the same claim keys are
// already attached to another address in the community.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	cmodels "scorer/internal/community/models"
	"scorer/internal/hashindex"
	"scorer/internal/passport/models"
	"scorer/pkg/domain"
	"scorer/pkg/platform/audit"
	"scorer/pkg/platform/retry"
	"scorer/pkg/platform/sentinel"
	pstrings "scorer/pkg/platform/strings"
	txcontext "scorer/pkg/platform/tx"
)

// MaxClaimAttempts bounds the per-stamp LIFO decision retries on claim conflicts.
const MaxClaimAttempts = 5

// ErrHashIndexIntegrity means a stamp's claim kept conflicting until the retry budget ran
// out. It is fatal for the submission; the usual cause is the same claim key presented twice
// in one submission.
var ErrHashIndexIntegrity = errors.New("hash index integrity error")

// PassportStore is the stamp and score storage the FIFO path mutates.
type PassportStore interface {
	FindStampsByClaimKeys(ctx context.Context, communityID domain.CommunityID, keys []string, exclude domain.PassportID) ([]*models.Stamp, error)
	DeleteStamps(ctx context.Context, passportID domain.PassportID, hashes []string) error
	FindPassportByID(ctx context.Context, id domain.PassportID) (*models.Passport, error)
	SetRequiresCalculation(ctx context.Context, id domain.PassportID, requires bool) error
	GetScore(ctx context.Context, passportID domain.PassportID) (*models.Score, error)
	SaveScore(ctx context.Context, score *models.Score) error
}

// EventLog receives deduplication events.
type EventLog interface {
	Append(ctx context.Context, event audit.Event) error
}

// Result is the outcome of deduplicating one submission.
type Result struct {
	// Stamps are the credentials the submitter keeps.
	Stamps []*models.Credential
	// Affected are other passports that lost stamps (FIFO only) and must be rescored.
	Affected []models.AffectedPassport
	// Clashing maps provider to a credential the submitter lost (LIFO only).
	Clashing map[string]*models.Credential
}

// Engine applies a community's deduplication rule.
type Engine struct {
	index     hashindex.Index
	passports PassportStore
	events    EventLog
	retrier   *retry.Retrier
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRetryOptions tunes the claim retrier, for example its backoff.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(e *Engine) {
		e.retrier = e.newRetrier(opts...)
	}
}

func New(index hashindex.Index, passports PassportStore, events EventLog, opts ...Option) *Engine {
	e := &Engine{
		index:     index,
		passports: passports,
		events:    events,
		logger:    slog.Default(),
		now:       time.Now,
	}
	e.retrier = e.newRetrier()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) newRetrier(opts ...retry.Option) *retry.Retrier {
	notify := retry.WithNotify(func(attempt int, err error) {
		e.metrics.incClaimRetry()
		e.logger.Debug("claim conflict, retrying", "attempt", attempt, "error", err)
	})
	return retry.New(MaxClaimAttempts, retry.On(hashindex.ErrAlreadyClaimed), append([]retry.Option{notify}, opts...)...)
}

// Deduplicate applies community.Rule to credentials submitted for passport. It must run inside
// the submission's transaction so claims and stamp persistence commit together.
func (e *Engine) Deduplicate(ctx context.Context, community *cmodels.Community, passport *models.Passport, credentials []*models.Credential) (*Result, error) {
	switch community.Rule {
	case domain.DedupFIFO:
		return e.fifo(ctx, community, passport, credentials)
	default:
		return e.lifo(ctx, community, passport.Address, credentials)
	}
}

type lifoDecision int

const (
	decisionKeep lifoDecision = iota
	decisionClash
)

func (e *Engine) lifo(ctx context.Context, community *cmodels.Community, address domain.Address, credentials []*models.Credential) (*Result, error) {
	now := e.now()
	result := &Result{Clashing: map[string]*models.Credential{}}
	seen := map[string]struct{}{}

	for _, cred := range claimOrder(credentials) {
		keys := sortedKeys(cred)
		if len(keys) == 0 {
			result.Stamps = append(result.Stamps, cred)
			continue
		}
		if cred.ExpirationDate == nil {
			e.logger.WarnContext(ctx, "dropping credential without expiration",
				"community_id", community.ID, "address", address, "provider", cred.Subject.Provider)
			continue
		}

		// A key presented twice in one submission can never be claimed twice; every attempt
		// conflicts and the budget runs out.
		duplicate := len(pstrings.Overlap(keys, seen)) > 0
		for _, k := range keys {
			seen[k] = struct{}{}
		}

		var decision lifoDecision
		err := e.retrier.Do(ctx, func(ctx context.Context) error {
			if duplicate {
				return hashindex.ErrAlreadyClaimed
			}
			return txcontext.Savepoint(ctx, "dedup_stamp", func(ctx context.Context) error {
				d, err := e.decideLIFO(ctx, community.ID, address, cred, keys, now)
				decision = d
				return err
			})
		})
		if errors.Is(err, retry.ErrExhausted) {
			e.metrics.incIntegrityError()
			return nil, fmt.Errorf("%w: provider %q: %w", ErrHashIndexIntegrity, cred.Subject.Provider, err)
		}
		if err != nil {
			return nil, fmt.Errorf("deduplicate %s stamp: %w", cred.Subject.Provider, err)
		}

		if decision == decisionClash {
			result.Clashing[cred.Subject.Provider] = cred
			continue
		}
		result.Stamps = append(result.Stamps, cred)
	}

	if len(result.Clashing) > 0 {
		e.metrics.addClashes(domain.DedupLIFO, len(result.Clashing))
		data := make(map[string]any, len(result.Clashing))
		for provider, cred := range result.Clashing {
			data[provider] = cred.Raw
		}
		if err := e.appendEvent(ctx, audit.ActionLIFODeduplication, community.ID, address, data, now); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// decideLIFO reads the current owners of keys and either claims them for address or, when
// another address holds any of them, records a clash. For a clash, keys of the credential
// nobody holds are backfilled to the existing owner so the remainder of a multi-nullifier
// credential cannot be claimed by a third address.
func (e *Engine) decideLIFO(ctx context.Context, communityID domain.CommunityID, address domain.Address, cred *models.Credential, keys []string, now time.Time) (lifoDecision, error) {
	owners, err := e.index.Lookup(ctx, communityID, keys, now)
	if err != nil {
		return decisionKeep, err
	}

	for _, key := range keys {
		owner, ok := owners[key]
		if !ok || hashindex.IsSelfClaim(owner, address) {
			continue
		}
		for _, k := range keys {
			if _, held := owners[k]; held {
				continue
			}
			if err := e.index.Claim(ctx, communityID, k, owner.Address, owner.ExpiresAt, now); err != nil {
				return decisionClash, err
			}
		}
		return decisionClash, nil
	}

	expiresAt := *cred.ExpirationDate
	for _, key := range keys {
		owner, held := owners[key]
		switch {
		case !held:
			err = e.index.Claim(ctx, communityID, key, address, expiresAt, now)
		case expiresAt.After(owner.ExpiresAt):
			err = e.index.Transfer(ctx, communityID, key, address, address, expiresAt, now)
		}
		if err != nil {
			return decisionKeep, err
		}
	}
	return decisionKeep, nil
}

// claimOrder sorts credentials by their smallest claim key so concurrent submissions take
// index rows in the same order. Keyless credentials come first.
func claimOrder(credentials []*models.Credential) []*models.Credential {
	ordered := slices.Clone(credentials)
	slices.SortStableFunc(ordered, func(a, b *models.Credential) int {
		return strings.Compare(minKey(a), minKey(b))
	})
	return ordered
}

func minKey(c *models.Credential) string {
	keys := c.ClaimKeys()
	if len(keys) == 0 {
		return ""
	}
	return slices.Min(keys)
}

func sortedKeys(c *models.Credential) []string {
	keys := slices.Clone(c.ClaimKeys())
	slices.Sort(keys)
	return keys
}

func (e *Engine) fifo(ctx context.Context, community *cmodels.Community, passport *models.Passport, credentials []*models.Credential) (*Result, error) {
	now := e.now()
	result := &Result{Stamps: credentials, Clashing: map[string]*models.Credential{}}

	var keys []string
	for _, cred := range credentials {
		keys = append(keys, cred.ClaimKeys()...)
	}
	keys = pstrings.DedupeAndTrim(keys)
	if len(keys) == 0 {
		return result, nil
	}

	taken, err := e.passports.FindStampsByClaimKeys(ctx, community.ID, keys, passport.ID)
	if err != nil {
		return nil, fmt.Errorf("find clashing stamps: %w", err)
	}

	byPassport := map[domain.PassportID][]*models.Stamp{}
	var order []domain.PassportID
	for _, st := range taken {
		if _, ok := byPassport[st.PassportID]; !ok {
			order = append(order, st.PassportID)
		}
		byPassport[st.PassportID] = append(byPassport[st.PassportID], st)
	}

	for _, pid := range order {
		affected, err := e.takeStamps(ctx, community.ID, pid, byPassport[pid], passport.Address, now)
		if err != nil {
			return nil, err
		}
		result.Affected = append(result.Affected, *affected)
	}
	e.metrics.addClashes(domain.DedupFIFO, len(taken))
	return result, nil
}

// takeStamps removes stamps from a previous holder and flags its score for recomputation.
func (e *Engine) takeStamps(ctx context.Context, communityID domain.CommunityID, pid domain.PassportID, stamps []*models.Stamp, takenBy domain.Address, now time.Time) (*models.AffectedPassport, error) {
	holder, err := e.passports.FindPassportByID(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("load affected passport %d: %w", pid, err)
	}

	hashes := make([]string, len(stamps))
	removed := make([]map[string]string, len(stamps))
	for i, st := range stamps {
		hashes[i] = st.Hash
		removed[i] = map[string]string{"hash": st.Hash, "provider": st.Provider}
	}
	if err := e.passports.DeleteStamps(ctx, pid, hashes); err != nil {
		return nil, fmt.Errorf("delete taken stamps: %w", err)
	}
	if err := e.passports.SetRequiresCalculation(ctx, pid, true); err != nil {
		return nil, fmt.Errorf("flag affected passport: %w", err)
	}

	score, err := e.passports.GetScore(ctx, pid)
	if errors.Is(err, sentinel.ErrNotFound) {
		score = &models.Score{PassportID: pid}
	} else if err != nil {
		return nil, fmt.Errorf("load affected score: %w", err)
	}
	score.MarkProcessing()
	if err := e.passports.SaveScore(ctx, score); err != nil {
		return nil, fmt.Errorf("mark affected score processing: %w", err)
	}

	data := map[string]any{"taken_by": takenBy, "stamps": removed}
	if err := e.appendEvent(ctx, audit.ActionFIFODeduplication, communityID, holder.Address, data, now); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "stamps moved to newer submitter",
		"community_id", communityID, "address", holder.Address, "taken_by", takenBy, "count", len(stamps))
	return &models.AffectedPassport{PassportID: pid, CommunityID: communityID, Address: holder.Address}, nil
}

func (e *Engine) appendEvent(ctx context.Context, action audit.Action, communityID domain.CommunityID, address domain.Address, data any, now time.Time) error {
	event, err := audit.NewEvent(action, communityID, address, data, now)
	if err != nil {
		return fmt.Errorf("build %s event: %w", action, err)
	}
	if err := e.events.Append(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", action, err)
	}
	return nil
}
