package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"scorer/pkg/domain"
)

// Action names the kind of event appended to the log.
type Action string

const (
	// ActionScoreUpdate carries a full score snapshot; the source for historical scores.
	ActionScoreUpdate Action = "SCORE_UPDATE"
	// ActionLIFODeduplication records stamps a submitter lost to an existing claim.
	ActionLIFODeduplication Action = "LIFO_DEDUPLICATION"
	// ActionFIFODeduplication records stamps taken from a passport by a newer submitter.
	ActionFIFODeduplication Action = "FIFO_DEDUPLICATION"
	// ActionDataRemoval records a data removal request for an address.
	ActionDataRemoval Action = "DATA_REMOVAL"
)

var validActions = map[Action]bool{
	ActionScoreUpdate:       true,
	ActionLIFODeduplication: true,
	ActionFIFODeduplication: true,
	ActionDataRemoval:       true,
}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	return validActions[a]
}

func (a Action) String() string {
	return string(a)
}

// Event is an append-only record about one (community, address). Events are never mutated
// or deleted.
type Event struct {
	ID          uuid.UUID
	Action      Action
	CommunityID domain.CommunityID
	Address     domain.Address
	Data        json.RawMessage
	CreatedAt   time.Time
}

// NewEvent builds an event with a fresh ID, marshalling data into the payload.
func NewEvent(action Action, communityID domain.CommunityID, address domain.Address, data any, now time.Time) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.New(),
		Action:      action,
		CommunityID: communityID,
		Address:     address,
		Data:        payload,
		CreatedAt:   now,
	}, nil
}

// Store persists events. Append joins the transaction carried by ctx, if any.
//
// LatestBefore returns the most recent event of action for (community, address) created at or
// before t, or sentinel.ErrNotFound.
type Store interface {
	Append(ctx context.Context, event Event) error
	LatestBefore(ctx context.Context, action Action, communityID domain.CommunityID, address domain.Address, t time.Time) (*Event, error)
	List(ctx context.Context, communityID domain.CommunityID, address domain.Address) ([]Event, error)
}
