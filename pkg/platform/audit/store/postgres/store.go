package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"scorer/pkg/domain"
	audit "scorer/pkg/platform/audit"
	"scorer/pkg/platform/sentinel"
	txcontext "scorer/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each event is written to score_events (queried for history) and to the outbox table
// (published to Kafka by the relay) in the same transaction.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON document published to Kafka.
type outboxPayload struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	CommunityID int64           `json:"communityId"`
	Address     string          `json:"address"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   string          `json:"createdAt"`
}

// Append writes the event and its outbox entry.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	data := event.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}

	exec := txcontext.Exec(ctx, s.db)

	_, err := exec.ExecContext(ctx, `
		INSERT INTO score_events (id, action, community_id, address, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, string(event.Action), int64(event.CommunityID), event.Address.String(), string(data), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert score event: %w", err)
	}

	payload, err := json.Marshal(outboxPayload{
		ID:          event.ID.String(),
		Action:      string(event.Action),
		CommunityID: int64(event.CommunityID),
		Address:     event.Address.String(),
		Data:        data,
		CreatedAt:   event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		"passport",
		strconv.FormatInt(int64(event.CommunityID), 10)+":"+event.Address.String(),
		string(event.Action),
		string(payload),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// LatestBefore returns the newest event of action for (community, address) with
// created_at <= t. Events sharing a timestamp resolve to the later append.
func (s *Store) LatestBefore(ctx context.Context, action audit.Action, communityID domain.CommunityID, address domain.Address, t time.Time) (*audit.Event, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, action, community_id, address, data, created_at
		FROM score_events
		WHERE community_id = $1 AND address = $2 AND action = $3 AND created_at <= $4
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, int64(communityID), address.String(), string(action), t)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest score event: %w", err)
	}
	return event, nil
}

// List returns the stream for (community, address), oldest first.
func (s *Store) List(ctx context.Context, communityID domain.CommunityID, address domain.Address) ([]audit.Event, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id, action, community_id, address, data, created_at
		FROM score_events
		WHERE community_id = $1 AND address = $2
		ORDER BY created_at ASC, seq ASC
	`, int64(communityID), address.String())
	if err != nil {
		return nil, fmt.Errorf("query score events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*audit.Event, error) {
	var (
		event     audit.Event
		action    string
		community int64
		address   string
		data      []byte
	)
	if err := row.Scan(&event.ID, &action, &community, &address, &data, &event.CreatedAt); err != nil {
		return nil, err
	}
	event.Action = audit.Action(action)
	event.CommunityID = domain.CommunityID(community)
	event.Address = domain.Address(address)
	event.Data = json.RawMessage(data)
	return &event, nil
}
