package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"scorer/internal/community/models"
	"scorer/pkg/domain"
	"scorer/pkg/platform/sentinel"
	txcontext "scorer/pkg/platform/tx"
)

// PostgresStore persists communities in the communities table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Community) error {
	weights, err := json.Marshal(c.Scorer.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	err = txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO communities (name, rule, scorer_type, weights, threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, c.Name, string(c.Rule), string(c.Scorer.Type), string(weights), c.Scorer.Threshold.String(), c.CreatedAt, c.UpdatedAt).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert community: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.CommunityID) (*models.Community, error) {
	var (
		c          models.Community
		rule       string
		scorerType string
		weights    []byte
		threshold  string
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name, rule, scorer_type, weights, threshold::text, created_at, updated_at
		FROM communities
		WHERE id = $1
	`, int64(id)).Scan(&c.ID, &c.Name, &rule, &scorerType, &weights, &threshold, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find community: %w", err)
	}

	c.Rule = domain.DedupRule(rule)
	c.Scorer.Type = models.ScorerType(scorerType)
	if err := json.Unmarshal(weights, &c.Scorer.Weights); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	c.Scorer.Threshold, err = decimal.NewFromString(threshold)
	if err != nil {
		return nil, fmt.Errorf("decode threshold: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c *models.Community) error {
	weights, err := json.Marshal(c.Scorer.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE communities
		SET name = $2, rule = $3, scorer_type = $4, weights = $5, threshold = $6, updated_at = $7
		WHERE id = $1
	`, int64(c.ID), c.Name, string(c.Rule), string(c.Scorer.Type), string(weights), c.Scorer.Threshold.String(), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update community: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update community rows: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
