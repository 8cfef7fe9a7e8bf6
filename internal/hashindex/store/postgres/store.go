package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"scorer/internal/hashindex"
	pgplatform "scorer/internal/platform/postgres"
	"scorer/pkg/domain"
	txcontext "scorer/pkg/platform/tx"
)

// Store is the claim index over the hash_scorer_links table, whose unique constraint on
// (community_id, hash) arbitrates concurrent claims.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Lookup(ctx context.Context, communityID domain.CommunityID, keys []string, now time.Time) (map[string]hashindex.Owner, error) {
	owners := make(map[string]hashindex.Owner)
	if len(keys) == 0 {
		return owners, nil
	}

	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT hash, address, expires_at
		FROM hash_scorer_links
		WHERE community_id = $1 AND hash = ANY($2) AND expires_at > $3
	`, int64(communityID), pq.Array(keys), now)
	if err != nil {
		return nil, fmt.Errorf("lookup hash links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			owner hashindex.Owner
		)
		if err := rows.Scan(&key, &owner.Address, &owner.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan hash link: %w", err)
		}
		owners[key] = owner
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hash links: %w", err)
	}
	return owners, nil
}

// Claim drops an expired entry for key, then inserts. A live entry, or one committed by a
// concurrent writer, surfaces as ErrAlreadyClaimed.
func (s *Store) Claim(ctx context.Context, communityID domain.CommunityID, key string, address domain.Address, expiresAt, now time.Time) error {
	return txcontext.Savepoint(ctx, "hashindex_claim", func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		if _, err := exec.ExecContext(ctx, `
			DELETE FROM hash_scorer_links
			WHERE community_id = $1 AND hash = $2 AND expires_at <= $3
		`, int64(communityID), key, now); err != nil {
			return fmt.Errorf("prune expired hash link: %w", err)
		}
		return s.insert(ctx, exec, communityID, key, address, expiresAt)
	})
}

// Transfer deletes from's entry (or an expired one) and inserts to's. If another address
// holds a live entry the insert conflicts.
func (s *Store) Transfer(ctx context.Context, communityID domain.CommunityID, key string, from, to domain.Address, expiresAt, now time.Time) error {
	return txcontext.Savepoint(ctx, "hashindex_transfer", func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		if _, err := exec.ExecContext(ctx, `
			DELETE FROM hash_scorer_links
			WHERE community_id = $1 AND hash = $2 AND (address = $3 OR expires_at <= $4)
		`, int64(communityID), key, from.String(), now); err != nil {
			return fmt.Errorf("delete hash link: %w", err)
		}
		return s.insert(ctx, exec, communityID, key, to, expiresAt)
	})
}

func (s *Store) insert(ctx context.Context, exec txcontext.Executor, communityID domain.CommunityID, key string, address domain.Address, expiresAt time.Time) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO hash_scorer_links (community_id, hash, address, expires_at)
		VALUES ($1, $2, $3, $4)
	`, int64(communityID), key, address.String(), expiresAt)
	if pgplatform.IsUniqueViolation(err) {
		return hashindex.ErrAlreadyClaimed
	}
	if err != nil {
		return fmt.Errorf("insert hash link: %w", err)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, communityID domain.CommunityID, key string, address domain.Address) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		DELETE FROM hash_scorer_links
		WHERE community_id = $1 AND hash = $2 AND address = $3
	`, int64(communityID), key, address.String())
	if err != nil {
		return fmt.Errorf("release hash link: %w", err)
	}
	return nil
}

func (s *Store) ReleaseAddress(ctx context.Context, communityID domain.CommunityID, address domain.Address) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		DELETE FROM hash_scorer_links
		WHERE community_id = $1 AND address = $2
	`, int64(communityID), address.String())
	if err != nil {
		return fmt.Errorf("release hash links for address: %w", err)
	}
	return nil
}
