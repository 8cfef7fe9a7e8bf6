package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"scorer/internal/passport/models"
	"scorer/pkg/domain"
	"scorer/pkg/platform/sentinel"
	txcontext "scorer/pkg/platform/tx"
)

// Store persists passports, stamps and scores.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetOrCreatePassport(ctx context.Context, communityID domain.CommunityID, address domain.Address, now time.Time) (*models.Passport, error) {
	// DO UPDATE (not DO NOTHING) so RETURNING yields the existing row too.
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO passports (community_id, address, requires_calculation, created_at)
		VALUES ($1, $2, FALSE, $3)
		ON CONFLICT (address, community_id) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, community_id, address, requires_calculation, created_at
	`, int64(communityID), address.String(), now)

	p, err := scanPassport(row)
	if err != nil {
		return nil, fmt.Errorf("upsert passport: %w", err)
	}
	return p, nil
}

func (s *Store) FindPassport(ctx context.Context, communityID domain.CommunityID, address domain.Address) (*models.Passport, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, community_id, address, requires_calculation, created_at
		FROM passports
		WHERE community_id = $1 AND address = $2
	`, int64(communityID), address.String())

	p, err := scanPassport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find passport: %w", err)
	}
	return p, nil
}

func (s *Store) FindPassportByID(ctx context.Context, id domain.PassportID) (*models.Passport, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, community_id, address, requires_calculation, created_at
		FROM passports
		WHERE id = $1
	`, int64(id))

	p, err := scanPassport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find passport by id: %w", err)
	}
	return p, nil
}

func (s *Store) SetRequiresCalculation(ctx context.Context, id domain.PassportID, requires bool) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE passports SET requires_calculation = $2 WHERE id = $1
	`, int64(id), requires)
	if err != nil {
		return fmt.Errorf("update passport: %w", err)
	}
	return requireRow(res)
}

// DeletePassport removes the passport; stamps and score cascade.
func (s *Store) DeletePassport(ctx context.Context, id domain.PassportID) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM passports WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete passport: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListStamps(ctx context.Context, passportID domain.PassportID) ([]*models.Stamp, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id, passport_id, hash, provider, credential, expires_at, created_at, updated_at
		FROM stamps
		WHERE passport_id = $1
		ORDER BY id
	`, int64(passportID))
	if err != nil {
		return nil, fmt.Errorf("list stamps: %w", err)
	}
	return scanStamps(rows)
}

// UpsertStamp inserts the stamp or replaces the stored row with the same (hash, passport)
// when the new expiration is later. It reports whether a row was written.
func (s *Store) UpsertStamp(ctx context.Context, stamp *models.Stamp) (bool, error) {
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO stamps (passport_id, hash, provider, credential, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hash, passport_id) DO UPDATE
		SET provider = EXCLUDED.provider,
		    credential = EXCLUDED.credential,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
		WHERE stamps.expires_at < EXCLUDED.expires_at
		RETURNING id
	`,
		int64(stamp.PassportID),
		stamp.Hash,
		stamp.Provider,
		string(stamp.Credential.Raw),
		stamp.ExpiresAt,
		stamp.CreatedAt,
		stamp.UpdatedAt,
	).Scan(&stamp.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert stamp: %w", err)
	}
	return true, nil
}

func (s *Store) DeleteStamps(ctx context.Context, passportID domain.PassportID, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		DELETE FROM stamps WHERE passport_id = $1 AND hash = ANY($2)
	`, int64(passportID), pq.Array(hashes))
	if err != nil {
		return fmt.Errorf("delete stamps: %w", err)
	}
	return nil
}

// FindStampsByClaimKeys returns stamps in the community, on passports other than exclude,
// whose stored hash or nullifiers intersect keys. Rows are locked for the enclosing
// transaction.
func (s *Store) FindStampsByClaimKeys(ctx context.Context, communityID domain.CommunityID, keys []string, exclude domain.PassportID) ([]*models.Stamp, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT s.id, s.passport_id, s.hash, s.provider, s.credential, s.expires_at, s.created_at, s.updated_at
		FROM stamps s
		JOIN passports p ON p.id = s.passport_id
		WHERE p.community_id = $1
		  AND s.passport_id <> $3
		  AND (s.hash = ANY($2)
		       OR jsonb_exists_any(s.credential -> 'credentialSubject' -> 'nullifiers', $2::text[]))
		ORDER BY s.id
		FOR UPDATE OF s
	`, int64(communityID), pq.Array(keys), int64(exclude))
	if err != nil {
		return nil, fmt.Errorf("find stamps by claim keys: %w", err)
	}
	return scanStamps(rows)
}

func (s *Store) GetScore(ctx context.Context, passportID domain.PassportID) (*models.Score, error) {
	var (
		score       models.Score
		value       decimal.NullDecimal
		status      string
		evidence    []byte
		stampScores []byte
		expiration  sql.NullTime
		lastScore   sql.NullTime
	)
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT passport_id, score, status, evidence, stamp_scores, expiration_date, last_score_timestamp, error
		FROM scores
		WHERE passport_id = $1
	`, int64(passportID)).Scan(&score.PassportID, &value, &status, &evidence, &stampScores, &expiration, &lastScore, &score.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}

	score.Status = models.ScoreStatus(status)
	if value.Valid {
		v := value.Decimal
		score.Score = &v
	}
	if len(evidence) > 0 && string(evidence) != "null" {
		score.Evidence = &models.Evidence{}
		if err := json.Unmarshal(evidence, score.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
	}
	if len(stampScores) > 0 {
		if err := json.Unmarshal(stampScores, &score.StampScores); err != nil {
			return nil, fmt.Errorf("decode stamp scores: %w", err)
		}
	}
	if expiration.Valid {
		t := expiration.Time
		score.ExpirationDate = &t
	}
	if lastScore.Valid {
		t := lastScore.Time
		score.LastScoreTimestamp = &t
	}
	return &score, nil
}

func (s *Store) SaveScore(ctx context.Context, score *models.Score) error {
	var value decimal.NullDecimal
	if score.Score != nil {
		value = decimal.NewNullDecimal(*score.Score)
	}
	var evidence any
	if score.Evidence != nil {
		b, err := json.Marshal(score.Evidence)
		if err != nil {
			return fmt.Errorf("encode evidence: %w", err)
		}
		evidence = string(b)
	}
	stampScores := score.StampScores
	if stampScores == nil {
		stampScores = map[string]models.StampScore{}
	}
	encodedStampScores, err := json.Marshal(stampScores)
	if err != nil {
		return fmt.Errorf("encode stamp scores: %w", err)
	}

	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO scores (passport_id, score, status, evidence, stamp_scores, expiration_date, last_score_timestamp, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (passport_id) DO UPDATE
		SET score = EXCLUDED.score,
		    status = EXCLUDED.status,
		    evidence = EXCLUDED.evidence,
		    stamp_scores = EXCLUDED.stamp_scores,
		    expiration_date = EXCLUDED.expiration_date,
		    last_score_timestamp = EXCLUDED.last_score_timestamp,
		    error = EXCLUDED.error
	`,
		int64(score.PassportID),
		value,
		string(score.Status),
		evidence,
		string(encodedStampScores),
		nullTime(score.ExpirationDate),
		nullTime(score.LastScoreTimestamp),
		score.Error,
	)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPassport(row scanner) (*models.Passport, error) {
	var p models.Passport
	if err := row.Scan(&p.ID, &p.CommunityID, &p.Address, &p.RequiresCalculation, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanStamps(rows *sql.Rows) ([]*models.Stamp, error) {
	defer rows.Close()

	var stamps []*models.Stamp
	for rows.Next() {
		var (
			st  models.Stamp
			raw []byte
		)
		if err := rows.Scan(&st.ID, &st.PassportID, &st.Hash, &st.Provider, &raw, &st.ExpiresAt, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stamp: %w", err)
		}
		cred, err := models.ParseCredential(raw)
		if err != nil {
			return nil, fmt.Errorf("decode stored credential %d: %w", st.ID, err)
		}
		st.Credential = cred
		stamps = append(stamps, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stamps: %w", err)
	}
	return stamps, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
