package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/secure"
)

const (
	MinBatch = 1
	MaxBatch = 500

	codeAttempts = 5
)

// TokenStore is the sole authority for stamp token status transitions.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.StampToken, error) {
	var t model.StampToken
	var issuedBy, claimedBy sql.NullString
	var issuedAt, claimedAt sql.NullInt64
	var createdAt, expiresAt int64

	err := scanner.Scan(
		&t.ID, &t.BusinessID, &t.Code, &t.Status, &t.Channel,
		&issuedBy, &issuedAt, &claimedBy, &claimedAt, &createdAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	t.IssuedBy = stringPtr(issuedBy)
	t.IssuedAt = timePtr(issuedAt)
	t.ClaimedBy = stringPtr(claimedBy)
	t.ClaimedAt = timePtr(claimedAt)
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	return &t, nil
}

const tokenCols = `id, business_id, code, status, channel, issued_by, issued_at, claimed_by, claimed_at, created_at, expires_at`

// ClaimStatus is the typed result of TryClaim.
type ClaimStatus int

const (
	ClaimOK ClaimStatus = iota + 1
	ClaimNotFound
	ClaimAlreadyUsed
	ClaimExpired
	ClaimVoided
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimOK:
		return "ok"
	case ClaimNotFound:
		return "not_found"
	case ClaimAlreadyUsed:
		return "already_used"
	case ClaimExpired:
		return "expired"
	case ClaimVoided:
		return "voided"
	default:
		return "unknown"
	}
}

type ClaimOutcome struct {
	Status ClaimStatus
	// Token is the row after the attempt; nil only for ClaimNotFound.
	Token *model.StampToken
}

// IssueBatch creates count tokens for the business, all expiring at now+ttl.
// Codes are unique; a colliding code is regenerated rather than dropped.
func (s *TokenStore) IssueBatch(ctx context.Context, businessID string, count int, ttl time.Duration, issuer *string, now time.Time) ([]model.StampToken, error) {
	if count < MinBatch || count > MaxBatch {
		return nil, ErrQuantityOutOfRange
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	created := toMillis(now)
	expires := toMillis(now.Add(ttl))
	var issuedAt sql.NullInt64
	if issuer != nil {
		issuedAt = sql.NullInt64{Int64: created, Valid: true}
	}

	ids := make([]string, 0, count)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO stamp_tokens (id, business_id, code, status, channel, issued_by, issued_at, created_at, expires_at)
			 VALUES (?, ?, ?, 'active', 'bulk', ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < count; i++ {
			id := newID()
			if err := insertWithFreshCode(ctx, stmt, id, businessID, nullString(issuer), issuedAt, created, expires); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tokens := make([]model.StampToken, 0, count)
	for _, id := range ids {
		t, err := s.getByID(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, nil
}

func insertWithFreshCode(ctx context.Context, stmt *sql.Stmt, id, businessID string, issuer sql.NullString, issuedAt sql.NullInt64, created, expires int64) error {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := secure.NewTokenCode()
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, id, businessID, code, issuer, issuedAt, created, expires)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("insert token: %w", err)
		}
	}
	return fmt.Errorf("insert token: no unique code after %d attempts", codeAttempts)
}

func (s *TokenStore) getByID(ctx context.Context, q querier, id string) (*model.StampToken, error) {
	row := q.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM stamp_tokens WHERE id = ?`, id)
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// FetchByCode is a read-only lookup. It does not apply lazy expiry.
func (s *TokenStore) FetchByCode(ctx context.Context, code string) (*model.StampToken, error) {
	return fetchByCode(ctx, s.db, code)
}

func fetchByCode(ctx context.Context, q querier, code string) (*model.StampToken, error) {
	row := q.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM stamp_tokens WHERE code = ?`, code)
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch token by code: %w", err)
	}
	return t, nil
}

// TryClaim atomically moves an Active, unexpired token to Used for userID.
// Of any number of concurrent calls for one code, at most one sees ClaimOK.
func (s *TokenStore) TryClaim(ctx context.Context, code, userID string, now time.Time) (ClaimOutcome, error) {
	var out ClaimOutcome
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		out, err = tryClaim(ctx, tx, code, userID, now)
		return err
	})
	return out, err
}

// tryClaim must run inside a write transaction. The guarded UPDATE is the
// first statement so the write lock is held before anything is read; the
// lazy Active->Expired transition and the classification read happen under
// the same lock.
func tryClaim(ctx context.Context, tx querier, code, userID string, now time.Time) (ClaimOutcome, error) {
	at := toMillis(now)

	res, err := tx.ExecContext(ctx,
		`UPDATE stamp_tokens SET status = 'used', claimed_by = ?, claimed_at = ?
		 WHERE code = ? AND status = 'active' AND expires_at >= ?`,
		userID, at, code, at,
	)
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("claim token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stamp_tokens SET status = 'expired' WHERE code = ? AND status = 'active' AND expires_at < ?`,
			code, at,
		); err != nil {
			return ClaimOutcome{}, fmt.Errorf("expire token: %w", err)
		}
	}

	t, err := fetchByCode(ctx, tx, code)
	if err != nil {
		return ClaimOutcome{}, err
	}
	if t == nil {
		return ClaimOutcome{Status: ClaimNotFound}, nil
	}
	if n == 1 {
		return ClaimOutcome{Status: ClaimOK, Token: t}, nil
	}

	switch t.Status {
	case model.TokenUsed:
		return ClaimOutcome{Status: ClaimAlreadyUsed, Token: t}, nil
	case model.TokenExpired:
		return ClaimOutcome{Status: ClaimExpired, Token: t}, nil
	case model.TokenVoided:
		return ClaimOutcome{Status: ClaimVoided, Token: t}, nil
	}
	return ClaimOutcome{}, fmt.Errorf("claim token: unexpected status %q", t.Status)
}

// Void moves an Active, unexpired token to Voided.
func (s *TokenStore) Void(ctx context.Context, code string, now time.Time) (*model.StampToken, error) {
	var t *model.StampToken
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE stamp_tokens SET status = 'voided' WHERE code = ? AND status = 'active' AND expires_at >= ?`,
			code, toMillis(now),
		)
		if err != nil {
			return fmt.Errorf("void token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		t, err = fetchByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if t != nil && n == 0 {
			return ErrTokenNotActive
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ExpireOverdue persists Expired on every Active token past its expiry.
// Claims already treat such tokens as expired; the sweep keeps stored
// statuses honest for reporting.
func (s *TokenStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stamp_tokens SET status = 'expired' WHERE status = 'active' AND expires_at < ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue tokens: %w", err)
	}
	return res.RowsAffected()
}

// ReserveForStaff hands one unissued Active token from the business's
// inventory to a staff member, shortening its lifetime to ttl.
func (s *TokenStore) ReserveForStaff(ctx context.Context, businessID, staffID string, channel model.TokenChannel, ttl time.Duration, now time.Time) (*model.StampToken, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	at := toMillis(now)

	var t *model.StampToken
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM stamp_tokens
			 WHERE business_id = ? AND status = 'active' AND issued_by IS NULL AND expires_at > ?
			 ORDER BY expires_at ASC, id ASC LIMIT 1`,
			businessID, at,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return ErrInventoryEmpty
		}
		if err != nil {
			return fmt.Errorf("find inventory token: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE stamp_tokens
			 SET issued_by = ?, issued_at = ?, channel = ?, expires_at = MIN(expires_at, ?)
			 WHERE id = ? AND issued_by IS NULL`,
			staffID, at, string(channel), toMillis(now.Add(ttl)), id,
		); err != nil {
			return fmt.Errorf("reserve token: %w", err)
		}

		t, err = s.getByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListByBusiness returns the business's tokens, newest first.
func (s *TokenStore) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.StampToken, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tokenCols+` FROM stamp_tokens WHERE business_id = ? ORDER BY created_at DESC, id ASC LIMIT ?`,
		businessID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.StampToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

// Stats counts the business's tokens by effective status at now.
func (s *TokenStore) Stats(ctx context.Context, businessID string, now time.Time) (*model.TokenStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN status = 'active' AND expires_at < ? THEN 'expired' ELSE status END AS effective, COUNT(*)
		 FROM stamp_tokens WHERE business_id = ? GROUP BY effective`,
		toMillis(now), businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("token stats: %w", err)
	}
	defer rows.Close()

	var stats model.TokenStats
	for rows.Next() {
		var status model.TokenStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += n
		switch status {
		case model.TokenActive:
			stats.Active = n
		case model.TokenUsed:
			stats.Used = n
		case model.TokenExpired:
			stats.Expired = n
		case model.TokenVoided:
			stats.Voided = n
		}
	}
	return &stats, rows.Err()
}

// CountClaimsSince counts tokens claimed by userID strictly after since.
// An empty businessID counts across all businesses.
func (s *TokenStore) CountClaimsSince(ctx context.Context, userID, businessID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM stamp_tokens WHERE claimed_by = ? AND claimed_at > ?`
	args := []any{userID, toMillis(since)}
	if businessID != "" {
		query += ` AND business_id = ?`
		args = append(args, businessID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return n, nil
}
