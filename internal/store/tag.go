package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

// TagStore is the registry of provisioned NFC tags, keyed by tag UID.
type TagStore struct {
	db *sql.DB
}

func NewTagStore(db *sql.DB) *TagStore {
	return &TagStore{db: db}
}

func scanTag(scanner interface{ Scan(...any) error }) (*model.NfcTag, error) {
	var t model.NfcTag
	var active int
	var createdAt, updatedAt int64

	err := scanner.Scan(&t.UID, &t.BusinessID, &t.BranchNumber, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.IsActive = active != 0
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

const tagCols = `uid, business_id, branch_number, is_active, created_at, updated_at`

// Register binds uid to a business branch and marks it active. An existing
// registration is replaced only when allowReassign is set; otherwise
// ErrAlreadyProvisioned is returned and the row is untouched.
func (s *TagStore) Register(ctx context.Context, uid, businessID string, branch int, allowReassign bool) (*model.NfcTag, error) {
	at := toMillis(time.Now())

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := getTag(ctx, tx, uid)
		if err != nil {
			return err
		}
		if existing != nil {
			if !allowReassign {
				return ErrAlreadyProvisioned
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE nfc_tags SET business_id = ?, branch_number = ?, is_active = 1, updated_at = ? WHERE uid = ?`,
				businessID, branch, at, uid,
			)
			if err != nil {
				return fmt.Errorf("reassign tag: %w", err)
			}
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO nfc_tags (uid, business_id, branch_number, is_active, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
			uid, businessID, branch, at, at,
		)
		if isUniqueViolation(err) {
			return ErrAlreadyProvisioned
		}
		if err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, uid)
}

func (s *TagStore) Get(ctx context.Context, uid string) (*model.NfcTag, error) {
	return getTag(ctx, s.db, uid)
}

func getTag(ctx context.Context, q querier, uid string) (*model.NfcTag, error) {
	row := q.QueryRowContext(ctx, `SELECT `+tagCols+` FROM nfc_tags WHERE uid = ?`, uid)
	t, err := scanTag(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *TagStore) ListByBusiness(ctx context.Context, businessID string) ([]model.NfcTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tagCols+` FROM nfc_tags WHERE business_id = ? ORDER BY branch_number ASC, uid ASC`,
		businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []model.NfcTag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}

func (s *TagStore) SetActive(ctx context.Context, uid string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nfc_tags SET is_active = ?, updated_at = ? WHERE uid = ?`,
		boolInt(active), toMillis(time.Now()), uid,
	)
	if err != nil {
		return fmt.Errorf("set tag active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrTagNotFound
	}
	return nil
}
