package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

// BusinessStore holds the projection of the business directory the stamp
// core needs: ownership, card size, legacy reference and payload secret.
type BusinessStore struct {
	db *sql.DB
}

func NewBusinessStore(db *sql.DB) *BusinessStore {
	return &BusinessStore{db: db}
}

func scanBusiness(scanner interface{ Scan(...any) error }) (*model.Business, error) {
	var b model.Business
	var legacyRef, secret sql.NullString
	var createdAt int64

	err := scanner.Scan(
		&b.ID, &b.Name, &b.OwnerUserID, &b.StampsRequired, &b.RewardDescription,
		&legacyRef, &secret, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	b.LegacyRef = stringPtr(legacyRef)
	b.EncryptionSecret = stringPtr(secret)
	b.CreatedAt = fromMillis(createdAt)
	return &b, nil
}

const businessCols = `id, name, owner_user_id, stamps_required, reward_description, legacy_ref, encryption_secret, created_at`

type NewBusiness struct {
	Name              string
	OwnerUserID       string
	StampsRequired    int
	RewardDescription string
	LegacyRef         *string
}

func (s *BusinessStore) Create(ctx context.Context, nb NewBusiness) (*model.Business, error) {
	if strings.TrimSpace(nb.Name) == "" || nb.OwnerUserID == "" {
		return nil, fmt.Errorf("name and owner are required")
	}
	if nb.StampsRequired <= 0 {
		nb.StampsRequired = 10
	}

	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, owner_user_id, stamps_required, reward_description, legacy_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, nb.Name, nb.OwnerUserID, nb.StampsRequired, nb.RewardDescription, nullString(nb.LegacyRef), toMillis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert business: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *BusinessStore) GetByID(ctx context.Context, id string) (*model.Business, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+businessCols+` FROM businesses WHERE id = ?`, id)
	b, err := scanBusiness(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get business: %w", err)
	}
	return b, nil
}

// GetByLegacyRef resolves a legacy QR/NFC identifier by exact match.
func (s *BusinessStore) GetByLegacyRef(ctx context.Context, ref string) (*model.Business, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+businessCols+` FROM businesses WHERE legacy_ref = ?`, ref)
	b, err := scanBusiness(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get business by legacy ref: %w", err)
	}
	return b, nil
}

// List returns all businesses ordered by name.
func (s *BusinessStore) List(ctx context.Context) ([]model.Business, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+businessCols+` FROM businesses ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()

	var businesses []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		businesses = append(businesses, *b)
	}
	return businesses, rows.Err()
}

// SetSecret replaces the business payload secret. Payloads sealed under the
// previous secret stop verifying immediately.
func (s *BusinessStore) SetSecret(ctx context.Context, id, secret string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE businesses SET encryption_secret = ? WHERE id = ?`, secret, id)
	if err != nil {
		return fmt.Errorf("set business secret: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrBusinessNotFound
	}
	return nil
}
