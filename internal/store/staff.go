package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

// StaffStore is the roster of users allowed to issue stamps for a business.
type StaffStore struct {
	db *sql.DB
}

func NewStaffStore(db *sql.DB) *StaffStore {
	return &StaffStore{db: db}
}

func scanStaffMember(scanner interface{ Scan(...any) error }) (*model.StaffMember, error) {
	var m model.StaffMember
	var createdAt, updatedAt int64
	err := scanner.Scan(&m.ID, &m.BusinessID, &m.UserID, &m.Role, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

const staffCols = `id, business_id, user_id, role, created_at, updated_at`

// AddMember adds userID to the business roster, or updates the role if the
// user is already on it.
func (s *StaffStore) AddMember(ctx context.Context, businessID, userID string, role model.StaffRole) (*model.StaffMember, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid staff role %q", role)
	}
	at := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO staff_members (id, business_id, user_id, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, user_id) DO UPDATE SET role = excluded.role, updated_at = excluded.updated_at`,
		newID(), businessID, userID, string(role), at, at,
	)
	if err != nil {
		return nil, fmt.Errorf("add staff member: %w", err)
	}
	return s.GetMember(ctx, businessID, userID)
}

func (s *StaffStore) RemoveMember(ctx context.Context, businessID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM staff_members WHERE business_id = ? AND user_id = ?`,
		businessID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove staff member: %w", err)
	}
	return nil
}

func (s *StaffStore) GetMember(ctx context.Context, businessID, userID string) (*model.StaffMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+staffCols+` FROM staff_members WHERE business_id = ? AND user_id = ?`,
		businessID, userID,
	)
	m, err := scanStaffMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get staff member: %w", err)
	}
	return m, nil
}

func (s *StaffStore) ListMembers(ctx context.Context, businessID string) ([]model.StaffMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+staffCols+` FROM staff_members WHERE business_id = ? ORDER BY created_at ASC, user_id ASC`,
		businessID,
	)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var members []model.StaffMember
	for rows.Next() {
		m, err := scanStaffMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}
