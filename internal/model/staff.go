package model

import "time"

type StaffRole string

const (
	RoleStaff   StaffRole = "staff"
	RoleManager StaffRole = "manager"
)

func (r StaffRole) Valid() bool {
	return r == RoleStaff || r == RoleManager
}

// StaffMember lets a user issue single stamps at the counter on behalf of a
// business.
type StaffMember struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	UserID     string    `json:"user_id"`
	Role       StaffRole `json:"role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
