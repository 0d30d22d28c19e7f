package model

import "time"

type NfcTag struct {
	UID          string    `json:"uid"`
	BusinessID   string    `json:"business_id"`
	BranchNumber int       `json:"branch_number"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
