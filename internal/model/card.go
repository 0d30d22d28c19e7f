package model

import "time"

type StampCard struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	BusinessID      string    `json:"business_id"`
	StampsCollected int       `json:"stamps_collected"`
	StampsRequired  int       `json:"stamps_required"`
	IsCompleted     bool      `json:"is_completed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
