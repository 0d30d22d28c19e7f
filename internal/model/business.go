package model

import "time"

type Business struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	OwnerUserID       string    `json:"owner_user_id"`
	StampsRequired    int       `json:"stamps_required"`
	RewardDescription string    `json:"reward_description"`
	LegacyRef         *string   `json:"legacy_ref,omitempty"`
	EncryptionSecret  *string   `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

func (b *Business) HasSecret() bool {
	return b.EncryptionSecret != nil && *b.EncryptionSecret != ""
}
