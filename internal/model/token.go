package model

import "time"

// TokenStatus is the lifecycle state of a StampToken. Active is the only
// non-terminal state.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenUsed    TokenStatus = "used"
	TokenExpired TokenStatus = "expired"
	TokenVoided  TokenStatus = "voided"
)

func (s TokenStatus) Terminal() bool {
	return s != TokenActive
}

// TokenChannel records how a token reached the customer.
type TokenChannel string

const (
	ChannelBulk TokenChannel = "bulk"
	ChannelNFC  TokenChannel = "nfc"
	ChannelQR   TokenChannel = "qr"
)

func (c TokenChannel) Valid() bool {
	switch c {
	case ChannelBulk, ChannelNFC, ChannelQR:
		return true
	}
	return false
}

type StampToken struct {
	ID         string       `json:"id"`
	BusinessID string       `json:"business_id"`
	Code       string       `json:"code"`
	Status     TokenStatus  `json:"status"`
	Channel    TokenChannel `json:"channel"`
	IssuedBy   *string      `json:"issued_by"`
	IssuedAt   *time.Time   `json:"issued_at"`
	ClaimedBy  *string      `json:"claimed_by"`
	ClaimedAt  *time.Time   `json:"claimed_at"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// EffectiveStatus reports the status a reader should act on at now: an
// Active token past its expiry is Expired even if the row was never updated.
func (t *StampToken) EffectiveStatus(now time.Time) TokenStatus {
	if t.Status == TokenActive && now.After(t.ExpiresAt) {
		return TokenExpired
	}
	return t.Status
}

type TokenStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Used    int `json:"used"`
	Expired int `json:"expired"`
	Voided  int `json:"voided"`
}
