package model

import "time"

// EventChannel is the path through which a stamp was awarded.
type EventChannel string

const (
	EventToken  EventChannel = "token"
	EventNFC    EventChannel = "nfc"
	EventQR     EventChannel = "qr"
	EventLegacy EventChannel = "legacy"
)

// StampEvent is one row of the collection log. Every awarded stamp has one.
type StampEvent struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	BusinessID string       `json:"business_id"`
	CardID     string       `json:"card_id"`
	Channel    EventChannel `json:"channel"`
	TokenID    *string      `json:"token_id,omitempty"`
	TagUID     *string      `json:"tag_uid,omitempty"`
	Nonce      *string      `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
}
