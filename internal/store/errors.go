package store

import "errors"

var (
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrInvalidTTL         = errors.New("ttl must be positive")
	ErrInventoryEmpty     = errors.New("no unissued stamps in inventory")
	ErrTokenNotActive     = errors.New("token is not active")
	ErrAlreadyProvisioned = errors.New("tag already provisioned")
	ErrPayloadReplayed    = errors.New("payload already redeemed by this user")
	ErrBusinessNotFound   = errors.New("business not found")
	ErrTagNotFound        = errors.New("tag not found")
)
