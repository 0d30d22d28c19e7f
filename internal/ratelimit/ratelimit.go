// Package ratelimit bounds how fast a user can collect stamps. Limits are a
// pure function of recorded claim history; no counters are kept here.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

// Channel selects which history and policy a check uses.
type Channel int

const (
	// ChannelToken covers one-time token claims across all businesses.
	ChannelToken Channel = iota + 1
	// ChannelSigned covers signed QR, NFC and legacy stamps at one business.
	ChannelSigned
)

func (c Channel) String() string {
	switch c {
	case ChannelToken:
		return "token"
	case ChannelSigned:
		return "signed"
	default:
		return "unknown"
	}
}

type Decision int

const (
	Allowed Decision = iota + 1
	Denied
)

// Policy permits at most Ceiling stamps in any trailing Window.
type Policy struct {
	Ceiling int
	Window  time.Duration
}

var (
	DefaultTokenPolicy  = Policy{Ceiling: 10, Window: time.Hour}
	DefaultSignedPolicy = Policy{Ceiling: 2, Window: 24 * time.Hour}
)

var signedChannels = []model.EventChannel{model.EventNFC, model.EventQR, model.EventLegacy}

// ClaimCounter counts one-time token claims; satisfied by store.TokenStore.
type ClaimCounter interface {
	CountClaimsSince(ctx context.Context, userID, businessID string, since time.Time) (int, error)
}

// EventCounter counts logged stamps by channel; satisfied by store.EventStore.
type EventCounter interface {
	CountSince(ctx context.Context, userID, businessID string, channels []model.EventChannel, since time.Time) (int, error)
}

type Limiter struct {
	claims ClaimCounter
	events EventCounter
	token  Policy
	signed Policy
	logger *slog.Logger
}

func New(claims ClaimCounter, events EventCounter, token, signed Policy, logger *slog.Logger) *Limiter {
	return &Limiter{
		claims: claims,
		events: events,
		token:  token,
		signed: signed,
		logger: logger,
	}
}

// Check reports whether one more stamp through channel is within policy.
// businessID is ignored for ChannelToken. If the history cannot be read the
// check fails open.
func (l *Limiter) Check(ctx context.Context, channel Channel, userID, businessID string, now time.Time) Decision {
	var (
		policy Policy
		n      int
		err    error
	)
	switch channel {
	case ChannelToken:
		policy = l.token
		if policy.Ceiling <= 0 {
			return Allowed
		}
		n, err = l.claims.CountClaimsSince(ctx, userID, "", now.Add(-policy.Window))
	case ChannelSigned:
		policy = l.signed
		if policy.Ceiling <= 0 {
			return Allowed
		}
		n, err = l.events.CountSince(ctx, userID, businessID, signedChannels, now.Add(-policy.Window))
	default:
		return Allowed
	}

	if err != nil {
		l.logger.Warn("rate limit check failed, allowing", "channel", channel.String(), "user_id", userID, "error", err)
		return Allowed
	}
	if n >= policy.Ceiling {
		return Denied
	}
	return Allowed
}
