package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

// Ledger applies stamp awards. Each award runs in one transaction: the
// authorization (token claim or nonce registration), the card increment and
// the collection log row commit together or not at all.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// RedeemToken claims the token and, on success, credits the claimant's card.
// The card is nil unless the outcome is ClaimOK. Failed claims still commit
// so a lazily observed expiry is persisted.
func (l *Ledger) RedeemToken(ctx context.Context, code, userID string, now time.Time) (ClaimOutcome, *model.StampCard, error) {
	var out ClaimOutcome
	var card *model.StampCard

	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		out, err = tryClaim(ctx, tx, code, userID, now)
		if err != nil || out.Status != ClaimOK {
			return err
		}

		card, err = addStamp(ctx, tx, userID, out.Token.BusinessID, now)
		if err != nil {
			return err
		}

		tokenID := out.Token.ID
		return insertEvent(ctx, tx, model.StampEvent{
			ID:         newID(),
			UserID:     userID,
			BusinessID: out.Token.BusinessID,
			CardID:     card.ID,
			Channel:    model.EventToken,
			TokenID:    &tokenID,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return ClaimOutcome{}, nil, err
	}
	return out, card, nil
}

// Award describes a stamp authorized by tag identity or signature rather
// than by a stored single-use token.
type Award struct {
	UserID     string
	BusinessID string
	Channel    model.EventChannel
	TagUID     string
	// Nonce identifies the signed payload. A user can redeem a given nonce
	// once; empty disables the check.
	Nonce string
}

// AwardStamp credits one stamp. A nonce the user already redeemed yields
// ErrPayloadReplayed and no state change.
func (l *Ledger) AwardStamp(ctx context.Context, a Award, now time.Time) (*model.StampCard, error) {
	if a.UserID == "" || a.BusinessID == "" {
		return nil, fmt.Errorf("award: user and business are required")
	}

	var card *model.StampCard
	err := withTx(ctx, l.db, func(tx *sql.Tx) error {
		if a.Nonce != "" {
			var seen int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM stamp_events WHERE user_id = ? AND nonce = ?`,
				a.UserID, a.Nonce,
			).Scan(&seen)
			if err != nil {
				return fmt.Errorf("check nonce: %w", err)
			}
			if seen > 0 {
				return ErrPayloadReplayed
			}
		}

		var err error
		card, err = addStamp(ctx, tx, a.UserID, a.BusinessID, now)
		if err != nil {
			return err
		}

		e := model.StampEvent{
			ID:         newID(),
			UserID:     a.UserID,
			BusinessID: a.BusinessID,
			CardID:     card.ID,
			Channel:    a.Channel,
			CreatedAt:  now,
		}
		if a.TagUID != "" {
			e.TagUID = &a.TagUID
		}
		if a.Nonce != "" {
			e.Nonce = &a.Nonce
		}
		return insertEvent(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}
