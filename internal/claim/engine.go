// Package claim turns a customer's scan into a stamp. It is the only path
// by which stamps are awarded.
package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/ratelimit"
	"github.com/dukerupert/stampd/internal/secure"
	"github.com/dukerupert/stampd/internal/store"
	"github.com/dukerupert/stampd/internal/token"
	"github.com/dukerupert/stampd/internal/websocket"
)

// Broadcaster receives a message for every stamp awarded.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Options struct {
	// MaxAge bounds how old a signed payload may be.
	MaxAge time.Duration
	// AllowLegacyRefs accepts static per-business references as scans.
	AllowLegacyRefs bool
}

// RedeemRequest is one scan by an identified customer. TagUID names the NFC
// tag the scan was read from and is required for encrypted tag payloads.
type RedeemRequest struct {
	RawScan string
	UserID  string
	TagUID  string
}

type Engine struct {
	businesses *store.BusinessStore
	tags       *store.TagStore
	ledger     *store.Ledger
	limiter    *ratelimit.Limiter
	keys       *secure.KeyCache
	feed       Broadcaster
	opts       Options
	logger     *slog.Logger
}

func NewEngine(
	businesses *store.BusinessStore,
	tags *store.TagStore,
	ledger *store.Ledger,
	limiter *ratelimit.Limiter,
	keys *secure.KeyCache,
	feed Broadcaster,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.MaxAge <= 0 {
		opts.MaxAge = token.DefaultMaxAge
	}
	return &Engine{
		businesses: businesses,
		tags:       tags,
		ledger:     ledger,
		limiter:    limiter,
		keys:       keys,
		feed:       feed,
		opts:       opts,
		logger:     logger,
	}
}

// Redeem classifies the scan and, if it authorizes a stamp, credits the
// user's card. Every expected rejection is a Result; the error is non-nil
// only for infrastructure failures and then wraps ErrUnavailable.
func (e *Engine) Redeem(ctx context.Context, req RedeemRequest, now time.Time) (Result, error) {
	if req.UserID == "" {
		return rejected(ReasonUnauthorized), nil
	}

	scan, err := token.DecodeScan(req.RawScan)
	if err != nil {
		return rejected(ReasonInvalidCode), nil
	}

	switch scan.Kind {
	case token.KindOneTime:
		return e.redeemToken(ctx, req.UserID, scan.Code, now)
	case token.KindSignedQR:
		return e.redeemSignedQR(ctx, req.UserID, scan.QR, now)
	case token.KindSignedNFC:
		return e.redeemNFC(ctx, req.UserID, req.TagUID, scan.Sealed, now)
	case token.KindLegacyRef:
		return e.redeemLegacy(ctx, req.UserID, scan.Ref, now)
	}
	return rejected(ReasonInvalidCode), nil
}

func (e *Engine) redeemToken(ctx context.Context, userID, code string, now time.Time) (Result, error) {
	if e.limiter.Check(ctx, ratelimit.ChannelToken, userID, "", now) == ratelimit.Denied {
		e.logger.Warn("redeem rejected", "user_id", userID, "reason", ReasonRateLimited)
		return rejected(ReasonRateLimited), nil
	}

	out, card, err := e.ledger.RedeemToken(ctx, code, userID, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: redeem token: %w", ErrUnavailable, err)
	}

	switch out.Status {
	case store.ClaimOK:
		return e.redeemed(card, model.EventToken), nil
	case store.ClaimNotFound:
		return rejected(ReasonInvalidCode), nil
	case store.ClaimAlreadyUsed:
		e.logger.Warn("redeem rejected", "user_id", userID, "reason", ReasonAlreadyUsed, "token_id", out.Token.ID)
		return rejected(ReasonAlreadyUsed), nil
	case store.ClaimExpired:
		return rejected(ReasonTokenExpired), nil
	case store.ClaimVoided:
		return rejected(ReasonTokenVoided), nil
	}
	return Result{}, fmt.Errorf("%w: unexpected claim status %s", ErrUnavailable, out.Status)
}

func (e *Engine) redeemSignedQR(ctx context.Context, userID string, qr *token.SignedQR, now time.Time) (Result, error) {
	keys, ok, err := e.businessKeys(ctx, qr.Payload.BusinessID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return e.payloadRejected(userID, "unknown business"), nil
	}

	p, err := qr.Verify(keys.MAC)
	if err != nil {
		return e.payloadRejected(userID, "bad signature"), nil
	}
	return e.awardSigned(ctx, userID, p, model.EventQR, nil, now)
}

func (e *Engine) redeemNFC(ctx context.Context, userID, tagUID string, sealed []byte, now time.Time) (Result, error) {
	if tagUID == "" {
		return e.payloadRejected(userID, "missing tag uid"), nil
	}
	tag, err := e.tags.Get(ctx, tagUID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if tag == nil || !tag.IsActive {
		return e.payloadRejected(userID, "unknown or inactive tag"), nil
	}

	keys, ok, err := e.businessKeys(ctx, tag.BusinessID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return e.payloadRejected(userID, "business has no key"), nil
	}

	p, err := token.DecodeSignedPayload(sealed, keys.Enc)
	if err != nil {
		return e.payloadRejected(userID, "decode failed"), nil
	}
	return e.awardSigned(ctx, userID, p, model.EventNFC, tag, now)
}

func (e *Engine) redeemLegacy(ctx context.Context, userID, ref string, now time.Time) (Result, error) {
	if !e.opts.AllowLegacyRefs {
		return rejected(ReasonInvalidCode), nil
	}
	biz, err := e.businesses.GetByLegacyRef(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if biz == nil {
		return rejected(ReasonInvalidCode), nil
	}
	return e.award(ctx, store.Award{UserID: userID, BusinessID: biz.ID, Channel: model.EventLegacy}, now)
}

// awardSigned finishes the signed paths once the payload has authenticated.
// A payload read from a tag must name the tag's own business.
func (e *Engine) awardSigned(ctx context.Context, userID string, p token.Payload, channel model.EventChannel, tag *model.NfcTag, now time.Time) (Result, error) {
	if fresh := e.checkFreshness(userID, p, now); fresh != "" {
		return rejected(fresh), nil
	}
	a := store.Award{
		UserID:     userID,
		BusinessID: p.BusinessID,
		Channel:    channel,
		Nonce:      p.Nonce,
	}
	if tag != nil {
		if p.BusinessID != tag.BusinessID {
			e.logger.Warn("redeem rejected", "user_id", userID, "reason", ReasonTagMismatch, "tag_uid", tag.UID)
			return rejected(ReasonTagMismatch), nil
		}
		a.TagUID = tag.UID
	}
	return e.award(ctx, a, now)
}

func (e *Engine) award(ctx context.Context, a store.Award, now time.Time) (Result, error) {
	if e.limiter.Check(ctx, ratelimit.ChannelSigned, a.UserID, a.BusinessID, now) == ratelimit.Denied {
		e.logger.Warn("redeem rejected", "user_id", a.UserID, "reason", ReasonRateLimited, "business_id", a.BusinessID)
		return rejected(ReasonRateLimited), nil
	}

	card, err := e.ledger.AwardStamp(ctx, a, now)
	switch {
	case errors.Is(err, store.ErrPayloadReplayed):
		e.logger.Warn("redeem rejected", "user_id", a.UserID, "reason", ReasonAlreadyUsed, "business_id", a.BusinessID)
		return rejected(ReasonAlreadyUsed), nil
	case errors.Is(err, store.ErrBusinessNotFound):
		return rejected(ReasonInvalidOrExpiredPayload), nil
	case err != nil:
		return Result{}, fmt.Errorf("%w: award stamp: %w", ErrUnavailable, err)
	}
	return e.redeemed(card, a.Channel), nil
}

func (e *Engine) checkFreshness(userID string, p token.Payload, now time.Time) Reason {
	switch err := token.CheckFreshness(p, now, e.opts.MaxAge); {
	case errors.Is(err, token.ErrPayloadExpired):
		return ReasonPayloadExpired
	case errors.Is(err, token.ErrClockSkew):
		e.logger.Warn("redeem rejected", "user_id", userID, "reason", ReasonClockSkew, "business_id", p.BusinessID)
		return ReasonClockSkew
	}
	return ""
}

// businessKeys resolves the key set for a business. ok is false when the
// business is unknown or has no secret.
func (e *Engine) businessKeys(ctx context.Context, businessID string) (secure.KeySet, bool, error) {
	biz, err := e.businesses.GetByID(ctx, businessID)
	if err != nil {
		return secure.KeySet{}, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if biz == nil || !biz.HasSecret() {
		return secure.KeySet{}, false, nil
	}
	keys, err := e.keys.Get(*biz.EncryptionSecret)
	if err != nil {
		return secure.KeySet{}, false, fmt.Errorf("%w: derive key: %w", ErrUnavailable, err)
	}
	return keys, true, nil
}

// payloadRejected logs the internal detail and returns the uniform
// rejection, so callers cannot tell a wrong key from a corrupt payload.
func (e *Engine) payloadRejected(userID, detail string) Result {
	e.logger.Warn("redeem rejected", "user_id", userID, "reason", ReasonInvalidOrExpiredPayload, "detail", detail)
	return rejected(ReasonInvalidOrExpiredPayload)
}

func (e *Engine) redeemed(card *model.StampCard, channel model.EventChannel) Result {
	e.logger.Info("stamp redeemed",
		"user_id", card.UserID,
		"business_id", card.BusinessID,
		"channel", string(channel),
		"stamps_collected", card.StampsCollected,
	)
	if e.feed != nil {
		e.feed.Broadcast(websocket.NewMessage("stamp", "redeemed", card.BusinessID, card.ID, map[string]any{
			"user_id":          card.UserID,
			"channel":          string(channel),
			"stamps_collected": card.StampsCollected,
			"is_completed":     card.IsCompleted,
		}))
	}
	return Result{
		Redeemed:        true,
		Message:         redeemedMessage(card),
		BusinessID:      card.BusinessID,
		StampsCollected: card.StampsCollected,
		StampsRequired:  card.StampsRequired,
		IsCompleted:     card.IsCompleted,
	}
}

func redeemedMessage(card *model.StampCard) string {
	if card.IsCompleted {
		return "Card complete! Your reward is ready."
	}
	return fmt.Sprintf("Stamp collected: %d of %d.", card.StampsCollected, card.StampsRequired)
}
