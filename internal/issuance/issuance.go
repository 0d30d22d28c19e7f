// Package issuance is the business-facing side of the stamp lifecycle:
// generating batches, handing single stamps to counter staff, voiding and
// reporting.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/store"
	"github.com/dukerupert/stampd/internal/token"
	"github.com/dukerupert/stampd/internal/websocket"
)

const maxExpiryDays = 365

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotOwner         = errors.New("not the owner of this business")
	ErrNotStaff         = errors.New("not on this business's staff")
	ErrInvalidChannel   = errors.New("channel must be nfc or qr")
	ErrInvalidExpiry    = errors.New("expiry days out of range")
	ErrTokenNotFound    = errors.New("stamp not found")
	ErrStorageFailure   = errors.New("storage failure")
	ErrBusinessNotFound = store.ErrBusinessNotFound
)

// Broadcaster receives issuance notifications for business dashboards.
type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Options struct {
	DefaultExpiryDays int
	StaffNFCTTL       time.Duration
	StaffQRTTL        time.Duration
}

// Stamp is an issued token in the form handed to a customer.
type Stamp struct {
	ID        string             `json:"id"`
	Code      string             `json:"code"`
	Scan      string             `json:"scan"`
	Channel   model.TokenChannel `json:"channel"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Batch is the response to a bulk issue.
type Batch struct {
	Stamps       []Stamp   `json:"stamps"`
	BusinessName string    `json:"business_name"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type Service struct {
	businesses *store.BusinessStore
	tokens     *store.TokenStore
	staff      *store.StaffStore
	feed       Broadcaster
	opts       Options
	logger     *slog.Logger
}

func NewService(businesses *store.BusinessStore, tokens *store.TokenStore, staff *store.StaffStore, feed Broadcaster, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultExpiryDays <= 0 {
		opts.DefaultExpiryDays = 30
	}
	if opts.StaffNFCTTL <= 0 {
		opts.StaffNFCTTL = 5 * time.Minute
	}
	if opts.StaffQRTTL <= 0 {
		opts.StaffQRTTL = 2 * time.Minute
	}
	return &Service{
		businesses: businesses,
		tokens:     tokens,
		staff:      staff,
		feed:       feed,
		opts:       opts,
		logger:     logger,
	}
}

// IssueBatch generates quantity stamps for a business the caller owns. A
// non-positive expiryDays uses the configured default.
func (s *Service) IssueBatch(ctx context.Context, ownerID, businessID string, quantity, expiryDays int, now time.Time) (*Batch, error) {
	biz, err := s.RequireOwner(ctx, ownerID, businessID)
	if err != nil {
		return nil, err
	}
	if quantity < store.MinBatch || quantity > store.MaxBatch {
		return nil, store.ErrQuantityOutOfRange
	}
	if expiryDays <= 0 {
		expiryDays = s.opts.DefaultExpiryDays
	}
	if expiryDays > maxExpiryDays {
		return nil, ErrInvalidExpiry
	}

	ttl := time.Duration(expiryDays) * 24 * time.Hour
	tokens, err := s.tokens.IssueBatch(ctx, biz.ID, quantity, ttl, nil, now)
	if err != nil {
		return nil, fmt.Errorf("%w: issue batch: %w", ErrStorageFailure, err)
	}

	batch := &Batch{
		Stamps:       make([]Stamp, 0, len(tokens)),
		BusinessName: biz.Name,
		ExpiresAt:    now.Add(ttl).UTC(),
	}
	for _, t := range tokens {
		batch.Stamps = append(batch.Stamps, toStamp(t))
	}

	s.logger.Info("stamp batch issued", "business_id", biz.ID, "quantity", quantity, "expiry_days", expiryDays)
	s.broadcast(websocket.NewMessage("stamp_batch", "issued", biz.ID, "", map[string]any{
		"quantity":   quantity,
		"expires_at": batch.ExpiresAt,
	}))
	return batch, nil
}

// IssueToStaff hands one stamp from inventory to a staff member for display
// over NFC or QR. Its expiry is shortened to the channel's lifetime.
func (s *Service) IssueToStaff(ctx context.Context, staffID, businessID string, channel model.TokenChannel, now time.Time) (*Stamp, error) {
	var ttl time.Duration
	switch channel {
	case model.ChannelNFC:
		ttl = s.opts.StaffNFCTTL
	case model.ChannelQR:
		ttl = s.opts.StaffQRTTL
	default:
		return nil, ErrInvalidChannel
	}

	biz, err := s.RequireMember(ctx, staffID, businessID)
	if err != nil {
		return nil, err
	}

	t, err := s.tokens.ReserveForStaff(ctx, biz.ID, staffID, channel, ttl, now)
	if errors.Is(err, store.ErrInventoryEmpty) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reserve stamp: %w", ErrStorageFailure, err)
	}

	s.logger.Info("stamp issued to staff", "business_id", biz.ID, "staff_id", staffID, "channel", string(channel), "token_id", t.ID)
	s.broadcast(websocket.NewMessage("stamp", "issued", biz.ID, t.ID, map[string]any{
		"staff_id": staffID,
		"channel":  string(channel),
	}))
	st := toStamp(*t)
	return &st, nil
}

// Void cancels an active stamp of a business the caller owns.
func (s *Service) Void(ctx context.Context, ownerID, code string, now time.Time) (*model.StampToken, error) {
	if ownerID == "" {
		return nil, ErrUnauthorized
	}
	t, err := s.tokens.FetchByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if t == nil {
		return nil, ErrTokenNotFound
	}
	if _, err := s.RequireOwner(ctx, ownerID, t.BusinessID); err != nil {
		return nil, err
	}

	voided, err := s.tokens.Void(ctx, code, now)
	if errors.Is(err, store.ErrTokenNotActive) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: void stamp: %w", ErrStorageFailure, err)
	}

	s.logger.Info("stamp voided", "business_id", t.BusinessID, "token_id", t.ID)
	s.broadcast(websocket.NewMessage("stamp", "voided", t.BusinessID, t.ID, nil))
	return voided, nil
}

// Stats reports token counts for the owner or staff of a business.
func (s *Service) Stats(ctx context.Context, userID, businessID string, now time.Time) (*model.TokenStats, error) {
	biz, err := s.RequireMember(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	stats, err := s.tokens.Stats(ctx, biz.ID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return stats, nil
}

func (s *Service) lookup(ctx context.Context, userID, businessID string) (*model.Business, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	biz, err := s.businesses.GetByID(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if biz == nil {
		return nil, ErrBusinessNotFound
	}
	return biz, nil
}

// RequireOwner returns the business if userID owns it.
func (s *Service) RequireOwner(ctx context.Context, userID, businessID string) (*model.Business, error) {
	biz, err := s.lookup(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	if biz.OwnerUserID != userID {
		return nil, ErrNotOwner
	}
	return biz, nil
}

// RequireMember returns the business if userID owns it or is on its staff
// roster. Handlers use it to gate dashboards and terminal endpoints.
func (s *Service) RequireMember(ctx context.Context, userID, businessID string) (*model.Business, error) {
	biz, err := s.lookup(ctx, userID, businessID)
	if err != nil {
		return nil, err
	}
	if biz.OwnerUserID == userID {
		return biz, nil
	}
	m, err := s.staff.GetMember(ctx, biz.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if m == nil {
		return nil, ErrNotStaff
	}
	return biz, nil
}

func (s *Service) broadcast(msg websocket.Message) {
	if s.feed != nil {
		s.feed.Broadcast(msg)
	}
}

func toStamp(t model.StampToken) Stamp {
	return Stamp{
		ID:        t.ID,
		Code:      t.Code,
		Scan:      token.EncodePlain(t.Code),
		Channel:   t.Channel,
		ExpiresAt: t.ExpiresAt,
	}
}
