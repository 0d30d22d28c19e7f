// Package provision binds physical NFC tags to businesses and keeps their
// encrypted payloads fresh.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/secure"
	"github.com/dukerupert/stampd/internal/store"
	"github.com/dukerupert/stampd/internal/token"
)

const refreshConcurrency = 8

var (
	ErrNoKey       = errors.New("business has no payload key")
	ErrTagInactive = errors.New("tag is inactive")
)

// TagWriter puts an encoded payload onto the tag with the given UID.
type TagWriter interface {
	WriteTag(ctx context.Context, uid, payload string) error
}

// PrintWriter is a TagWriter for operators using an external encoder: it
// prints "uid<TAB>payload" lines.
type PrintWriter struct {
	mu sync.Mutex
	W  io.Writer
}

func (p *PrintWriter) WriteTag(_ context.Context, uid, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.W, "%s\t%s\n", uid, payload)
	return err
}

// TagPayload is a freshly encoded payload for one tag.
type TagPayload struct {
	UID          string    `json:"uid"`
	BusinessID   string    `json:"business_id"`
	BranchNumber int       `json:"branch_number"`
	Payload      string    `json:"payload"`
	IssuedAt     time.Time `json:"issued_at"`
}

type Service struct {
	businesses *store.BusinessStore
	tags       *store.TagStore
	keys       *secure.KeyCache
	writer     TagWriter
	logger     *slog.Logger
}

func NewService(businesses *store.BusinessStore, tags *store.TagStore, keys *secure.KeyCache, writer TagWriter, logger *slog.Logger) *Service {
	return &Service{
		businesses: businesses,
		tags:       tags,
		keys:       keys,
		writer:     writer,
		logger:     logger,
	}
}

// GenerateKey gives the business a fresh random secret. Payloads sealed
// under the old secret stop verifying, so every tag must be refreshed.
func (s *Service) GenerateKey(ctx context.Context, businessID string) error {
	secret, err := secure.NewSecret()
	if err != nil {
		return err
	}
	if err := s.businesses.SetSecret(ctx, businessID, secret); err != nil {
		return err
	}
	s.logger.Info("business key generated", "business_id", businessID)
	return nil
}

// Provision writes a payload to the tag and registers it to the business
// branch. An already registered UID is rejected with
// store.ErrAlreadyProvisioned unless allowReassign is set; nothing is written
// to the tag in that case.
func (s *Service) Provision(ctx context.Context, uid, businessID string, branch int, allowReassign bool, now time.Time) (*model.NfcTag, error) {
	if uid == "" {
		return nil, fmt.Errorf("tag uid is required")
	}
	if branch < 1 {
		branch = 1
	}
	if !allowReassign {
		existing, err := s.tags.Get(ctx, uid)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, store.ErrAlreadyProvisioned
		}
	}

	payload, err := s.encode(ctx, businessID, branch, now)
	if err != nil {
		return nil, err
	}
	if err := s.writer.WriteTag(ctx, uid, payload); err != nil {
		return nil, fmt.Errorf("write tag %s: %w", uid, err)
	}

	tag, err := s.tags.Register(ctx, uid, businessID, branch, allowReassign)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tag provisioned", "uid", uid, "business_id", businessID, "branch", branch, "reassign", allowReassign)
	return tag, nil
}

// RefreshPayload encodes a new payload for an active tag. Terminals rewrite
// their tag with it so scans stay within the freshness window.
func (s *Service) RefreshPayload(ctx context.Context, uid string, now time.Time) (*TagPayload, error) {
	tag, err := s.tags.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if tag == nil {
		return nil, store.ErrTagNotFound
	}
	if !tag.IsActive {
		return nil, ErrTagInactive
	}
	return s.refresh(ctx, *tag, now)
}

func (s *Service) refresh(ctx context.Context, tag model.NfcTag, now time.Time) (*TagPayload, error) {
	payload, err := s.encode(ctx, tag.BusinessID, tag.BranchNumber, now)
	if err != nil {
		return nil, err
	}
	return &TagPayload{
		UID:          tag.UID,
		BusinessID:   tag.BusinessID,
		BranchNumber: tag.BranchNumber,
		Payload:      payload,
		IssuedAt:     now.UTC(),
	}, nil
}

// RefreshAll rewrites every active tag of the business through the
// TagWriter. The first failure cancels the remaining writes.
func (s *Service) RefreshAll(ctx context.Context, businessID string, now time.Time) ([]TagPayload, error) {
	tags, err := s.tags.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}

	var active []model.NfcTag
	for _, t := range tags {
		if t.IsActive {
			active = append(active, t)
		}
	}

	results := make([]TagPayload, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for i, tag := range active {
		g.Go(func() error {
			p, err := s.refresh(gctx, tag, now)
			if err != nil {
				return err
			}
			if err := s.writer.WriteTag(gctx, tag.UID, p.Payload); err != nil {
				return fmt.Errorf("write tag %s: %w", tag.UID, err)
			}
			results[i] = *p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("tags refreshed", "business_id", businessID, "count", len(results))
	return results, nil
}

// Deactivate stops a tag from authorizing stamps.
func (s *Service) Deactivate(ctx context.Context, uid string) error {
	if err := s.tags.SetActive(ctx, uid, false); err != nil {
		return err
	}
	s.logger.Info("tag deactivated", "uid", uid)
	return nil
}

func (s *Service) encode(ctx context.Context, businessID string, branch int, now time.Time) (string, error) {
	biz, err := s.businesses.GetByID(ctx, businessID)
	if err != nil {
		return "", err
	}
	if biz == nil {
		return "", store.ErrBusinessNotFound
	}
	if !biz.HasSecret() {
		return "", ErrNoKey
	}
	keys, err := s.keys.Get(*biz.EncryptionSecret)
	if err != nil {
		return "", err
	}
	sealed, err := token.EncodeSignedPayload(biz.ID, branch, keys.Enc, now)
	if err != nil {
		return "", err
	}
	return token.FormatNFC(sealed), nil
}
