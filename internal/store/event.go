package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

// EventStore reads the collection log. Rows are written only by Ledger.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func scanEvent(scanner interface{ Scan(...any) error }) (*model.StampEvent, error) {
	var e model.StampEvent
	var tokenID, tagUID, nonce sql.NullString
	var createdAt int64

	err := scanner.Scan(&e.ID, &e.UserID, &e.BusinessID, &e.CardID, &e.Channel, &tokenID, &tagUID, &nonce, &createdAt)
	if err != nil {
		return nil, err
	}
	e.TokenID = stringPtr(tokenID)
	e.TagUID = stringPtr(tagUID)
	e.Nonce = stringPtr(nonce)
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

const eventCols = `id, user_id, business_id, card_id, channel, token_id, tag_uid, nonce, created_at`

// CountSince counts the user's stamps at the business through any of the
// given channels, strictly after since.
func (s *EventStore) CountSince(ctx context.Context, userID, businessID string, channels []model.EventChannel, since time.Time) (int, error) {
	if len(channels) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(channels)), ", ")
	args := []any{userID, businessID, toMillis(since)}
	for _, c := range channels {
		args = append(args, string(c))
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stamp_events
		 WHERE user_id = ? AND business_id = ? AND created_at > ? AND channel IN (`+placeholders+`)`,
		args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ListByUser returns the user's most recent stamps.
func (s *EventStore) ListByUser(ctx context.Context, userID string, limit int) ([]model.StampEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM stamp_events WHERE user_id = ? ORDER BY created_at DESC, id ASC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.StampEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func insertEvent(ctx context.Context, tx querier, e model.StampEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stamp_events (`+eventCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.BusinessID, e.CardID, string(e.Channel),
		nullString(e.TokenID), nullString(e.TagUID), nullString(e.Nonce), toMillis(e.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrPayloadReplayed
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
