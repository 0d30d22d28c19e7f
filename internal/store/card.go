package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stampd/internal/model"
)

type CardStore struct {
	db *sql.DB
}

func NewCardStore(db *sql.DB) *CardStore {
	return &CardStore{db: db}
}

func scanCard(scanner interface{ Scan(...any) error }) (*model.StampCard, error) {
	var c model.StampCard
	var completed int
	var createdAt, updatedAt int64

	err := scanner.Scan(
		&c.ID, &c.UserID, &c.BusinessID, &c.StampsCollected, &c.StampsRequired,
		&completed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.IsCompleted = completed != 0
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

const cardCols = `id, user_id, business_id, stamps_collected, stamps_required, is_completed, created_at, updated_at`

// GetOpen returns the user's open card for the business, or nil.
func (s *CardStore) GetOpen(ctx context.Context, userID, businessID string) (*model.StampCard, error) {
	return getOpenCard(ctx, s.db, userID, businessID)
}

func getOpenCard(ctx context.Context, q querier, userID, businessID string) (*model.StampCard, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+cardCols+` FROM stamp_cards WHERE user_id = ? AND business_id = ? AND is_completed = 0`,
		userID, businessID,
	)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open card: %w", err)
	}
	return c, nil
}

// ListByUser returns all of the user's cards, open cards first.
func (s *CardStore) ListByUser(ctx context.Context, userID string) ([]model.StampCard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardCols+` FROM stamp_cards WHERE user_id = ? ORDER BY is_completed ASC, updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []model.StampCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

// addStamp credits one stamp to the user's open card for the business,
// creating the card on first use. It must run inside a write transaction;
// the increment is a single guarded UPDATE so concurrent awards serialize
// in the database and none is lost.
func addStamp(ctx context.Context, tx querier, userID, businessID string, now time.Time) (*model.StampCard, error) {
	at := toMillis(now)

	card, err := getOpenCard(ctx, tx, userID, businessID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		var required int
		err := tx.QueryRowContext(ctx, `SELECT stamps_required FROM businesses WHERE id = ?`, businessID).Scan(&required)
		if err == sql.ErrNoRows {
			return nil, ErrBusinessNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("get stamps required: %w", err)
		}

		id := newID()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stamp_cards (id, user_id, business_id, stamps_collected, stamps_required, is_completed, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, 0, ?, ?)`,
			id, userID, businessID, required, at, at,
		); err != nil {
			return nil, fmt.Errorf("create card: %w", err)
		}
		card = &model.StampCard{ID: id}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE stamp_cards
		 SET stamps_collected = stamps_collected + 1,
		     is_completed = CASE WHEN stamps_collected + 1 >= stamps_required THEN 1 ELSE 0 END,
		     updated_at = ?
		 WHERE id = ? AND is_completed = 0 AND stamps_collected < stamps_required`,
		at, card.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("increment card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return nil, fmt.Errorf("increment card %s: card not open", card.ID)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+cardCols+` FROM stamp_cards WHERE id = ?`, card.ID)
	updated, err := scanCard(row)
	if err != nil {
		return nil, fmt.Errorf("read card: %w", err)
	}
	return updated, nil
}
