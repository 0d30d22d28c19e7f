package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/stampd/internal/model"
)

func TestRedeemTokenCreditsCard(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	ledger := NewLedger(db)
	events := NewEventStore(db)
	b := seedBusiness(t, db, 3)
	ctx := context.Background()

	tokens, _ := ts.IssueBatch(ctx, b.ID, 2, time.Hour, nil, testNow)

	out, card, err := ledger.RedeemToken(ctx, tokens[0].Code, "user-1", testNow)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if out.Status != ClaimOK {
		t.Fatalf("status = %v, want ok", out.Status)
	}
	if card == nil || card.StampsCollected != 1 || card.StampsRequired != 3 {
		t.Fatalf("card = %+v, want 1/3", card)
	}

	out, card, err = ledger.RedeemToken(ctx, tokens[0].Code, "user-1", testNow)
	if err != nil {
		t.Fatalf("redeem again: %v", err)
	}
	if out.Status != ClaimAlreadyUsed || card != nil {
		t.Errorf("replay = %v, card %v; want already_used and no card", out.Status, card)
	}

	log, err := events.ListByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("events = %d, want 1", len(log))
	}
	if log[0].Channel != model.EventToken || log[0].TokenID == nil || *log[0].TokenID != tokens[0].ID {
		t.Errorf("event = %+v", log[0])
	}
}

func TestRedeemTokenFailureLeavesCardUntouched(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTokenStore(db)
	ledger := NewLedger(db)
	cards := NewCardStore(db)
	b := seedBusiness(t, db, 3)
	ctx := context.Background()

	tokens, _ := ts.IssueBatch(ctx, b.ID, 1, time.Hour, nil, testNow)

	out, card, err := ledger.RedeemToken(ctx, tokens[0].Code, "user-1", testNow.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if out.Status != ClaimExpired || card != nil {
		t.Errorf("status = %v, card = %v; want expired, nil", out.Status, card)
	}

	stored, _ := ts.FetchByCode(ctx, tokens[0].Code)
	if stored.Status != model.TokenExpired {
		t.Errorf("stored status = %s, want expired", stored.Status)
	}
	open, _ := cards.GetOpen(ctx, "user-1", b.ID)
	if open != nil {
		t.Errorf("card created for failed claim: %+v", open)
	}
}

func TestCardCompletesAndRollsOver(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedger(db)
	cards := NewCardStore(db)
	b := seedBusiness(t, db, 2)
	ctx := context.Background()

	award := Award{UserID: "user-1", BusinessID: b.ID, Channel: model.EventNFC, TagUID: "04A1B2"}

	c1, err := ledger.AwardStamp(ctx, award, testNow)
	if err != nil {
		t.Fatalf("award 1: %v", err)
	}
	c2, err := ledger.AwardStamp(ctx, award, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("award 2: %v", err)
	}
	if c2.ID != c1.ID || !c2.IsCompleted || c2.StampsCollected != 2 {
		t.Fatalf("second stamp card = %+v, want completed 2/2", c2)
	}

	c3, err := ledger.AwardStamp(ctx, award, testNow.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("award 3: %v", err)
	}
	if c3.ID == c1.ID {
		t.Error("stamp after completion went to the completed card")
	}
	if c3.StampsCollected != 1 || c3.IsCompleted {
		t.Errorf("new card = %+v, want 1/2 open", c3)
	}

	all, err := cards.ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("cards = %d, want 2", len(all))
	}
	for _, c := range all {
		if c.StampsCollected > c.StampsRequired {
			t.Errorf("card %s over-filled: %d/%d", c.ID, c.StampsCollected, c.StampsRequired)
		}
	}
}

func TestAwardStampNonceReplay(t *testing.T) {
	db := setupTestDB(t)
	ledger := NewLedger(db)
	events := NewEventStore(db)
	b := seedBusiness(t, db, 10)
	ctx := context.Background()

	a := Award{UserID: "user-1", BusinessID: b.ID, Channel: model.EventQR, Nonce: "n-1"}
	if _, err := ledger.AwardStamp(ctx, a, testNow); err != nil {
		t.Fatalf("award: %v", err)
	}
	if _, err := ledger.AwardStamp(ctx, a, testNow); !errors.Is(err, ErrPayloadReplayed) {
		t.Errorf("replay err = %v, want ErrPayloadReplayed", err)
	}

	// A different user may redeem the same payload.
	a.UserID = "user-2"
	if _, err := ledger.AwardStamp(ctx, a, testNow); err != nil {
		t.Errorf("other user award: %v", err)
	}

	n, _ := events.CountSince(ctx, "user-1", b.ID, []model.EventChannel{model.EventQR}, testNow.Add(-time.Hour))
	if n != 1 {
		t.Errorf("user-1 qr events = %d, want 1", n)
	}
}

func TestAwardStampUnknownBusiness(t *testing.T) {
	ledger := NewLedger(setupTestDB(t))
	_, err := ledger.AwardStamp(context.Background(), Award{UserID: "u", BusinessID: "missing", Channel: model.EventNFC}, testNow)
	if !errors.Is(err, ErrBusinessNotFound) {
		t.Errorf("err = %v, want ErrBusinessNotFound", err)
	}
}

func TestConcurrentAwardsAreAllCounted(t *testing.T) {
	db := setupFileDB(t)
	ledger := NewLedger(db)
	cards := NewCardStore(db)
	b := seedBusiness(t, db, 50)
	ctx := context.Background()

	const n = 12
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := ledger.AwardStamp(ctx, Award{UserID: "user-1", BusinessID: b.ID, Channel: model.EventNFC}, testNow)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("awards: %v", err)
	}

	card, err := cards.GetOpen(ctx, "user-1", b.ID)
	if err != nil || card == nil {
		t.Fatalf("open card = %v, %v", card, err)
	}
	if card.StampsCollected != n {
		t.Errorf("stamps = %d, want %d", card.StampsCollected, n)
	}
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	db := setupFileDB(t)
	ts := NewTokenStore(db)
	ledger := NewLedger(db)
	b := seedBusiness(t, db, 10)
	ctx := context.Background()

	tokens, _ := ts.IssueBatch(ctx, b.ID, 1, time.Hour, nil, testNow)

	const n = 8
	statuses := make([]ClaimStatus, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			out, _, err := ledger.RedeemToken(ctx, tokens[0].Code, "user-1", testNow)
			statuses[i] = out.Status
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	ok := 0
	for _, s := range statuses {
		if s == ClaimOK {
			ok++
		}
	}
	if ok != 1 {
		t.Errorf("winners = %d, want 1", ok)
	}

	card, _ := NewCardStore(db).GetOpen(ctx, "user-1", b.ID)
	if card == nil || card.StampsCollected != 1 {
		t.Errorf("card = %+v, want exactly one stamp", card)
	}
}
