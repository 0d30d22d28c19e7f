package provision_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/stampd/internal/database"
	"github.com/dukerupert/stampd/internal/logging"
	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/provision"
	"github.com/dukerupert/stampd/internal/secure"
	"github.com/dukerupert/stampd/internal/store"
	"github.com/dukerupert/stampd/internal/token"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type memWriter struct {
	mu      sync.Mutex
	written map[string]string
	fail    string
}

func (m *memWriter) WriteTag(_ context.Context, uid, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uid == m.fail {
		return errors.New("tag out of range")
	}
	m.written[uid] = payload
	return nil
}

type fixture struct {
	svc        *provision.Service
	businesses *store.BusinessStore
	tags       *store.TagStore
	writer     *memWriter
	biz        *model.Business
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	keys, err := secure.NewKeyCache(8)
	if err != nil {
		t.Fatalf("key cache: %v", err)
	}

	f := &fixture{
		businesses: store.NewBusinessStore(db),
		tags:       store.NewTagStore(db),
		writer:     &memWriter{written: make(map[string]string)},
	}
	f.svc = provision.NewService(f.businesses, f.tags, keys, f.writer, logging.Discard())

	f.biz, err = f.businesses.Create(context.Background(), store.NewBusiness{Name: "Cafe", OwnerUserID: "owner-1"})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	return f
}

func (f *fixture) decode(t *testing.T, payload string) token.Payload {
	t.Helper()
	biz, _ := f.businesses.GetByID(context.Background(), f.biz.ID)
	key, err := secure.DeriveKey(*biz.EncryptionSecret)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	sealed, err := token.ParseNFC(payload)
	if err != nil {
		t.Fatalf("parse nfc: %v", err)
	}
	p, err := token.DecodeSignedPayload(sealed, key)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return p
}

func TestProvisionRequiresKey(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Provision(context.Background(), "04AA", f.biz.ID, 1, false, testNow)
	if !errors.Is(err, provision.ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}
	if len(f.writer.written) != 0 {
		t.Error("tag written without a key")
	}
}

func TestProvision(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if err := f.svc.GenerateKey(ctx, f.biz.ID); err != nil {
		t.Fatalf("generate key: %v", err)
	}

	tag, err := f.svc.Provision(ctx, "04AA", f.biz.ID, 3, false, testNow)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if tag.BusinessID != f.biz.ID || tag.BranchNumber != 3 || !tag.IsActive {
		t.Errorf("tag = %+v", tag)
	}

	p := f.decode(t, f.writer.written["04AA"])
	if p.BusinessID != f.biz.ID || p.BranchNumber != 3 || !p.IssuedAt.Equal(testNow) {
		t.Errorf("payload = %+v", p)
	}

	f.writer.written = make(map[string]string)
	if _, err := f.svc.Provision(ctx, "04AA", f.biz.ID, 1, false, testNow); !errors.Is(err, store.ErrAlreadyProvisioned) {
		t.Fatalf("re-provision err = %v, want ErrAlreadyProvisioned", err)
	}
	if len(f.writer.written) != 0 {
		t.Error("rejected provision wrote the tag")
	}

	tag, err = f.svc.Provision(ctx, "04AA", f.biz.ID, 1, true, testNow)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if tag.BranchNumber != 1 {
		t.Errorf("branch = %d, want 1", tag.BranchNumber)
	}
}

func TestGenerateKeyRotates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.svc.GenerateKey(ctx, f.biz.ID)
	first, _ := f.businesses.GetByID(ctx, f.biz.ID)
	f.svc.GenerateKey(ctx, f.biz.ID)
	second, _ := f.businesses.GetByID(ctx, f.biz.ID)

	if *first.EncryptionSecret == *second.EncryptionSecret {
		t.Error("key did not change")
	}
	if len(*second.EncryptionSecret) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(*second.EncryptionSecret))
	}
	if err := f.svc.GenerateKey(ctx, "missing"); !errors.Is(err, store.ErrBusinessNotFound) {
		t.Errorf("missing business err = %v, want ErrBusinessNotFound", err)
	}
}

func TestRefreshPayload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.svc.GenerateKey(ctx, f.biz.ID)
	f.svc.Provision(ctx, "04AA", f.biz.ID, 1, false, testNow)

	later := testNow.Add(4 * time.Minute)
	got, err := f.svc.RefreshPayload(ctx, "04AA", later)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.Payload == f.writer.written["04AA"] {
		t.Error("refresh returned the provisioned payload")
	}
	if p := f.decode(t, got.Payload); !p.IssuedAt.Equal(later) {
		t.Errorf("issued_at = %v, want %v", p.IssuedAt, later)
	}

	if _, err := f.svc.RefreshPayload(ctx, "nope", later); !errors.Is(err, store.ErrTagNotFound) {
		t.Errorf("unknown tag err = %v, want ErrTagNotFound", err)
	}

	if err := f.svc.Deactivate(ctx, "04AA"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.svc.RefreshPayload(ctx, "04AA", later); !errors.Is(err, provision.ErrTagInactive) {
		t.Errorf("inactive tag err = %v, want ErrTagInactive", err)
	}
}

func TestRefreshAll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.svc.GenerateKey(ctx, f.biz.ID)

	uids := []string{"04A1", "04A2", "04A3", "04A4", "04A5"}
	for i, uid := range uids {
		if _, err := f.svc.Provision(ctx, uid, f.biz.ID, i+1, false, testNow); err != nil {
			t.Fatalf("provision %s: %v", uid, err)
		}
	}
	f.svc.Deactivate(ctx, "04A5")

	later := testNow.Add(time.Hour)
	results, err := f.svc.RefreshAll(ctx, f.biz.ID, later)
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("refreshed = %d, want 4 active tags", len(results))
	}
	for _, r := range results {
		if f.writer.written[r.UID] != r.Payload {
			t.Errorf("tag %s not rewritten with refreshed payload", r.UID)
		}
		if p := f.decode(t, r.Payload); !p.IssuedAt.Equal(later) || p.BranchNumber != r.BranchNumber {
			t.Errorf("tag %s payload = %+v", r.UID, p)
		}
	}

	f.writer.fail = "04A2"
	if _, err := f.svc.RefreshAll(ctx, f.biz.ID, later); err == nil || !strings.Contains(err.Error(), "04A2") {
		t.Errorf("err = %v, want write failure for 04A2", err)
	}
}

func TestPrintWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &provision.PrintWriter{W: &buf}
	if err := w.WriteTag(context.Background(), "04AA", "abc:def"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "04AA\tabc:def\n" {
		t.Errorf("output = %q", got)
	}
}
