package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/stampd/internal/config"
	"github.com/dukerupert/stampd/internal/database"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/logging"
	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		TokenRateLimit:    10,
		TokenRateWindow:   time.Hour,
		SignedRateLimit:   2,
		SignedRateWindow:  24 * time.Hour,
		PayloadMaxAge:     5 * time.Minute,
		StaffNFCTTL:       5 * time.Minute,
		StaffQRTTL:        2 * time.Minute,
		DefaultExpiryDays: 30,
		KeyCacheSize:      16,
		IPRateLimit:       100,
		IPRateWindow:      time.Minute,
	}
}

type testEnv struct {
	db      *sql.DB
	handler http.Handler
	biz     *model.Business
}

func setupTestServer(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	biz, err := store.NewBusinessStore(db).Create(context.Background(), store.NewBusiness{
		Name:           "Corner Cafe",
		OwnerUserID:    "owner-1",
		StampsRequired: 3,
	})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}

	srv, err := New(db, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{db: db, handler: srv.Router(), biz: biz}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, testConfig())

	rr := env.do(t, "GET", "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rr.Code)
	}
	var body map[string]any
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if v, ok := body["schema_version"].(float64); !ok || v < 2 {
		t.Errorf("schema_version = %v, want >= 2", body["schema_version"])
	}
}

func TestProtectedRoutesRequireUser(t *testing.T) {
	env := setupTestServer(t, testConfig())

	routes := []struct{ method, path string }{
		{"POST", "/api/redeem"},
		{"GET", "/api/me/cards"},
		{"POST", "/api/businesses/" + env.biz.ID + "/stamps"},
		{"GET", "/api/tags/tag-1/payload"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := env.do(t, rt.method, rt.path, "", nil)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("got %d, want 401", rr.Code)
			}
		})
	}
}

func TestGatewayToken(t *testing.T) {
	cfg := testConfig()
	cfg.GatewayToken = "s3cret"
	env := setupTestServer(t, cfg)

	rr := env.do(t, "GET", "/api/me/cards", "cust-1", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("without gateway token = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest("GET", "/api/me/cards", nil)
	req.Header.Set("X-User-ID", "cust-1")
	req.Header.Set("X-Gateway-Token", "s3cret")
	ok := httptest.NewRecorder()
	env.handler.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("with gateway token = %d, want 200", ok.Code)
	}
}

func TestIssueAndRedeem(t *testing.T) {
	env := setupTestServer(t, testConfig())

	rr := env.do(t, "POST", "/api/businesses/"+env.biz.ID+"/stamps", "owner-1",
		map[string]int{"quantity": 2, "expiry_days": 7})
	if rr.Code != http.StatusCreated {
		t.Fatalf("issue = %d: %s", rr.Code, rr.Body.String())
	}
	var batch issuance.Batch
	if err := json.NewDecoder(rr.Body).Decode(&batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(batch.Stamps) != 2 {
		t.Fatalf("len(stamps) = %d, want 2", len(batch.Stamps))
	}
	scan := batch.Stamps[0].Scan

	rr = env.do(t, "POST", "/api/redeem", "cust-1", map[string]string{"raw_scan": scan})
	if rr.Code != http.StatusOK {
		t.Fatalf("redeem = %d: %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Redeemed        bool   `json:"redeemed"`
		Reason          string `json:"reason"`
		StampsCollected int    `json:"stamps_collected"`
		StampsRequired  int    `json:"stamps_required"`
	}
	json.NewDecoder(rr.Body).Decode(&res)
	if !res.Redeemed || res.StampsCollected != 1 || res.StampsRequired != 3 {
		t.Errorf("result = %+v, want redeemed 1/3", res)
	}

	// Second scan of the same code by anyone is rejected.
	rr = env.do(t, "POST", "/api/redeem", "cust-2", map[string]string{"raw_scan": scan})
	if rr.Code != http.StatusConflict {
		t.Fatalf("replay = %d, want 409", rr.Code)
	}
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Reason != "already_used" {
		t.Errorf("reason = %q, want already_used", res.Reason)
	}

	rr = env.do(t, "GET", "/api/me/cards", "cust-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cards = %d", rr.Code)
	}
	var cards []model.StampCard
	json.NewDecoder(rr.Body).Decode(&cards)
	if len(cards) != 1 || cards[0].StampsCollected != 1 {
		t.Errorf("cards = %+v, want one card with 1 stamp", cards)
	}

	rr = env.do(t, "GET", "/api/businesses/"+env.biz.ID+"/stamps/stats", "owner-1", nil)
	var stats model.TokenStats
	json.NewDecoder(rr.Body).Decode(&stats)
	if stats.Total != 2 || stats.Used != 1 || stats.Active != 1 {
		t.Errorf("stats = %+v, want total 2 used 1 active 1", stats)
	}
}

func TestRedeemStatusMapping(t *testing.T) {
	env := setupTestServer(t, testConfig())

	rr := env.do(t, "POST", "/api/businesses/"+env.biz.ID+"/stamps", "owner-1",
		map[string]int{"quantity": 1})
	var batch issuance.Batch
	json.NewDecoder(rr.Body).Decode(&batch)
	code := batch.Stamps[0].Code

	rr = env.do(t, "POST", "/api/stamps/"+code+"/void", "owner-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("void = %d: %s", rr.Code, rr.Body.String())
	}

	tests := []struct {
		name string
		scan string
		want int
	}{
		{"voided", batch.Stamps[0].Scan, http.StatusGone},
		{"unknown code", "STAMP:does-not-exist", http.StatusUnprocessableEntity},
		{"garbage", "%%%", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/redeem", "cust-1", map[string]string{"raw_scan": tt.scan})
			if rr.Code != tt.want {
				t.Errorf("got %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestOwnerOnlyRoutes(t *testing.T) {
	env := setupTestServer(t, testConfig())
	base := "/api/businesses/" + env.biz.ID

	rr := env.do(t, "POST", base+"/stamps", "stranger", map[string]int{"quantity": 1})
	if rr.Code != http.StatusForbidden {
		t.Errorf("stranger issue = %d, want 403", rr.Code)
	}

	rr = env.do(t, "POST", "/api/businesses/nope/stamps", "owner-1", map[string]int{"quantity": 1})
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown business = %d, want 404", rr.Code)
	}

	rr = env.do(t, "POST", base+"/stamps", "owner-1", map[string]int{"quantity": 0})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("zero quantity = %d, want 400", rr.Code)
	}
}

func TestStaffIssue(t *testing.T) {
	env := setupTestServer(t, testConfig())
	base := "/api/businesses/" + env.biz.ID

	rr := env.do(t, "POST", base+"/stamps/issue", "barista", map[string]string{"channel": "qr"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-staff issue = %d, want 403", rr.Code)
	}

	rr = env.do(t, "POST", base+"/staff", "owner-1", map[string]string{"user_id": "barista"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add staff = %d: %s", rr.Code, rr.Body.String())
	}

	// Nothing in inventory yet.
	rr = env.do(t, "POST", base+"/stamps/issue", "barista", map[string]string{"channel": "qr"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("empty inventory = %d, want 409", rr.Code)
	}

	env.do(t, "POST", base+"/stamps", "owner-1", map[string]int{"quantity": 1})
	rr = env.do(t, "POST", base+"/stamps/issue", "barista", map[string]string{"channel": "qr"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("staff issue = %d: %s", rr.Code, rr.Body.String())
	}
	var stamp issuance.Stamp
	json.NewDecoder(rr.Body).Decode(&stamp)
	if stamp.Channel != model.ChannelQR {
		t.Errorf("channel = %q, want qr", stamp.Channel)
	}

	rr = env.do(t, "DELETE", base+"/staff/barista", "owner-1", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("remove staff = %d", rr.Code)
	}
	rr = env.do(t, "POST", base+"/stamps/issue", "barista", map[string]string{"channel": "qr"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("removed staff issue = %d, want 403", rr.Code)
	}
}

func TestRedeemIPThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.IPRateLimit = 2
	env := setupTestServer(t, cfg)

	for i := range 2 {
		rr := env.do(t, "POST", "/api/redeem", "cust-1", map[string]string{"raw_scan": "STAMP:nope"})
		if rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d throttled early", i)
		}
	}
	rr := env.do(t, "POST", "/api/redeem", "cust-1", map[string]string{"raw_scan": "STAMP:nope"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestFeedRequiresMembership(t *testing.T) {
	env := setupTestServer(t, testConfig())

	rr := env.do(t, "GET", "/ws/businesses/"+env.biz.ID, "stranger", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("stranger feed = %d, want 403", rr.Code)
	}
}
