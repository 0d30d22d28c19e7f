package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stampd/internal/claim"
	"github.com/dukerupert/stampd/internal/config"
	"github.com/dukerupert/stampd/internal/database"
	"github.com/dukerupert/stampd/internal/handler"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/middleware"
	"github.com/dukerupert/stampd/internal/provision"
	"github.com/dukerupert/stampd/internal/ratelimit"
	"github.com/dukerupert/stampd/internal/secure"
	"github.com/dukerupert/stampd/internal/store"
	ws "github.com/dukerupert/stampd/internal/websocket"
)

type Server struct {
	db          *sql.DB
	cfg         *config.Config
	hub         *ws.Hub
	access      *issuance.Service
	tokens      *store.TokenStore
	redeemH     *handler.RedeemHandler
	stampH      *handler.StampHandler
	tagH        *handler.TagHandler
	cardH       *handler.CardHandler
	staffH      *handler.StaffHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// New wires stores, services and handlers over db. The returned server owns
// no goroutines until Router is served.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	hub := ws.NewHub(logger.With("component", "websocket"))

	keys, err := secure.NewKeyCache(cfg.KeyCacheSize)
	if err != nil {
		return nil, err
	}

	businessStore := store.NewBusinessStore(db)
	tokenStore := store.NewTokenStore(db)
	cardStore := store.NewCardStore(db)
	tagStore := store.NewTagStore(db)
	eventStore := store.NewEventStore(db)
	staffStore := store.NewStaffStore(db)
	ledger := store.NewLedger(db)

	limiter := ratelimit.New(tokenStore, eventStore,
		ratelimit.Policy{Ceiling: cfg.TokenRateLimit, Window: cfg.TokenRateWindow},
		ratelimit.Policy{Ceiling: cfg.SignedRateLimit, Window: cfg.SignedRateWindow},
		logger.With("component", "ratelimit"),
	)

	engine := claim.NewEngine(businessStore, tagStore, ledger, limiter, keys, hub, claim.Options{
		MaxAge:          cfg.PayloadMaxAge,
		AllowLegacyRefs: cfg.AllowLegacyRefs,
	}, logger.With("component", "claim"))

	issuer := issuance.NewService(businessStore, tokenStore, staffStore, hub, issuance.Options{
		DefaultExpiryDays: cfg.DefaultExpiryDays,
		StaffNFCTTL:       cfg.StaffNFCTTL,
		StaffQRTTL:        cfg.StaffQRTTL,
	}, logger.With("component", "issuance"))

	// Terminals write tags themselves from the payload endpoint, so the
	// service never drives a radio.
	prov := provision.NewService(businessStore, tagStore, keys, nil, logger.With("component", "provision"))

	handlerLogger := logger.With("component", "handler")
	return &Server{
		db:          db,
		cfg:         cfg,
		hub:         hub,
		access:      issuer,
		tokens:      tokenStore,
		redeemH:     handler.NewRedeemHandler(engine, handlerLogger),
		stampH:      handler.NewStampHandler(issuer, handlerLogger),
		tagH:        handler.NewTagHandler(prov, issuer, tagStore, handlerLogger),
		cardH:       handler.NewCardHandler(cardStore, eventStore, handlerLogger),
		staffH:      handler.NewStaffHandler(issuer, staffStore, handlerLogger),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}, nil
}

// RateLimiter returns the per-IP throttle for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// TokenStore returns the token store for the expiry sweep.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokens
}

// Hub returns the live feed hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Everything else requires an identified user
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireUser(s.cfg.GatewayToken)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	code := http.StatusOK

	if err := s.db.PingContext(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	} else if v, err := database.Version(s.db); err == nil {
		status["schema_version"] = v
	}
	status["feed_clients"] = s.hub.ClientCount()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.Handler {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, s.cfg.IPRateLimit, s.cfg.IPRateWindow)
	return rl(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Customer
	mux.Handle("POST /api/redeem", s.rateLimitedHandler(s.redeemH.Redeem))
	mux.HandleFunc("GET /api/me/cards", s.cardH.ListCards)
	mux.HandleFunc("GET /api/me/stamps", s.cardH.ListStamps)

	// Business owner and staff
	mux.HandleFunc("POST /api/businesses/{id}/stamps", s.stampH.IssueBatch)
	mux.HandleFunc("POST /api/businesses/{id}/stamps/issue", s.stampH.IssueToStaff)
	mux.HandleFunc("GET /api/businesses/{id}/stamps/stats", s.stampH.Stats)
	mux.HandleFunc("POST /api/stamps/{code}/void", s.stampH.Void)

	mux.HandleFunc("GET /api/businesses/{id}/staff", s.staffH.List)
	mux.HandleFunc("POST /api/businesses/{id}/staff", s.staffH.Add)
	mux.HandleFunc("DELETE /api/businesses/{id}/staff/{user}", s.staffH.Remove)

	// NFC terminals
	mux.HandleFunc("GET /api/businesses/{id}/tags", s.tagH.List)
	mux.HandleFunc("GET /api/tags/{uid}/payload", s.tagH.Payload)

	// Live feed
	mux.Handle("GET /ws/businesses/{id}", handler.RequireMember(s.access)(
		ws.HandleWebSocket(s.hub, s.cfg.WSOrigins, s.logger.With("component", "websocket")),
	))
}
