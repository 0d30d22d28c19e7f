package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/stampd/internal/auth"
	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/store"
)

// CardHandler serves the signed-in customer's own cards and stamp history.
type CardHandler struct {
	cards  *store.CardStore
	events *store.EventStore
	logger *slog.Logger
}

func NewCardHandler(cards *store.CardStore, events *store.EventStore, logger *slog.Logger) *CardHandler {
	return &CardHandler{cards: cards, events: events, logger: logger}
}

func (h *CardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.cards.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list cards", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	if cards == nil {
		cards = []model.StampCard{}
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *CardHandler) ListStamps(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	events, err := h.events.ListByUser(r.Context(), auth.UserID(r.Context()), limit)
	if err != nil {
		h.logger.Error("list stamps", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	if events == nil {
		events = []model.StampEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
