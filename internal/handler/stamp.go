package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/stampd/internal/auth"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/model"
)

type StampHandler struct {
	svc    *issuance.Service
	logger *slog.Logger
}

func NewStampHandler(svc *issuance.Service, logger *slog.Logger) *StampHandler {
	return &StampHandler{svc: svc, logger: logger}
}

type issueBatchRequest struct {
	Quantity   int `json:"quantity"`
	ExpiryDays int `json:"expiry_days"`
}

func (h *StampHandler) IssueBatch(w http.ResponseWriter, r *http.Request) {
	var req issueBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	batch, err := h.svc.IssueBatch(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), req.Quantity, req.ExpiryDays, time.Now())
	if err != nil {
		h.fail(w, "issue batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

type issueToStaffRequest struct {
	Channel string `json:"channel"`
}

func (h *StampHandler) IssueToStaff(w http.ResponseWriter, r *http.Request) {
	var req issueToStaffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	channel := model.TokenChannel(strings.ToLower(strings.TrimSpace(req.Channel)))
	stamp, err := h.svc.IssueToStaff(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), channel, time.Now())
	if err != nil {
		h.fail(w, "issue to staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, stamp)
}

func (h *StampHandler) Void(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Void(r.Context(), auth.UserID(r.Context()), r.PathValue("code"), time.Now())
	if err != nil {
		h.fail(w, "void stamp", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *StampHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), time.Now())
	if err != nil {
		h.fail(w, "stamp stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *StampHandler) fail(w http.ResponseWriter, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, "error", err)
	}
	writeError(w, status, msg)
}
