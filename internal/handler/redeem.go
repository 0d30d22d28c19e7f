package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stampd/internal/auth"
	"github.com/dukerupert/stampd/internal/claim"
)

type RedeemHandler struct {
	engine *claim.Engine
	logger *slog.Logger
}

func NewRedeemHandler(engine *claim.Engine, logger *slog.Logger) *RedeemHandler {
	return &RedeemHandler{engine: engine, logger: logger}
}

type redeemRequest struct {
	RawScan string `json:"raw_scan"`
	TagUID  string `json:"tag_uid"`
}

func (h *RedeemHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := h.engine.Redeem(r.Context(), claim.RedeemRequest{
		RawScan: req.RawScan,
		UserID:  auth.UserID(r.Context()),
		TagUID:  req.TagUID,
	}, time.Now())
	if err != nil {
		h.logger.Error("redeem", "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}

	writeJSON(w, redeemStatus(res), res)
}

func redeemStatus(res claim.Result) int {
	if res.Redeemed {
		return http.StatusOK
	}
	switch res.Reason {
	case claim.ReasonUnauthorized:
		return http.StatusUnauthorized
	case claim.ReasonTagMismatch:
		return http.StatusForbidden
	case claim.ReasonAlreadyUsed:
		return http.StatusConflict
	case claim.ReasonTokenExpired, claim.ReasonTokenVoided:
		return http.StatusGone
	case claim.ReasonRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusUnprocessableEntity
}
