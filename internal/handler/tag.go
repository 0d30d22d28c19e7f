package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stampd/internal/auth"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/provision"
	"github.com/dukerupert/stampd/internal/store"
)

type TagHandler struct {
	prov   *provision.Service
	access *issuance.Service
	tags   *store.TagStore
	logger *slog.Logger
}

func NewTagHandler(prov *provision.Service, access *issuance.Service, tags *store.TagStore, logger *slog.Logger) *TagHandler {
	return &TagHandler{prov: prov, access: access, tags: tags, logger: logger}
}

// Payload returns a fresh encrypted payload for a terminal to write to its
// tag. Only the tag's business owner or staff may fetch it.
func (h *TagHandler) Payload(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	tag, err := h.tags.Get(r.Context(), uid)
	if err != nil {
		h.logger.Error("get tag", "uid", uid, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	if tag == nil {
		writeError(w, http.StatusNotFound, store.ErrTagNotFound.Error())
		return
	}
	if _, err := h.access.RequireMember(r.Context(), auth.UserID(r.Context()), tag.BusinessID); err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return
	}

	p, err := h.prov.RefreshPayload(r.Context(), uid, time.Now())
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("refresh payload", "uid", uid, "error", err)
		}
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List returns the business's registered tags.
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	biz, err := h.access.RequireMember(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return
	}
	tags, err := h.tags.ListByBusiness(r.Context(), biz.ID)
	if err != nil {
		h.logger.Error("list tags", "business_id", biz.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	if tags == nil {
		tags = []model.NfcTag{}
	}
	writeJSON(w, http.StatusOK, tags)
}
