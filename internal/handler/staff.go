package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/stampd/internal/auth"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/model"
	"github.com/dukerupert/stampd/internal/store"
)

// StaffHandler lets a business owner manage who may issue stamps.
type StaffHandler struct {
	access *issuance.Service
	staff  *store.StaffStore
	logger *slog.Logger
}

func NewStaffHandler(access *issuance.Service, staff *store.StaffStore, logger *slog.Logger) *StaffHandler {
	return &StaffHandler{access: access, staff: staff, logger: logger}
}

type staffRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *StaffHandler) Add(w http.ResponseWriter, r *http.Request) {
	biz, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req staffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	role := model.StaffRole(req.Role)
	if role == "" {
		role = model.RoleStaff
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "role must be staff or manager")
		return
	}

	m, err := h.staff.AddMember(r.Context(), biz.ID, req.UserID, role)
	if err != nil {
		h.logger.Error("add staff", "business_id", biz.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	biz, ok := h.owner(w, r)
	if !ok {
		return
	}
	members, err := h.staff.ListMembers(r.Context(), biz.ID)
	if err != nil {
		h.logger.Error("list staff", "business_id", biz.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	if members == nil {
		members = []model.StaffMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *StaffHandler) Remove(w http.ResponseWriter, r *http.Request) {
	biz, ok := h.owner(w, r)
	if !ok {
		return
	}
	if err := h.staff.RemoveMember(r.Context(), biz.ID, r.PathValue("user")); err != nil {
		h.logger.Error("remove staff", "business_id", biz.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable, try again")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StaffHandler) owner(w http.ResponseWriter, r *http.Request) (*model.Business, bool) {
	biz, err := h.access.RequireOwner(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return nil, false
	}
	return biz, true
}

// RequireMember gates a {id}-scoped route to the business owner and staff.
func RequireMember(access *issuance.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := access.RequireMember(r.Context(), auth.UserID(r.Context()), r.PathValue("id")); err != nil {
				status, msg := errorStatus(err)
				writeError(w, status, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
