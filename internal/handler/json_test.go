package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/dukerupert/stampd/internal/claim"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/provision"
	"github.com/dukerupert/stampd/internal/store"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{issuance.ErrUnauthorized, http.StatusUnauthorized},
		{issuance.ErrNotOwner, http.StatusForbidden},
		{issuance.ErrNotStaff, http.StatusForbidden},
		{store.ErrBusinessNotFound, http.StatusNotFound},
		{issuance.ErrTokenNotFound, http.StatusNotFound},
		{store.ErrQuantityOutOfRange, http.StatusBadRequest},
		{issuance.ErrInvalidChannel, http.StatusBadRequest},
		{store.ErrInventoryEmpty, http.StatusConflict},
		{fmt.Errorf("void: %w", store.ErrTokenNotActive), http.StatusConflict},
		{provision.ErrTagInactive, http.StatusGone},
		{provision.ErrNoKey, http.StatusConflict},
		{fmt.Errorf("%w: insert: %w", issuance.ErrStorageFailure, errors.New("disk I/O error")), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got, msg := errorStatus(tt.err)
			if got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
			if got == http.StatusServiceUnavailable && msg != "service unavailable, try again" {
				t.Errorf("internal error leaked: %q", msg)
			}
		})
	}
}

func TestRedeemStatus(t *testing.T) {
	tests := []struct {
		res  claim.Result
		want int
	}{
		{claim.Result{Redeemed: true}, http.StatusOK},
		{claim.Result{Reason: claim.ReasonUnauthorized}, http.StatusUnauthorized},
		{claim.Result{Reason: claim.ReasonTagMismatch}, http.StatusForbidden},
		{claim.Result{Reason: claim.ReasonAlreadyUsed}, http.StatusConflict},
		{claim.Result{Reason: claim.ReasonTokenExpired}, http.StatusGone},
		{claim.Result{Reason: claim.ReasonTokenVoided}, http.StatusGone},
		{claim.Result{Reason: claim.ReasonRateLimited}, http.StatusTooManyRequests},
		{claim.Result{Reason: claim.ReasonInvalidCode}, http.StatusUnprocessableEntity},
		{claim.Result{Reason: claim.ReasonPayloadExpired}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if got := redeemStatus(tt.res); got != tt.want {
			t.Errorf("redeemStatus(%q) = %d, want %d", tt.res.Reason, got, tt.want)
		}
	}
}
