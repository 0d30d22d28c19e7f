package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"unicode"

	"github.com/dukerupert/stampd/internal/auth"
)

const (
	// UserHeader carries the customer or staff identity asserted by the
	// upstream identity gateway.
	UserHeader = "X-User-ID"
	// GatewayHeader carries the shared secret proving the request came
	// through the gateway.
	GatewayHeader = "X-Gateway-Token"

	maxUserIDLen = 128
)

// RequireUser populates AuthContext from UserHeader. When gatewayToken is
// non-empty, requests must also present it in GatewayHeader.
func RequireUser(gatewayToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gatewayToken != "" {
				got := r.Header.Get(GatewayHeader)
				if subtle.ConstantTimeCompare([]byte(got), []byte(gatewayToken)) != 1 {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}

			userID := strings.TrimSpace(r.Header.Get(UserHeader))
			if !validUserID(userID) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLen {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
