package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and streams the live feed for the
// business named by the {id} path value. Callers authorize before this runs.
// origins lists extra host patterns allowed to connect cross-origin.
func HandleWebSocket(hub *Hub, origins []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID := r.PathValue("id")
		if businessID == "" {
			http.Error(w, "missing business id", http.StatusBadRequest)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: origins,
		})
		if err != nil {
			logger.Warn("websocket accept", "business_id", businessID, "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, businessID)
		client.Run(r.Context())
	}
}
