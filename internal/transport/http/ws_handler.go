package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// WSHandler streams an attempt countdown over a websocket: one tick per second
// with the remaining seconds, then a terminal finalized event once the attempt
// leaves in_progress (including expiry detected by the feed itself).
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
	tick     time.Duration
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tick: time.Second,
	}
}

type tickMessage struct {
	Type          string               `json:"type"`
	TimeRemaining *int                 `json:"timeRemaining,omitempty"`
	Status        domain.AttemptStatus `json:"status,omitempty"`
	Message       string               `json:"message,omitempty"`
}

// ServeWS upgrades the request and streams the countdown until the attempt is
// finalized or the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	attemptID := r.PathValue("attemptID")
	if userID == "" || attemptID == "" {
		http.Error(w, "missing user or attempt id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so pongs/closes are processed.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		status, remaining, err := h.service.AttemptTimer(r.Context(), userID, attemptID)
		if err != nil {
			_ = conn.WriteJSON(tickMessage{Type: "error", Message: err.Error()})
			return
		}
		if status != domain.StatusInProgress {
			_ = conn.WriteJSON(tickMessage{Type: "finalized", Status: status})
			return
		}
		if err := conn.WriteJSON(tickMessage{Type: "tick", TimeRemaining: remaining, Status: status}); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
