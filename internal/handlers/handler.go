package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentchat/internal/hub"
	"github.com/eldtechnologies/agentchat/internal/models"
	"github.com/eldtechnologies/agentchat/internal/store"
)

const (
	maxSenderLen  = 100
	maxMessageLen = 10000
	maxRoomLen    = 50
)

// MaxRequestBytes bounds a request or frame body. Limits above are in runes;
// a rune takes up to 12 bytes as an escaped surrogate pair in JSON.
const MaxRequestBytes = (maxMessageLen+maxSenderLen+maxRoomLen)*12 + 4096

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store        store.DataStore
	relay        *store.RedisStore // optional cross-instance fan-out
	hub          *hub.Hub
	logger       zerolog.Logger
	historyLimit int
}

// NewHandler creates a new Handler. relay may be nil.
func NewHandler(ds store.DataStore, relay *store.RedisStore, h *hub.Hub, logger zerolog.Logger, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = store.DefaultHistoryLimit
	}
	return &Handler{store: ds, relay: relay, hub: h, logger: logger, historyLimit: historyLimit}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

const errInvalidRoom = "room must be 1-50 characters, alphanumeric with hyphens and underscores only"

// roomParam reads the room query parameter, answering 400 when it is missing
// or invalid.
func (h *Handler) roomParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	room := r.URL.Query().Get("room")
	if room == "" {
		h.Error(w, http.StatusBadRequest, "room is required")
		return "", false
	}
	if !models.ValidRoomName(room) {
		h.Error(w, http.StatusBadRequest, errInvalidRoom)
		return "", false
	}
	return room, true
}

// publish hands a stored message to every live listener of its room.
func (h *Handler) publish(ctx context.Context, msg models.Message) {
	if h.relay != nil {
		err := h.relay.Publish(ctx, msg)
		if err == nil {
			return
		}
		h.logger.Warn().Err(err).Str("room", msg.Room).Msg("relay publish failed, broadcasting locally")
	}
	h.hub.Broadcast(msg)
}

// sanitize removes control characters except tab and newline, trims, and caps
// the length in runes.
func sanitize(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		if r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)

	if runes := []rune(s); len(runes) > maxLen {
		s = string(runes[:maxLen])
	}
	return strings.TrimSpace(s)
}
