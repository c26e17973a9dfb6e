package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/agentchat/internal/metrics"
	"github.com/eldtechnologies/agentchat/internal/models"
)

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	Room    string             `json:"room"`
	Sender  string             `json:"sender"`
	Message string             `json:"message"`
	Type    models.MessageType `json:"type,omitempty"`
}

// StatusResponse acknowledges a write.
type StatusResponse struct {
	Status string `json:"status"`
}

// GetMessages handles fetching the recent history of a room.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}

	messages, err := h.store.GetMessagesForRoom(r.Context(), room, h.historyLimit)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("load history")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, messages)
}

// PostMessage handles posting a message to a room.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Sender = sanitize(req.Sender, maxSenderLen)
	req.Message = sanitize(req.Message, maxMessageLen)
	if req.Room == "" || req.Sender == "" || req.Message == "" {
		h.Error(w, http.StatusBadRequest, "Missing room, sender, or message")
		return
	}
	if !models.ValidRoomName(req.Room) {
		h.Error(w, http.StatusBadRequest, errInvalidRoom)
		return
	}
	if req.Type == "" {
		req.Type = models.TypeChat
	}

	msg := models.Message{
		Room:    req.Room,
		Sender:  req.Sender,
		Message: req.Message,
		Type:    req.Type,
	}

	// Store (generates ID and timestamp)
	if err := h.store.AddMessage(r.Context(), &msg); err != nil {
		h.logger.Error().Err(err).Str("room", msg.Room).Msg("store message")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesPosted.WithLabelValues("http").Inc()

	h.publish(r.Context(), msg)
	h.JSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
