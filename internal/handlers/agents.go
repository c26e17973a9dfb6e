package handlers

import "net/http"

// ListAgents handles listing the agents connected to a room.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, h.hub.Agents(room))
}
