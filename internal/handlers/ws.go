package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/agentchat/internal/metrics"
	"github.com/eldtechnologies/agentchat/internal/models"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 20 * time.Second
	storeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
}

// inboundFrame is what agents write over the websocket. Missing fields fall
// back to the connection's room (also used for an invalid room), "unknown" and "chat".
type inboundFrame struct {
	Room    string             `json:"room"`
	Sender  string             `json:"sender"`
	Message string             `json:"message"`
	Type    models.MessageType `json:"type"`
}

// Live upgrades the request to a websocket attached to a room's live feed.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	room, ok := h.roomParam(w, r)
	if !ok {
		return
	}
	agent := sanitize(r.URL.Query().Get("agent"), maxSenderLen)
	if agent == "" {
		agent = models.SenderHuman
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	peer := h.hub.Join(room, agent, conn)
	defer h.hub.Leave(peer)

	conn.SetReadLimit(MaxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := peer.Write(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			h.logger.Debug().Err(err).Str("room", room).Str("agent", agent).Msg("websocket read ended")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		msg := models.Message{
			Room:    frame.Room,
			Sender:  sanitize(frame.Sender, maxSenderLen),
			Message: sanitize(frame.Message, maxMessageLen),
			Type:    frame.Type,
		}
		if !models.ValidRoomName(msg.Room) {
			msg.Room = room
		}
		if msg.Sender == "" {
			msg.Sender = models.SenderUnknown
		}
		if msg.Type == "" {
			msg.Type = models.TypeChat
		}
		if msg.Message == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := h.store.AddMessage(ctx, &msg); err != nil {
			h.logger.Error().Err(err).Str("room", msg.Room).Msg("store websocket message")
			cancel()
			continue
		}
		metrics.MessagesPosted.WithLabelValues("ws").Inc()
		h.publish(ctx, msg)
		cancel()
	}
}
