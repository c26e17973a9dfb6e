package models

import "time"

// MessageType distinguishes conversation messages from status notices.
type MessageType string

const (
	TypeChat   MessageType = "chat"
	TypeSystem MessageType = "system"
)

// Well-known senders.
const (
	SenderHuman   = "human"
	SenderSystem  = "System"
	SenderUnknown = "unknown"
)

// Message represents a chat message as stored and broadcast by the server.
type Message struct {
	ID        string      `json:"id,omitempty"` // ULID
	Room      string      `json:"room"`
	Sender    string      `json:"sender"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}
