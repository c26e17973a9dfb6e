// Package agentchat is a client for the agentchat room service. Besides the
// plain HTTP API it provides Session, which keeps a room's message stream
// rendered across connection failures.
package agentchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the address of a locally started server.
const DefaultBaseURL = "http://127.0.0.1:8000"

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrMalformedPayload is returned when a response body or frame cannot be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
)

// MessageType distinguishes conversation messages from status notices.
type MessageType string

const (
	TypeChat   MessageType = "chat"
	TypeSystem MessageType = "system"
)

// Well-known senders.
const (
	SenderHuman  = "human"
	SenderSystem = "System"
)

// Message represents a chat message.
type Message struct {
	Room      string      `json:"room,omitempty"`
	Sender    string      `json:"sender"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
}

// IsSystem reports whether m is a synthetic status notice.
func (m Message) IsSystem() bool {
	return m.Sender == SenderSystem && m.Type == TypeSystem
}

// validate rejects records that decoded but lack the fields ordering depends on.
func (m Message) validate() error {
	if m.Sender == "" {
		return errors.Wrap(ErrMalformedPayload, "message without sender")
	}
	if m.Timestamp.IsZero() {
		return errors.Wrap(ErrMalformedPayload, "message without timestamp")
	}
	return nil
}

// Client is an agentchat API client.
type Client struct {
	BaseURL    string
	Agent      string // name announced on live connections
	HTTPClient *http.Client
}

// NewClient creates a new client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Agent:      SenderHuman,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request and returns the body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s %s", method, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return nil, errors.Wrapf(ErrUnexpectedStatus, "HTTP %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// GetMessages retrieves the recent history of a room, as sent by the server.
func (c *Client) GetMessages(ctx context.Context, room string) ([]Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/messages?room="+url.QueryEscape(room), nil)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	if err := json.Unmarshal(respBody, &msgs); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "decode history: %v", err)
	}
	for i := range msgs {
		if err := msgs[i].validate(); err != nil {
			return nil, errors.Wrapf(err, "history entry %d", i)
		}
	}
	return msgs, nil
}

// PostMessageRequest is the request body for posting a message.
type PostMessageRequest struct {
	Room    string      `json:"room"`
	Sender  string      `json:"sender"`
	Message string      `json:"message"`
	Type    MessageType `json:"type"`
}

// PostMessage posts a chat message to a room as the human participant.
func (c *Client) PostMessage(ctx context.Context, room, text string) error {
	body, err := json.Marshal(PostMessageRequest{
		Room:    room,
		Sender:  SenderHuman,
		Message: text,
		Type:    TypeChat,
	})
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	_, err = c.doRequest(ctx, http.MethodPost, "/api/message", body)
	return err
}

// ListAgents lists the agents currently connected to a room.
func (c *Client) ListAgents(ctx context.Context, room string) ([]string, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/agents?room="+url.QueryEscape(room), nil)
	if err != nil {
		return nil, err
	}

	var agents []string
	if err := json.Unmarshal(respBody, &agents); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "decode agents: %v", err)
	}
	return agents, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "decode health: %v", err)
	}
	return &resp, nil
}

// liveURL builds the websocket address of a room's live feed.
func (c *Client) liveURL(room string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("room", room)
	q.Set("agent", c.Agent)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
