package agentchat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Server pings every 20s; a silent connection is considered dead after this.
	liveReadWait  = 60 * time.Second
	liveWriteWait = 10 * time.Second
)

// Stream is a receive-only feed of a room's live messages.
type Stream interface {
	// Next blocks until the next message arrives. Decoding failures are
	// reported as ErrMalformedPayload; any other error means the transport
	// is gone.
	Next() (Message, error)
	Close() error
}

// DuplexStream is a live stream that can also post messages into the room,
// as agents do.
type DuplexStream interface {
	Stream
	Send(m Message) error
}

// Dialer opens live streams.
type Dialer interface {
	Dial(ctx context.Context, room string) (Stream, error)
}

// WebsocketDialer opens live streams against the server's /ws endpoint.
type WebsocketDialer struct {
	client *Client
	ws     *websocket.Dialer
}

// Dialer returns a websocket dialer for the client's server.
func (c *Client) Dialer() *WebsocketDialer {
	return &WebsocketDialer{
		client: c,
		ws: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial connects to the room's live feed.
func (d *WebsocketDialer) Dial(ctx context.Context, room string) (Stream, error) {
	s, err := d.dial(ctx, room)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DialDuplex connects to the room's live feed for reading and writing. The
// client's Agent is the name the connection is registered under.
func (d *WebsocketDialer) DialDuplex(ctx context.Context, room string) (DuplexStream, error) {
	s, err := d.dial(ctx, room)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *WebsocketDialer) dial(ctx context.Context, room string) (*wsStream, error) {
	u, err := d.client.liveURL(room)
	if err != nil {
		return nil, err
	}
	conn, resp, err := d.ws.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: HTTP %d", u, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", u)
	}

	_ = conn.SetReadDeadline(time.Now().Add(liveReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(liveReadWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(liveWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return &wsStream{conn: conn}, nil
}

// Send writes m as a frame. Room, sender and type fall back to the
// server's defaults when empty.
func (s *wsStream) Send(m Message) error {
	data, err := json.Marshal(outboundFrame{Room: m.Room, Sender: m.Sender, Message: m.Message, Type: m.Type})
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return errors.Wrap(s.conn.WriteMessage(websocket.TextMessage, data), "write frame")
}

type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // one writer at a time
	once    sync.Once
	err     error
}

// outboundFrame is what a participant writes; the server stamps id and
// timestamp.
type outboundFrame struct {
	Room    string      `json:"room"`
	Sender  string      `json:"sender"`
	Message string      `json:"message"`
	Type    MessageType `json:"type"`
}

func (s *wsStream) Next() (Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(liveReadWait))

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Wrapf(ErrMalformedPayload, "decode frame: %v", err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		m.Type = TypeChat
	}
	return m, nil
}

// Close sends a close frame when possible and releases the connection.
func (s *wsStream) Close() error {
	s.once.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.err = s.conn.Close()
	})
	return s.err
}
