package agentchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "my room", r.URL.Query().Get("room"))
		_, _ = w.Write([]byte(`[
			{"id":"01HX","room":"my room","sender":"alice","message":"hi","timestamp":"2024-05-01T12:00:01.123456+00:00","type":"chat"},
			{"room":"my room","sender":"bob","message":"yo","timestamp":"2024-05-01T12:00:02Z","type":"chat"}
		]`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL).GetMessages(context.Background(), "my room")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice", msgs[0].Sender)
	assert.Equal(t, TypeChat, msgs[0].Type)
	assert.True(t, msgs[0].Timestamp.Before(msgs[1].Timestamp))
}

func TestGetMessagesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"db down"}`, ErrUnexpectedStatus},
		{"not json", http.StatusOK, `<html>`, ErrMalformedPayload},
		{"bad timestamp", http.StatusOK, `[{"sender":"a","message":"m","timestamp":"yesterday"}]`, ErrMalformedPayload},
		{"missing sender", http.StatusOK, `[{"message":"m","timestamp":"2024-05-01T12:00:00Z"}]`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).GetMessages(context.Background(), "lobby")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPostMessage(t *testing.T) {
	var got PostMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/message", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PostMessage(context.Background(), "lobby", "hello agents")
	require.NoError(t, err)
	assert.Equal(t, PostMessageRequest{Room: "lobby", Sender: "human", Message: "hello agents", Type: TypeChat}, got)
}

func TestPostMessageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Missing room, sender, or message"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).PostMessage(context.Background(), "lobby", "x")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "HTTP 400: Missing room, sender, or message")
}

func TestListAgentsAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agents":
			_, _ = w.Write([]byte(`["coder","human"]`))
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy","version":"0.1.0","checks":{"store":{"status":"pass"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	agents, err := c.ListAgents(context.Background(), "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"coder", "human"}, agents)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestLiveURL(t *testing.T) {
	u, err := NewClient("https://chat.example.com/base/").liveURL("my room")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/base/ws?agent=human&room=my+room", u)

	u, err = NewClient("").liveURL("lobby")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8000/ws?agent=human&room=lobby", u)

	_, err = NewClient("ftp://example.com").liveURL("lobby")
	assert.Error(t, err)
}
