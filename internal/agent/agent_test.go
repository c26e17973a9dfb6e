package agent

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentchat/clients/go/agentchat"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// scriptedSpeaker answers with the queued replies in order; an error entry
// fails that call. Prompts are kept for inspection.
type scriptedSpeaker struct {
	mu      sync.Mutex
	replies []interface{}
	prompts []Prompt
}

func (s *scriptedSpeaker) Speak(ctx context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if len(s.replies) == 0 {
		return "ok", nil
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	if err, isErr := next.(error); isErr {
		return "", err
	}
	return next.(string), nil
}

func (s *scriptedSpeaker) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedSpeaker) lastPrompt() Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[len(s.prompts)-1]
}

func newTestAgent(speaker Speaker, limit int) *Agent {
	return New(Options{
		Room:         "lobby",
		Config:       Config{Name: "analyst", Model: "m", Persona: "You analyse."},
		Common:       CommonSettings{ChatHistoryLimit: limit},
		Speaker:      speaker,
		Logger:       zerolog.Nop(),
		RetryBackoff: time.Millisecond,
		MaxAttempts:  2,
		RetryDelay:   time.Millisecond,
	})
}

func chat(sender, text string) agentchat.Message {
	return agentchat.Message{Room: "lobby", Sender: sender, Message: text, Type: agentchat.TypeChat}
}

func TestHandleIgnoresOwnAndOtherRooms(t *testing.T) {
	sp := &scriptedSpeaker{}
	a := newTestAgent(sp, 10)

	_, ok := a.Handle(context.Background(), chat("analyst", "my own words"))
	assert.False(t, ok)

	other := chat("human", "hello")
	other.Room = "elsewhere"
	_, ok = a.Handle(context.Background(), other)
	assert.False(t, ok)

	assert.Zero(t, sp.calls())
	assert.Empty(t, a.History())
}

func TestHandleAnswersChatAndMentions(t *testing.T) {
	sp := &scriptedSpeaker{replies: []interface{}{"first", "second"}}
	a := newTestAgent(sp, 10)

	reply, ok := a.Handle(context.Background(), chat("human", "what do you think?"))
	require.True(t, ok)
	assert.Equal(t, "lobby", reply.Room)
	assert.Equal(t, "analyst", reply.Sender)
	assert.Equal(t, "first", reply.Message)
	assert.Equal(t, agentchat.TypeChat, reply.Type)

	// Status messages are remembered but only answered when they mention the agent.
	status := agentchat.Message{Room: "lobby", Sender: "critic", Message: "critic joined", Type: agentchat.TypeSystem}
	_, ok = a.Handle(context.Background(), status)
	assert.False(t, ok)
	assert.Equal(t, 1, sp.calls())

	status.Message = "@analyst are you there?"
	reply, ok = a.Handle(context.Background(), status)
	require.True(t, ok)
	assert.Equal(t, "second", reply.Message)

	assert.Len(t, a.History(), 5)
}

func TestPromptWindowAndRoles(t *testing.T) {
	sp := &scriptedSpeaker{replies: []interface{}{"r1", "r2"}}
	a := newTestAgent(sp, 3)

	_, ok := a.Handle(context.Background(), chat("human", "one"))
	require.True(t, ok)
	_, _ = a.Handle(context.Background(), agentchat.Message{Room: "lobby", Sender: "critic", Message: "noise", Type: agentchat.TypeSystem})
	_, ok = a.Handle(context.Background(), chat("critic", "two"))
	require.True(t, ok)

	// Window: r1, noise, two. The status message is not shown to the model.
	p := sp.lastPrompt()
	assert.Equal(t, "m", p.Model)
	assert.Equal(t, "You analyse.", p.System)
	assert.Equal(t, []Turn{
		{Role: RoleAssistant, Content: "r1"},
		{Role: RoleUser, Content: "critic: two"},
	}, p.Turns)

	h := a.History()
	require.Len(t, h, 3)
	assert.Equal(t, "r2", h[2].Message)
}

func TestGenerateRetriesWithBackoff(t *testing.T) {
	boom := errors.New("rate limited")
	sp := &scriptedSpeaker{replies: []interface{}{boom, boom, "finally"}}
	a := newTestAgent(sp, 10)

	reply, ok := a.Handle(context.Background(), chat("human", "hi"))
	require.True(t, ok)
	assert.Equal(t, "finally", reply.Message)
	assert.Equal(t, 3, sp.calls())
}

func TestGenerateReportsFailureAfterThreeAttempts(t *testing.T) {
	boom := errors.New("down")
	sp := &scriptedSpeaker{replies: []interface{}{boom, boom, boom, "unused"}}
	a := newTestAgent(sp, 10)

	reply, ok := a.Handle(context.Background(), chat("human", "hi"))
	require.True(t, ok)
	assert.Equal(t, "Error: LLM failed to generate a response after 3 attempts.", reply.Message)
	assert.Equal(t, 3, sp.calls())
}

func TestHandleStopsWhenContextEnds(t *testing.T) {
	a := New(Options{
		Room:    "lobby",
		Config:  Config{Name: "analyst", Model: "m"},
		Common:  CommonSettings{ResponseDelayMs: 60000},
		Speaker: &scriptedSpeaker{},
		Logger:  zerolog.Nop(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := a.Handle(ctx, chat("human", "hi"))
	assert.False(t, ok)
}

type fakeDuplex struct {
	frames chan agentchat.Message
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []agentchat.Message
}

func newFakeDuplex() *fakeDuplex {
	return &fakeDuplex{frames: make(chan agentchat.Message, 16), closed: make(chan struct{})}
}

func (f *fakeDuplex) Next() (agentchat.Message, error) {
	select {
	case m := <-f.frames:
		return m, nil
	case <-f.closed:
		return agentchat.Message{}, io.EOF
	}
}

func (f *fakeDuplex) Send(m agentchat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeDuplex) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeDuplex) messages() []agentchat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentchat.Message(nil), f.sent...)
}

func TestRunGreetsThenReplies(t *testing.T) {
	a := newTestAgent(&scriptedSpeaker{replies: []interface{}{"Looks fine."}}, 10)
	stream := newFakeDuplex()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, stream) }()

	// The server echoes the agent's own frames; they are not answered.
	stream.frames <- agentchat.Message{Room: "lobby", Sender: "analyst", Message: "Hello, I am analyst and I have joined the chat!", Type: agentchat.TypeSystem}
	stream.frames <- chat("human", "review this")

	assert.Eventually(t, func() bool { return len(stream.messages()) == 2 }, waitFor, tick)
	sent := stream.messages()
	assert.Equal(t, agentchat.TypeSystem, sent[0].Type)
	assert.Equal(t, "Hello, I am analyst and I have joined the chat!", sent[0].Message)
	assert.Equal(t, "Looks fine.", sent[1].Message)
	assert.Equal(t, "analyst", sent[1].Sender)

	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}

	// A reconnect does not greet again.
	again := newFakeDuplex()
	_ = again.Close()
	_ = a.Run(context.Background(), again)
	assert.Empty(t, again.messages())
}

func TestRunEndsWhenStreamCloses(t *testing.T) {
	a := newTestAgent(&scriptedSpeaker{}, 10)
	stream := newFakeDuplex()
	_ = stream.Close()

	err := a.Run(context.Background(), stream)
	assert.ErrorIs(t, err, io.EOF)
}

type duplexDialer struct {
	dials atomic.Int32
	next  chan *fakeDuplex
}

func (d *duplexDialer) DialDuplex(ctx context.Context, room string) (agentchat.DuplexStream, error) {
	d.dials.Add(1)
	select {
	case s := <-d.next:
		return s, nil
	default:
		return nil, errors.New("connection refused")
	}
}

func TestServeReconnectsThenGivesUp(t *testing.T) {
	a := newTestAgent(&scriptedSpeaker{}, 10)

	dropped := newFakeDuplex()
	_ = dropped.Close()
	d := &duplexDialer{next: make(chan *fakeDuplex, 1)}
	d.next <- dropped

	err := a.Serve(context.Background(), d)
	assert.ErrorIs(t, err, ErrGaveUp)
	// One successful open, then the two-attempt budget is spent on refusals.
	assert.Equal(t, int32(3), d.dials.Load())
	assert.Len(t, dropped.messages(), 1)
}

func TestServeStopsOnCancel(t *testing.T) {
	a := newTestAgent(&scriptedSpeaker{}, 10)
	stream := newFakeDuplex()
	d := &duplexDialer{next: make(chan *fakeDuplex, 1)}
	d.next <- stream

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, d) }()

	assert.Eventually(t, func() bool { return len(stream.messages()) == 1 }, waitFor, tick)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after cancel")
	}
}
