package agentchat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionClosed is returned when a session is used after Run returned.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionRunning is returned by a second call to Run.
	ErrSessionRunning = errors.New("session already running")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("empty message")
)

// SessionOptions configures a Session. History, Sender, Dialer and Renderer
// are required.
type SessionOptions struct {
	Room     string
	History  HistoryService
	Sender   SendService
	Dialer   Dialer
	Renderer Renderer
	Logger   zerolog.Logger

	MaxAttempts int           // DefaultMaxAttempts when zero
	RetryDelay  time.Duration // DefaultRetryDelay when zero
	Now         func() time.Time
}

// Events posted into the session loop.
type (
	dialResult struct {
		gen    uint64
		stream Stream
		err    error
	}
	transportEvent struct {
		gen uint64
		ev  Event
	}
	historyResult struct {
		epoch uint64
		msgs  []Message
		err   error
	}
	retryDue    struct{}
	noticeEvent struct{ text string }
)

// Session keeps one room rendered: it drives the live connection, reloads
// history on every (re)connection and reconciles both into the renderer.
// All state is owned by the goroutine running Run; other goroutines only
// post events to it.
type Session struct {
	room   string
	loader *HistoryLoader
	sender SendService
	dialer Dialer
	logger zerolog.Logger
	now    func() time.Time

	conn   *LiveConnection
	rec    *Reconciler
	events chan interface{}
	done   chan struct{}

	// closed is set once Run has returned; posts after that are refused.
	postMu sync.RWMutex
	closed bool

	started atomic.Bool
	state   atomic.Int32

	// loop-owned
	gen    uint64
	stream Stream
	timer  *time.Timer
}

// NewSession creates a session for opts.Room.
func NewSession(opts SessionOptions) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	room := NewRoomContext(opts.Room).Resolve()
	return &Session{
		room:   room,
		loader: NewHistoryLoader(opts.History, opts.Logger),
		sender: opts.Sender,
		dialer: opts.Dialer,
		logger: opts.Logger.With().Str("room", room).Logger(),
		now:    now,
		conn:   NewLiveConnection(opts.MaxAttempts, opts.RetryDelay),
		rec:    NewReconciler(opts.Renderer),
		events: make(chan interface{}, 64),
		done:   make(chan struct{}),
	}
}

// Room returns the session's room.
func (s *Session) Room() string { return s.room }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run connects and processes events until ctx is cancelled. Connection
// failures are reported through the renderer, never returned; after the
// retry budget is exhausted Run keeps serving notices until cancelled.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer func() {
		s.shutdown()
		close(s.done)
		s.postMu.Lock()
		s.closed = true
		s.postMu.Unlock()
		s.drain()
	}()

	s.apply(ctx, Event{Kind: EventConnect})
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

// Send posts text to the room. On failure the error is also shown as a
// System notice; the caller keeps the text for another attempt. A
// successfully sent message is rendered when it comes back on the live feed.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if err := s.sender.PostMessage(ctx, s.room, text); err != nil {
		s.logger.Warn().Err(err).Msg("send failed")
		s.post(ctx, noticeEvent{text: fmt.Sprintf(noticeSendFailed, err)})
		return err
	}
	return nil
}

// post hands ev to the loop and reports whether it was accepted.
func (s *Session) post(ctx context.Context, ev interface{}) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// drain releases transports of events the loop never handled.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			if res, ok := ev.(dialResult); ok && res.stream != nil {
				_ = res.stream.Close()
			}
		default:
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, ev interface{}) {
	switch ev := ev.(type) {
	case dialResult:
		if ev.gen != s.gen {
			if ev.stream != nil {
				_ = ev.stream.Close()
			}
			return
		}
		if ev.err != nil {
			s.logger.Warn().Err(ev.err).Msg("dial failed")
			s.apply(ctx, Event{Kind: EventClosed, Err: ev.err})
			return
		}
		s.stream = ev.stream
		go s.read(ctx, ev.gen, ev.stream)
		s.apply(ctx, Event{Kind: EventOpened})

	case transportEvent:
		if ev.gen != s.gen {
			return
		}
		if ev.ev.Kind == EventClosed {
			s.logger.Warn().Err(ev.ev.Err).Msg("live connection closed")
			s.stream = nil
		}
		s.apply(ctx, ev.ev)

	case historyResult:
		if ev.epoch != s.conn.Epoch() {
			s.logger.Debug().Uint64("epoch", ev.epoch).Msg("discarding superseded history")
			return
		}
		if ev.err != nil {
			s.logger.Warn().Err(ev.err).Msg("history load failed")
			s.rec.Notice(s.system(fmt.Sprintf(noticeHistoryFailed, ev.err)))
			return
		}
		n := s.rec.ApplyHistory(ev.msgs)
		s.logger.Debug().Int("fetched", len(ev.msgs)).Int("rendered", n).Msg("history reconciled")

	case retryDue:
		s.timer = nil
		s.apply(ctx, Event{Kind: EventRetry})

	case noticeEvent:
		s.rec.Notice(s.system(ev.text))
	}
}

// apply steps the state machine and carries out the resulting effects.
func (s *Session) apply(ctx context.Context, ev Event) {
	from := s.conn.State()
	effects := s.conn.Step(ev)
	to := s.conn.State()
	s.state.Store(int32(to))
	if from != to {
		s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("connection state")
	}

	for _, eff := range effects {
		switch eff.Kind {
		case EffectDial:
			s.gen++
			go s.dial(ctx, s.gen)
		case EffectCloseTransport:
			s.closeStream()
		case EffectScheduleRetry:
			s.timer = time.AfterFunc(eff.Delay, func() { s.post(ctx, retryDue{}) })
		case EffectConnected:
			go s.loadHistory(ctx, eff.Epoch)
		case EffectNotice:
			s.rec.Notice(s.system(eff.Text))
		case EffectForward:
			s.rec.ApplyLive(eff.Message)
		}
	}
}

func (s *Session) dial(ctx context.Context, gen uint64) {
	stream, err := s.dialer.Dial(ctx, s.room)
	if !s.post(ctx, dialResult{gen: gen, stream: stream, err: err}) && stream != nil {
		_ = stream.Close()
	}
}

// read pumps frames of one transport generation into the loop.
func (s *Session) read(ctx context.Context, gen uint64, stream Stream) {
	for {
		m, err := stream.Next()
		if err != nil {
			kind := EventClosed
			if errors.Is(err, ErrMalformedPayload) {
				kind = EventError
			} else {
				_ = stream.Close()
			}
			s.post(ctx, transportEvent{gen: gen, ev: Event{Kind: kind, Err: err}})
			return
		}
		if !s.post(ctx, transportEvent{gen: gen, ev: Event{Kind: EventFrame, Message: m}}) {
			_ = stream.Close()
			return
		}
	}
}

func (s *Session) loadHistory(ctx context.Context, epoch uint64) {
	msgs, err := s.loader.Load(ctx, s.room)
	s.post(ctx, historyResult{epoch: epoch, msgs: msgs, err: err})
}

func (s *Session) closeStream() {
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
}

func (s *Session) shutdown() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.closeStream()
}

func (s *Session) system(text string) Message {
	return Message{
		Room:      s.room,
		Sender:    SenderSystem,
		Message:   text,
		Timestamp: s.now().UTC(),
		Type:      TypeSystem,
	}
}
