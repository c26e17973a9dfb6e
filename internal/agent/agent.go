// Package agent runs a language model as a participant of a chat room. The
// agent keeps a short window of the conversation, answers chat messages
// through a Speaker and writes replies over its live connection.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/agentchat/clients/go/agentchat"
)

const (
	generateAttempts    = 3
	DefaultRetryBackoff = 2 * time.Second
)

// ErrGaveUp is returned by Serve once the reconnect budget is spent.
var ErrGaveUp = errors.New("could not reconnect to the server")

// Dialer opens the agent's read-write connection to a room.
type Dialer interface {
	DialDuplex(ctx context.Context, room string) (agentchat.DuplexStream, error)
}

// Options configures an Agent.
type Options struct {
	Room    string
	Config  Config
	Common  CommonSettings
	Speaker Speaker
	Logger  zerolog.Logger

	RetryBackoff time.Duration // base of the generation backoff, doubled per attempt
	MaxAttempts  int           // reconnects, agentchat.DefaultMaxAttempts when zero
	RetryDelay   time.Duration // agentchat.DefaultRetryDelay when zero
}

// Agent is one model-backed room participant. Handle is not safe for
// concurrent use; Run calls it from a single goroutine.
type Agent struct {
	cfg     Config
	room    string
	speaker Speaker
	logger  zerolog.Logger

	historyLimit int
	delay        time.Duration
	backoff      time.Duration
	maxAttempts  int
	retryDelay   time.Duration

	history []agentchat.Message
	greeted bool
}

// New creates an agent.
func New(opts Options) *Agent {
	limit := opts.Common.ChatHistoryLimit
	if limit <= 0 {
		limit = DefaultChatHistoryLimit
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &Agent{
		cfg:          opts.Config,
		room:         agentchat.NewRoomContext(opts.Room).Resolve(),
		speaker:      opts.Speaker,
		logger:       opts.Logger.With().Str("agent", opts.Config.Name).Logger(),
		historyLimit: limit,
		delay:        time.Duration(opts.Common.ResponseDelayMs) * time.Millisecond,
		backoff:      backoff,
		maxAttempts:  opts.MaxAttempts,
		retryDelay:   opts.RetryDelay,
	}
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.cfg.Name }

// Room returns the agent's room.
func (a *Agent) Room() string { return a.room }

// Serve keeps the agent connected, reconnecting with the same budget as the
// chat client. It returns nil when ctx is cancelled and ErrGaveUp when the
// server stays unreachable.
func (a *Agent) Serve(ctx context.Context, d Dialer) error {
	conn := agentchat.NewLiveConnection(a.maxAttempts, a.retryDelay)
	var stream agentchat.DuplexStream

	queue := []agentchat.Event{{Kind: agentchat.EventConnect}}
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		for _, eff := range conn.Step(ev) {
			switch eff.Kind {
			case agentchat.EffectNotice:
				a.logger.Info().Str("room", a.room).Msg(eff.Text)

			case agentchat.EffectDial:
				s, err := d.DialDuplex(ctx, a.room)
				if ctx.Err() != nil {
					if s != nil {
						_ = s.Close()
					}
					return nil
				}
				if err != nil {
					a.logger.Warn().Err(err).Msg("dial failed")
					queue = append(queue, agentchat.Event{Kind: agentchat.EventClosed, Err: err})
					continue
				}
				stream = s
				queue = append(queue, agentchat.Event{Kind: agentchat.EventOpened})

			case agentchat.EffectConnected:
				err := a.Run(ctx, stream)
				stream = nil
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn().Err(err).Msg("connection lost")
				queue = append(queue, agentchat.Event{Kind: agentchat.EventClosed, Err: err})

			case agentchat.EffectScheduleRetry:
				t := time.NewTimer(eff.Delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return nil
				}
				queue = append(queue, agentchat.Event{Kind: agentchat.EventRetry})
			}
		}
	}
	if conn.State() == agentchat.StateFailed {
		return ErrGaveUp
	}
	return nil
}

// Run serves one connection until it ends or ctx is cancelled. The stream
// is closed on return.
func (a *Agent) Run(ctx context.Context, stream agentchat.DuplexStream) error {
	defer stream.Close()

	if !a.greeted {
		if err := stream.Send(a.greeting()); err != nil {
			return err
		}
		a.greeted = true
	}

	inbox := make(chan agentchat.Message, 32)
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(inbox)
		for {
			m, err := stream.Next()
			if err != nil {
				return errors.Wrap(err, "read")
			}
			select {
			case inbox <- m:
			case <-egCtx.Done():
				return nil
			}
		}
	})

	// Next has no context; closing the stream unblocks it.
	eg.Go(func() error {
		<-egCtx.Done()
		_ = stream.Close()
		return nil
	})

	eg.Go(func() error {
		for m := range inbox {
			reply, ok := a.Handle(egCtx, m)
			if !ok {
				continue
			}
			if err := stream.Send(reply); err != nil {
				return err
			}
		}
		return nil
	})

	return eg.Wait()
}

// Handle records m and returns the agent's reply, if it has one. Own
// messages and messages of other rooms are ignored; chat messages and
// mentions are answered.
func (a *Agent) Handle(ctx context.Context, m agentchat.Message) (agentchat.Message, bool) {
	if m.Sender == a.cfg.Name {
		return agentchat.Message{}, false
	}
	if m.Room != "" && m.Room != a.room {
		return agentchat.Message{}, false
	}
	a.remember(m)

	mentioned := strings.Contains(m.Message, "@"+a.cfg.Name)
	if m.Type != agentchat.TypeChat && !mentioned {
		return agentchat.Message{}, false
	}
	a.logger.Debug().Str("from", m.Sender).Msg("answering")

	if a.delay > 0 && !sleep(ctx, a.delay) {
		return agentchat.Message{}, false
	}
	text, ok := a.generate(ctx)
	if !ok {
		return agentchat.Message{}, false
	}

	reply := agentchat.Message{
		Room:    a.room,
		Sender:  a.cfg.Name,
		Message: text,
		Type:    agentchat.TypeChat,
	}
	a.remember(reply)
	return reply, true
}

// History returns the conversation window, oldest first.
func (a *Agent) History() []agentchat.Message {
	return append([]agentchat.Message(nil), a.history...)
}

func (a *Agent) remember(m agentchat.Message) {
	a.history = append(a.history, m)
	if over := len(a.history) - a.historyLimit; over > 0 {
		a.history = append(a.history[:0:0], a.history[over:]...)
	}
}

// prompt renders the window for the model. Status messages are left out;
// other participants are named so the model can tell them apart.
func (a *Agent) prompt() Prompt {
	p := Prompt{
		Model:   a.cfg.Model,
		System:  string(a.cfg.Persona),
		Options: a.cfg.Options,
	}
	for _, m := range a.history {
		if m.Type == agentchat.TypeSystem {
			continue
		}
		if m.Sender == a.cfg.Name {
			p.Turns = append(p.Turns, Turn{Role: RoleAssistant, Content: m.Message})
			continue
		}
		p.Turns = append(p.Turns, Turn{Role: RoleUser, Content: m.Sender + ": " + m.Message})
	}
	return p
}

// generate asks the speaker for a reply, retrying with exponential backoff.
// When every attempt fails the reply is an error notice for the room. ok is
// false only when ctx ended first.
func (a *Agent) generate(ctx context.Context) (string, bool) {
	p := a.prompt()
	for attempt := 0; attempt < generateAttempts; attempt++ {
		text, err := a.speaker.Speak(ctx, p)
		if err == nil {
			return text, true
		}
		if ctx.Err() != nil {
			return "", false
		}
		a.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("generation failed")
		if attempt+1 == generateAttempts {
			break
		}
		if !sleep(ctx, a.backoff<<attempt) {
			return "", false
		}
	}
	return fmt.Sprintf("Error: LLM failed to generate a response after %d attempts.", generateAttempts), true
}

func (a *Agent) greeting() agentchat.Message {
	return agentchat.Message{
		Room:    a.room,
		Sender:  a.cfg.Name,
		Message: fmt.Sprintf("Hello, I am %s and I have joined the chat!", a.cfg.Name),
		Type:    agentchat.TypeSystem,
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
