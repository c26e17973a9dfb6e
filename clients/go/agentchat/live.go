package agentchat

import (
	"fmt"
	"time"
)

// Retry defaults: a fixed delay between a bounded number of attempts.
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second
)

// Notice texts shown as System messages.
const (
	noticeConnected     = "Connected to chat."
	noticeReconnecting  = "Disconnected from chat. Reconnecting... (Attempt %d/%d)"
	noticeGaveUp        = "Could not reconnect to the server. Please reload."
	noticeConnError     = "Connection error: %v"
	noticeHistoryFailed = "Error loading past messages: %v"
	noticeSendFailed    = "Error sending message: %v"
)

// State of a live connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind enumerates the inputs of the connection state machine.
type EventKind int

const (
	EventConnect EventKind = iota // start dialing
	EventOpened                   // transport handshake completed
	EventFrame                    // a decoded message arrived
	EventClosed                   // transport closed or dial failed
	EventError                    // transport misbehaved and must be torn down
	EventRetry                    // retry delay elapsed
)

// Event is an input to LiveConnection.Step.
type Event struct {
	Kind    EventKind
	Message Message // EventFrame
	Err     error   // EventClosed, EventError
}

// EffectKind enumerates what the caller must do after a transition.
type EffectKind int

const (
	EffectDial           EffectKind = iota // open a new transport
	EffectCloseTransport                   // close the current transport
	EffectScheduleRetry                    // post EventRetry after Delay
	EffectConnected                        // a connection epoch started
	EffectNotice                           // show Text as a System message
	EffectForward                          // hand Message to the reconciler as live
)

// Effect is an output of LiveConnection.Step.
type Effect struct {
	Kind    EffectKind
	Text    string
	Message Message
	Delay   time.Duration
	Epoch   uint64
}

// RetryBudget bounds reconnection. Attempts counts consecutive failed
// connections and is reset by every successful open.
type RetryBudget struct {
	Attempts int
	Max      int
	Delay    time.Duration
}

// LiveConnection is the connection state machine. It performs no I/O:
// Step maps an event to the effects the owner has to carry out. It is not
// safe for concurrent use.
type LiveConnection struct {
	state  State
	budget RetryBudget
	epoch  uint64
}

// NewLiveConnection creates an idle connection. Non-positive arguments
// select the defaults.
func NewLiveConnection(maxAttempts int, delay time.Duration) *LiveConnection {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &LiveConnection{budget: RetryBudget{Max: maxAttempts, Delay: delay}}
}

func (c *LiveConnection) State() State        { return c.state }
func (c *LiveConnection) Budget() RetryBudget { return c.budget }

// Epoch identifies the current open connection; it increases on every open.
func (c *LiveConnection) Epoch() uint64 { return c.epoch }

// Step applies ev and returns the resulting effects in order. Events that
// are not meaningful in the current state are ignored.
func (c *LiveConnection) Step(ev Event) []Effect {
	switch c.state {
	case StateIdle:
		if ev.Kind == EventConnect {
			c.state = StateConnecting
			return []Effect{{Kind: EffectDial}}
		}

	case StateConnecting:
		switch ev.Kind {
		case EventOpened:
			c.state = StateOpen
			c.budget.Attempts = 0
			c.epoch++
			return []Effect{
				{Kind: EffectNotice, Text: noticeConnected},
				{Kind: EffectConnected, Epoch: c.epoch},
			}
		case EventClosed:
			return c.retry(nil)
		case EventError:
			return c.retry(c.teardown(ev.Err))
		}

	case StateOpen:
		switch ev.Kind {
		case EventFrame:
			return []Effect{{Kind: EffectForward, Message: ev.Message}}
		case EventClosed:
			return c.retry(nil)
		case EventError:
			return c.retry(c.teardown(ev.Err))
		}

	case StateRetrying:
		if ev.Kind == EventRetry {
			c.state = StateConnecting
			return []Effect{{Kind: EffectDial}}
		}

	case StateFailed:
	}
	return nil
}

func (c *LiveConnection) teardown(err error) []Effect {
	return []Effect{
		{Kind: EffectNotice, Text: fmt.Sprintf(noticeConnError, err)},
		{Kind: EffectCloseTransport},
	}
}

func (c *LiveConnection) retry(effects []Effect) []Effect {
	if c.budget.Attempts >= c.budget.Max {
		c.state = StateFailed
		return append(effects, Effect{Kind: EffectNotice, Text: noticeGaveUp})
	}
	c.state = StateRetrying
	c.budget.Attempts++
	return append(effects,
		Effect{Kind: EffectNotice, Text: fmt.Sprintf(noticeReconnecting, c.budget.Attempts, c.budget.Max)},
		Effect{Kind: EffectScheduleRetry, Delay: c.budget.Delay},
	)
}
