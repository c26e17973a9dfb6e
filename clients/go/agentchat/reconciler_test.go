package agentchat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func chat(sender, text string, sec int) Message {
	return Message{Room: "lobby", Sender: sender, Message: text, Timestamp: at(sec), Type: TypeChat}
}

type sliceRenderer struct{ got []Message }

func (r *sliceRenderer) Render(m Message) { r.got = append(r.got, m) }

func (r *sliceRenderer) texts() []string {
	out := make([]string, len(r.got))
	for i, m := range r.got {
		out[i] = m.Sender + ": " + m.Message
	}
	return out
}

func TestReconcilerHistoryThenLive(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)

	n := rec.ApplyHistory([]Message{chat("alice", "hi", 1), chat("bob", "hello", 2)})
	assert.Equal(t, 2, n)
	rec.ApplyLive(chat("alice", "how are you", 3))

	assert.Equal(t, []string{"alice: hi", "bob: hello", "alice: how are you"}, r.texts())
	wm, ok := rec.Watermark()
	require.True(t, ok)
	assert.Equal(t, at(3), wm)
}

func TestReconcilerReloadRendersOnlyMissed(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)

	rec.ApplyHistory([]Message{chat("alice", "one", 1)})
	n := rec.ApplyHistory([]Message{chat("alice", "one", 1), chat("bob", "two", 2), chat("carol", "three", 3)})

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"alice: one", "bob: two", "carol: three"}, r.texts())
}

func TestReconcilerNoDuplicateAfterLive(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)

	rec.ApplyLive(chat("alice", "live", 5))
	n := rec.ApplyHistory([]Message{chat("bob", "old", 4), chat("alice", "live", 5)})

	assert.Zero(t, n)
	assert.Equal(t, []string{"alice: live"}, r.texts())
}

func TestReconcilerLateLiveKeepsWatermark(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)

	rec.ApplyLive(chat("alice", "newer", 10))
	rec.ApplyLive(chat("bob", "late", 7))

	assert.Equal(t, []string{"alice: newer", "bob: late"}, r.texts())
	wm, _ := rec.Watermark()
	assert.Equal(t, at(10), wm)
}

func TestReconcilerEqualTimestampsInOneBatch(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)
	rec.ApplyLive(chat("alice", "first", 1))

	n := rec.ApplyHistory([]Message{chat("alice", "first", 1), chat("bob", "a", 2), chat("carol", "b", 2)})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"alice: first", "bob: a", "carol: b"}, r.texts())
}

func TestReconcilerWatermarkMonotonic(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)

	var prev time.Time
	steps := []func(){
		func() { rec.ApplyHistory([]Message{chat("a", "1", 3), chat("a", "2", 6)}) },
		func() { rec.ApplyLive(chat("b", "3", 2)) },
		func() { rec.ApplyHistory([]Message{chat("a", "1", 3)}) },
		func() { rec.ApplyLive(chat("b", "4", 9)) },
		func() { rec.Notice(Message{Sender: SenderSystem, Message: "x", Timestamp: at(100), Type: TypeSystem}) },
		func() { rec.ApplyHistory(nil) },
	}
	for i, step := range steps {
		step()
		wm, _ := rec.Watermark()
		assert.False(t, wm.Before(prev), "step %d regressed the watermark", i)
		prev = wm
	}
	assert.Equal(t, at(9), prev)
}

func TestReconcilerNoticeLeavesWatermark(t *testing.T) {
	r := &sliceRenderer{}
	rec := NewReconciler(r)

	rec.Notice(Message{Sender: SenderSystem, Message: "Connected to chat.", Timestamp: at(50), Type: TypeSystem})
	_, ok := rec.Watermark()
	assert.False(t, ok)

	n := rec.ApplyHistory([]Message{chat("alice", "before connect", 10)})
	assert.Equal(t, 1, n)
	assert.Len(t, r.got, 2)
}

func TestReconcilerWithRendererFunc(t *testing.T) {
	var got []string
	rec := NewReconciler(RendererFunc(func(m Message) { got = append(got, m.Message) }))

	rec.ApplyHistory([]Message{chat("alice", "one", 1)})
	rec.ApplyLive(chat("bob", "two", 2))
	assert.Equal(t, []string{"one", "two"}, got)
}
