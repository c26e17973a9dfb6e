package agentchat

import "time"

// Renderer displays messages. It is called from a single goroutine.
type Renderer interface {
	Render(m Message)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(m Message)

func (f RendererFunc) Render(m Message) { f(m) }

// Reconciler merges history batches and live messages into one rendered
// sequence without duplicates. Only the watermark, the latest rendered
// server timestamp, is kept. It is not safe for concurrent use.
type Reconciler struct {
	renderer  Renderer
	watermark time.Time
	marked    bool
}

// NewReconciler creates a reconciler writing to r.
func NewReconciler(r Renderer) *Reconciler {
	return &Reconciler{renderer: r}
}

// Watermark returns the latest rendered timestamp and whether anything has
// been rendered yet.
func (r *Reconciler) Watermark() (time.Time, bool) {
	return r.watermark, r.marked
}

// ApplyHistory renders the messages of an ascending batch that are newer
// than the watermark at the time the batch arrives, and returns how many
// were rendered.
func (r *Reconciler) ApplyHistory(batch []Message) int {
	cutoff, marked := r.watermark, r.marked
	rendered := 0
	for _, m := range batch {
		if marked && !m.Timestamp.After(cutoff) {
			continue
		}
		r.renderer.Render(m)
		r.raise(m.Timestamp)
		rendered++
	}
	return rendered
}

// ApplyLive renders m unconditionally. A message older than the watermark
// leaves it unchanged.
func (r *Reconciler) ApplyLive(m Message) {
	r.renderer.Render(m)
	r.raise(m.Timestamp)
}

// Notice renders a local status message. Notices carry client clock
// timestamps and do not move the watermark.
func (r *Reconciler) Notice(m Message) {
	r.renderer.Render(m)
}

func (r *Reconciler) raise(ts time.Time) {
	if !r.marked || ts.After(r.watermark) {
		r.watermark = ts
		r.marked = true
	}
}
