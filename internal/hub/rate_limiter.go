package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter batches console lines per run so a fast-scrolling boot does
// not turn into one WebSocket frame per line.
type RateLimiter struct {
	mu       sync.Mutex
	pending  map[string]*pendingLines
	interval time.Duration
	onFlush  func(msg LineMessage)
}

type pendingLines struct {
	texts []string
	ts    int64
	timer *time.Timer
}

func NewRateLimiter(interval time.Duration, onFlush func(LineMessage)) *RateLimiter {
	return &RateLimiter{
		pending:  make(map[string]*pendingLines),
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(msg LineMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[msg.RunID]
	if !exists {
		p = &pendingLines{}
		r.pending[msg.RunID] = p
	}

	p.texts = append(p.texts, msg.Text)
	if msg.Ts > p.ts {
		p.ts = msg.Ts
	}

	if p.timer == nil {
		runID := msg.RunID
		p.timer = time.AfterFunc(r.interval, func() {
			r.flushRun(runID)
		})
	}
}

func (r *RateLimiter) flushRun(runID string) {
	r.mu.Lock()
	p, exists := r.pending[runID]
	if !exists {
		r.mu.Unlock()
		return
	}
	delete(r.pending, runID)
	r.mu.Unlock()

	if r.onFlush != nil && len(p.texts) > 0 {
		r.onFlush(LineMessage{
			Type:  "line",
			RunID: runID,
			Text:  strings.Join(p.texts, "\n"),
			Ts:    p.ts,
		})
	}
}

// FlushAll drains every pending batch immediately, preserving the batch
// order ahead of anything broadcast afterwards.
func (r *RateLimiter) FlushAll() {
	r.mu.Lock()
	runs := make([]string, 0, len(r.pending))
	for id := range r.pending {
		runs = append(runs, id)
	}
	r.mu.Unlock()

	for _, id := range runs {
		r.flushRun(id)
	}
}
