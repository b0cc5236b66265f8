package overpass

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum gap between the completion of one tile's query
// sequence and the start of the next. Concurrent callers share one pacer,
// so starts are also spaced by the gap.
type Pacer struct {
	mu   sync.Mutex
	gap  time.Duration
	next time.Time
}

// NewPacer creates a pacer; a zero gap never waits
func NewPacer(gap time.Duration) *Pacer {
	return &Pacer{gap: gap}
}

// Wait blocks until the caller may start, or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	start := p.next
	if start.Before(now) {
		start = now
	}
	p.next = start.Add(p.gap)
	p.mu.Unlock()

	d := time.Until(start)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Done records that a tile's query sequence finished, successful or not
func (p *Pacer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t := time.Now().Add(p.gap); t.After(p.next) {
		p.next = t
	}
}
