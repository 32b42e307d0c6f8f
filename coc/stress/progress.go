package stress

import (
	"context"
	"sync"
	"time"
)

// progress guards role state shared between the host loop callbacks and the
// driver. Every update wakes the waiters; a coarse ticker covers anything an
// update could miss.
type progress struct {
	mu      sync.Mutex
	changed chan struct{}
}

func newProgress() *progress {
	return &progress{changed: make(chan struct{})}
}

func (p *progress) update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *progress) read(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// wait blocks until done reports true, evaluated under the lock.
func (p *progress) wait(ctx context.Context, poll time.Duration, done func() bool) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		ok := done()
		ch := p.changed
		p.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
