// Package ratelimit provides per-client sliding-window admission control
// with punitive blocking.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// BlockPenalty is the fixed block applied when a client overruns its window.
	BlockPenalty = 5 * time.Minute

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = time.Minute

	defaultIdleExpiry = time.Hour
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Status is a snapshot of one client's state.
type Status struct {
	Known       bool
	Blocked     bool
	BlockExpiry time.Time
	Requests    int
}

type clientState struct {
	timestamps  []time.Time
	blocked     bool
	blockExpiry time.Time
	lastSeen    time.Time
}

// Limiter tracks request timestamps per client. All state is in-process;
// one mutex serializes prune+append so concurrent admission for the same
// client never double-counts.
type Limiter struct {
	mu         sync.Mutex
	clients    map[string]*clientState
	limit      int
	window     time.Duration
	idleExpiry time.Duration
	now        func() time.Time
}

// New creates a Limiter admitting up to limit requests per window.
// limit <= 0 denies every request.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		clients:    make(map[string]*clientState),
		limit:      limit,
		window:     window,
		idleExpiry: defaultIdleExpiry,
		now:        time.Now,
	}
}

// Admit records one request attempt for clientID and decides whether it may
// proceed. Overrunning the window blocks the client for BlockPenalty.
func (l *Limiter) Admit(clientID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.clients[clientID]
	if st == nil {
		st = &clientState{}
		l.clients[clientID] = st
	}
	st.lastSeen = now

	if st.blocked {
		if now.Before(st.blockExpiry) {
			return Decision{Allowed: false, RetryAfter: st.blockExpiry.Sub(now)}
		}
		// Block served out: clear it and the window.
		st.blocked = false
		st.blockExpiry = time.Time{}
		st.timestamps = nil
	}

	if l.limit <= 0 {
		return Decision{Allowed: false}
	}

	cutoff := now.Add(-l.window)
	recent := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	st.timestamps = recent

	if len(st.timestamps) >= l.limit {
		st.blocked = true
		st.blockExpiry = now.Add(BlockPenalty)
		return Decision{Allowed: false, RetryAfter: BlockPenalty}
	}

	st.timestamps = append(st.timestamps, now)
	return Decision{Allowed: true, Remaining: l.limit - len(st.timestamps)}
}

// Block administratively blocks a client. d <= 0 applies BlockPenalty.
// Unknown clients are created so a block can be staged ahead of traffic.
func (l *Limiter) Block(clientID string, d time.Duration) {
	if d <= 0 {
		d = BlockPenalty
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.clients[clientID]
	if st == nil {
		st = &clientState{}
		l.clients[clientID] = st
	}
	st.lastSeen = now
	st.blocked = true
	st.blockExpiry = now.Add(d)
}

// Unblock clears a client's block and window. Unknown clients are a no-op.
func (l *Limiter) Unblock(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.clients[clientID]
	if st == nil {
		return
	}
	st.blocked = false
	st.blockExpiry = time.Time{}
	st.timestamps = nil
}

// Status reports a client's current state without mutating it.
func (l *Limiter) Status(clientID string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.clients[clientID]
	if st == nil {
		return Status{}
	}

	now := l.now()
	blocked := st.blocked && now.Before(st.blockExpiry)

	requests := 0
	cutoff := now.Add(-l.window)
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			requests++
		}
	}

	s := Status{Known: true, Blocked: blocked, Requests: requests}
	if blocked {
		s.BlockExpiry = st.blockExpiry
	}
	return s
}

// Sweep removes clients whose block has expired and unblocked clients idle
// longer than an hour, bounding memory under many distinct callers.
// Returns the number of clients removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, st := range l.clients {
		switch {
		case st.blocked && !now.Before(st.blockExpiry):
			delete(l.clients, id)
			removed++
		case !st.blocked && now.Sub(st.lastSeen) > l.idleExpiry:
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// RunSweeper runs Sweep on a fixed period until ctx is cancelled.
// interval <= 0 uses DefaultSweepInterval.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Len reports the tracked client count, for tests and status output.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
