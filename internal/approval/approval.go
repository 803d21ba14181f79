// Package approval implements the process-wide human-in-the-loop approval
// store: tool calls whose workspace policy requires approval suspend here
// until an operator approves, denies, or the request expires. The sweeper
// is a ticker-driven background loop with a stop/stopped channel pair for
// graceful shutdown, the same lifecycle as the worker's reclaimer.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexhq/cortex/common/id"
	"github.com/cortexhq/cortex/internal/domain"
)

const DefaultTTL = 30 * time.Minute

// waiter lets Wait block until a pending approval resolves, without
// polling.
type waiter struct {
	ch chan domain.Approval
}

// Store is the process-wide approval table. A single Store instance is
// shared by every request's tool dispatcher.
type Store struct {
	mu      sync.Mutex
	byID    map[int64]*domain.Approval
	waiters map[int64]*waiter
	ttl     time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}

	onDepthChange func(pending int)
}

func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		byID:      make(map[int64]*domain.Approval),
		waiters:   make(map[int64]*waiter),
		ttl:       ttl,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// SetDepthObserver registers a callback invoked with the pending-approval
// count whenever it changes, feeding the approval queue-depth gauge.
func (s *Store) SetDepthObserver(fn func(pending int)) {
	s.mu.Lock()
	s.onDepthChange = fn
	s.mu.Unlock()
}

// pendingLocked counts approvals still pending; callers hold s.mu.
func (s *Store) pendingLocked() int {
	n := 0
	for _, a := range s.byID {
		if a.State == domain.ApprovalPending {
			n++
		}
	}
	return n
}

func (s *Store) notifyDepthLocked() func() {
	if s.onDepthChange == nil {
		return func() {}
	}
	fn, n := s.onDepthChange, s.pendingLocked()
	return func() { fn(n) }
}

// Request creates a pending approval and returns immediately; the dispatcher
// surfaces it to the caller as a waiting_approval outcome. Use Wait
// separately to block for resolution (e.g. a synchronous polling client).
func (s *Store) Request(ctx context.Context, stepIndex int, tool domain.ToolName, args map[string]any) (domain.Approval, error) {
	a := domain.Approval{
		ApprovalID: id.New(),
		Tool:       tool,
		Args:       args,
		State:      domain.ApprovalPending,
		CreatedAt:  time.Now(),
		TTL:        s.ttl,
	}

	s.mu.Lock()
	s.byID[a.ApprovalID] = &a
	s.waiters[a.ApprovalID] = &waiter{ch: make(chan domain.Approval, 1)}
	notify := s.notifyDepthLocked()
	s.mu.Unlock()
	notify()

	return a, nil
}

// Wait blocks until approval id resolves or ctx is canceled.
func (s *Store) Wait(ctx context.Context, approvalID int64) (domain.Approval, error) {
	s.mu.Lock()
	w, ok := s.waiters[approvalID]
	current, found := s.byID[approvalID]
	s.mu.Unlock()
	if !ok || !found {
		return domain.Approval{}, fmt.Errorf("approval %d not found", approvalID)
	}
	if current.State != domain.ApprovalPending {
		return *current, nil
	}

	select {
	case resolved := <-w.ch:
		return resolved, nil
	case <-ctx.Done():
		return *current, ctx.Err()
	}
}

// Get returns a snapshot of the approval, if it exists.
func (s *Store) Get(id int64) (domain.Approval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return domain.Approval{}, false
	}
	return *a, true
}

// Resolve transitions a pending approval to approved or denied and wakes any
// waiter.
func (s *Store) Resolve(id int64, approve bool, reason string) (domain.Approval, error) {
	s.mu.Lock()
	a, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return domain.Approval{}, fmt.Errorf("approval %d not found", id)
	}
	if a.State != domain.ApprovalPending {
		resolved := *a
		s.mu.Unlock()
		return resolved, fmt.Errorf("approval %d already resolved as %s", id, a.State)
	}
	if approve {
		a.State = domain.ApprovalApproved
	} else {
		a.State = domain.ApprovalDenied
	}
	a.Reason = reason
	resolved := *a
	w := s.waiters[id]
	notify := s.notifyDepthLocked()
	s.mu.Unlock()
	notify()

	if w != nil {
		select {
		case w.ch <- resolved:
		default:
		}
	}
	return resolved, nil
}

// RunSweeper starts the TTL-expiry background loop. Blocks until Stop is
// called or ctx is canceled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	defer close(s.stoppedCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	now := time.Now()
	s.mu.Lock()
	var expired []*domain.Approval
	for _, a := range s.byID {
		if a.Expired(now) {
			a.State = domain.ApprovalExpired
			expired = append(expired, a)
		}
	}
	notify := s.notifyDepthLocked()
	s.mu.Unlock()
	if len(expired) > 0 {
		notify()
	}

	for _, a := range expired {
		slog.Info("approval expired", "approval_id", a.ApprovalID, "tool", a.Tool)
		s.mu.Lock()
		w := s.waiters[a.ApprovalID]
		resolved := *a
		s.mu.Unlock()
		if w != nil {
			select {
			case w.ch <- resolved:
			default:
			}
		}
	}
}

// Stop signals the sweeper to stop and waits for it to exit.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}
