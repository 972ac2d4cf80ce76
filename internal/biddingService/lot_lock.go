package bidding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"plate-auction/internal/biddingerrors"

	"github.com/jonboulle/clockwork"
)

type lotLock struct {
	sem  chan struct{}
	refs int
}

// LotLocker serializes writers per lot. Entries exist only while someone holds or waits for them.
type LotLocker struct {
	mu      sync.Mutex
	locks   map[string]*lotLock
	timeout time.Duration
	clock   clockwork.Clock
}

// NewLotLocker creates a LotLocker whose acquisitions give up after timeout
func NewLotLocker(timeout time.Duration, clock clockwork.Clock) *LotLocker {
	return &LotLocker{
		locks:   make(map[string]*lotLock),
		timeout: timeout,
		clock:   clock,
	}
}

// Lock blocks until the lot is free, the timeout elapses (ErrLotBusy) or ctx is done.
// The returned unlock function is safe to call more than once.
func (l *LotLocker) Lock(ctx context.Context, lotID string) (func(), error) {
	entry := l.acquireEntry(lotID)

	timer := l.clock.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.sem
				l.releaseEntry(lotID, entry)
			})
		}, nil
	case <-ctx.Done():
		l.releaseEntry(lotID, entry)
		return nil, ctx.Err()
	case <-timer.Chan():
		l.releaseEntry(lotID, entry)
		return nil, fmt.Errorf("lock lot %s after %s: %w", lotID, l.timeout, biddingerrors.ErrLotBusy)
	}
}

func (l *LotLocker) acquireEntry(lotID string) *lotLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[lotID]
	if !ok {
		entry = &lotLock{sem: make(chan struct{}, 1)}
		l.locks[lotID] = entry
	}
	entry.refs++
	return entry
}

func (l *LotLocker) releaseEntry(lotID string, entry *lotLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, lotID)
	}
}

// size returns the number of lots currently tracked
func (l *LotLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
