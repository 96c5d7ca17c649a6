package ledger

import (
	"context"
	"sync"
)

// accountLocks hands out one mutex per account. Entries are reference
// counted and dropped once nobody holds or waits on them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	sem  chan struct{}
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*accountLock)}
}

// acquire blocks until the account's lock is held or ctx is done.
func (l *accountLocks) acquire(ctx context.Context, accountID int64) (release func(), err error) {
	l.mu.Lock()
	lk, ok := l.locks[accountID]
	if !ok {
		lk = &accountLock{sem: make(chan struct{}, 1)}
		l.locks[accountID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			l.drop(accountID, lk)
		}, nil
	case <-ctx.Done():
		l.drop(accountID, lk)
		return nil, ctx.Err()
	}
}

func (l *accountLocks) drop(accountID int64, lk *accountLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, accountID)
	}
	l.mu.Unlock()
}

func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
