package mining

import "sync"

// userLocks serializes claim and stop for the same user. Two concurrent
// claims reading the same checkpoint counter would both reserve the same
// delta, so every mutation of a user's session state runs under that
// user's lock. Settlement calls happen after the lock is released.
//
// Entries are reference-counted and removed when the last holder releases,
// so the map does not retain an entry for every user id ever requested.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

// lock blocks until the user's lock is held and returns the release
// function. Calling the release more than once is safe.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	e, ok := l.locks[userID]
	if !ok {
		e = &userLock{}
		l.locks[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, userID)
			}
			l.mu.Unlock()
		})
	}
}
