package mining

import (
	"sync"
	"testing"
)

func lockCount(l *userLocks) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func TestUserLocksEvictReleasedEntries(t *testing.T) {
	l := newUserLocks()

	unlock := l.lock("u1")
	if got := lockCount(l); got != 1 {
		t.Fatalf("entries while held = %d, want 1", got)
	}
	unlock()
	unlock() // release is idempotent

	if got := lockCount(l); got != 0 {
		t.Fatalf("entries after release = %d, want 0", got)
	}
}

func TestUserLocksMutualExclusion(t *testing.T) {
	l := newUserLocks()

	counter := 0
	var wg sync.WaitGroup
	const workers = 32
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := l.lock("u1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("counter = %d, want %d", counter, workers)
	}
	if got := lockCount(l); got != 0 {
		t.Fatalf("entries after all released = %d, want 0", got)
	}
}

func TestUserLocksIndependentPerUser(t *testing.T) {
	l := newUserLocks()

	unlockA := l.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := l.lock("b")
		unlockB()
		close(done)
	}()
	<-done // b must not block behind a
	unlockA()

	if got := lockCount(l); got != 0 {
		t.Fatalf("entries = %d, want 0", got)
	}
}
