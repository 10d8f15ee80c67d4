package kmutex

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSameKeyNeverOverlaps(t *testing.T) {
	k := New()
	var inside int
	var maxInside int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.RunExclusive("k", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder for the same key, saw %d", maxInside)
	}
}

func TestDifferentKeysOverlap(t *testing.T) {
	k := New()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = k.RunExclusive("k1", func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	done := make(chan struct{})
	go func() {
		_ = k.RunExclusive("k2", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("k2 blocked behind k1")
	}
	close(release)
}

func TestReleaseOnError(t *testing.T) {
	k := New()
	boom := errors.New("boom")
	if err := k.RunExclusive("k", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = k.RunExclusive("k", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key stayed locked after a failing fn")
	}
}

func TestEntriesReclaimed(t *testing.T) {
	k := New()
	for i := 0; i < 10; i++ {
		_ = k.RunExclusive("k", func() error { return nil })
	}
	k.mu.Lock()
	n := len(k.entries)
	k.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected entries map to be empty, have %d", n)
	}
}
