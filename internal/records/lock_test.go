package records

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(testContext *testing.T) {
	keyed := NewKeyedMutex()

	const goroutines = 32
	counter := 0
	var waitGroup sync.WaitGroup
	waitGroup.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer waitGroup.Done()
			keyed.Lock("record-1")
			defer keyed.Unlock("record-1")
			current := counter
			counter = current + 1
		}()
	}
	waitGroup.Wait()

	if counter != goroutines {
		testContext.Fatalf("expected %d increments, got %d", goroutines, counter)
	}
}

func TestKeyedMutexKeepsDistinctKeysIndependent(testContext *testing.T) {
	keyed := NewKeyedMutex()
	keyed.Lock("record-1")
	defer keyed.Unlock("record-1")

	acquired := make(chan struct{})
	go func() {
		keyed.Lock("record-2")
		keyed.Unlock("record-2")
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		testContext.Fatalf("lock on a distinct key should not block")
	}
}

func TestKeyedMutexDiscardsIdleEntries(testContext *testing.T) {
	keyed := NewKeyedMutex()
	keyed.Lock("record-1")
	keyed.Unlock("record-1")

	keyed.mu.Lock()
	remaining := len(keyed.locks)
	keyed.mu.Unlock()
	if remaining != 0 {
		testContext.Fatalf("expected idle entries to be discarded, %d remain", remaining)
	}
}
