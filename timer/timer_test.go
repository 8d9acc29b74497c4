// timer/timer_test.go
package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_ScheduleOneShot(t *testing.T) {
	manager := NewManager()
	defer manager.Stop()

	fired := make(chan struct{})
	manager.Schedule(10*time.Millisecond, 0, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("One-shot task never fired")
	}
}

func TestManager_ScheduleRepeating(t *testing.T) {
	manager := NewManager()
	defer manager.Stop()

	var count int32
	id := manager.Schedule(10*time.Millisecond, 30*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&count) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	manager.Cancel(id)

	if n := atomic.LoadInt32(&count); n < 3 {
		t.Errorf("Expected at least 3 runs of a repeating task, got %d", n)
	}
}

func TestManager_Cancel(t *testing.T) {
	manager := NewManager()
	defer manager.Stop()

	var fired int32
	id := manager.Schedule(150*time.Millisecond, 0, func() {
		atomic.AddInt32(&fired, 1)
	})
	manager.Cancel(id)

	time.Sleep(300 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("Cancelled task must not fire")
	}

	// Cancelling an unknown or already-fired id is a no-op.
	manager.Cancel(id)
	manager.Cancel(99999)
}

func TestManager_StopHaltsPendingTasks(t *testing.T) {
	manager := NewManager()

	var fired int32
	manager.Schedule(100*time.Millisecond, 0, func() {
		atomic.AddInt32(&fired, 1)
	})
	manager.Stop()

	time.Sleep(300 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("Task fired after Stop")
	}

	manager.Stop() // idempotent
}

func TestManager_IdsAreUnique(t *testing.T) {
	manager := NewManager()
	defer manager.Stop()

	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		id := manager.Schedule(time.Hour, 0, func() {})
		if seen[id] {
			t.Fatalf("Duplicate task id %d", id)
		}
		seen[id] = true
	}
}
