package workflow

import (
	"io"
	"sync"
	"testing"
	"time"

	"promptplay/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger("test", logging.ERROR, io.Discard)
}

// waitForStatus polls until the tracker reaches want or the deadline passes.
func waitForStatus(t *testing.T, tr *Tracker, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tr.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tracker never reached %v, stuck at %v", want, tr.Status())
}

func TestTrackerLifecycle(t *testing.T) {
	t.Run("start moves to loading", func(t *testing.T) {
		tr := NewTracker("save input schema", testLogger())
		defer tr.Close()

		if tr.Status() != Idle {
			t.Fatalf("new tracker should be idle, got %v", tr.Status())
		}
		tr.Start("wf-1")
		if tr.Status() != Loading {
			t.Errorf("expected loading after start, got %v", tr.Status())
		}
		if tr.WorkflowID() != "wf-1" {
			t.Errorf("expected bound id wf-1, got %s", tr.WorkflowID())
		}
	})

	t.Run("completed notification yields success then auto-resets", func(t *testing.T) {
		tr := NewTracker("save input schema", testLogger(), WithResetDelay(20*time.Millisecond))
		defer tr.Close()

		tr.Start("wf-2")
		tr.Complete("wf-2")
		if tr.Status() != Succeeded {
			t.Errorf("expected success, got %v", tr.Status())
		}
		waitForStatus(t, tr, Idle)
	})

	t.Run("failed notification yields failed then auto-resets", func(t *testing.T) {
		tr := NewTracker("save system prompt", testLogger(), WithResetDelay(20*time.Millisecond))
		defer tr.Close()

		tr.Start("wf-3")
		tr.Fail("wf-3")
		if tr.Status() != Failed {
			t.Errorf("expected failed, got %v", tr.Status())
		}
		waitForStatus(t, tr, Idle)
	})
}

func TestTrackerDiscardsStaleNotifications(t *testing.T) {
	t.Run("wrong workflow id is ignored", func(t *testing.T) {
		tr := NewTracker("save input schema", testLogger())
		defer tr.Close()

		tr.Start("wf-new")
		tr.Complete("wf-old")
		if tr.Status() != Loading {
			t.Errorf("stale id must not transition the tracker, got %v", tr.Status())
		}
	})

	t.Run("duplicate terminal notification is ignored", func(t *testing.T) {
		tr := NewTracker("save input schema", testLogger(), WithResetDelay(time.Hour))
		defer tr.Close()

		tr.Start("wf-dup")
		tr.Complete("wf-dup")
		tr.Fail("wf-dup") // late contradictory duplicate
		if tr.Status() != Succeeded {
			t.Errorf("duplicate must not override terminal state, got %v", tr.Status())
		}
	})

	t.Run("old generation reset cannot fire into a new flight", func(t *testing.T) {
		tr := NewTracker("save input schema", testLogger(), WithResetDelay(20*time.Millisecond))
		defer tr.Close()

		tr.Start("wf-a")
		tr.Complete("wf-a")
		// Re-start before the old reset timer fires
		tr.Start("wf-b")
		time.Sleep(60 * time.Millisecond)
		if tr.Status() != Loading {
			t.Errorf("old flight's reset leaked into new flight, got %v", tr.Status())
		}
	})
}

func TestTrackerFailNow(t *testing.T) {
	tr := NewTracker("save system prompt", testLogger(), WithResetDelay(20*time.Millisecond))
	defer tr.Close()

	// FailNow before any flight is a no-op
	tr.FailNow()
	if tr.Status() != Idle {
		t.Errorf("FailNow on idle tracker must be a no-op, got %v", tr.Status())
	}

	tr.Start("wf-sync-fail")
	tr.FailNow()
	if tr.Status() != Failed {
		t.Errorf("expected failed after FailNow, got %v", tr.Status())
	}
	waitForStatus(t, tr, Idle)
}

func TestTrackerOnChange(t *testing.T) {
	var mu sync.Mutex
	var seen []Status

	tr := NewTracker("save input schema", testLogger(),
		WithResetDelay(20*time.Millisecond),
		WithOnChange(func(c Change) {
			mu.Lock()
			seen = append(seen, c.Status)
			mu.Unlock()
		}))
	defer tr.Close()

	tr.Start("wf-cb")
	tr.Complete("wf-cb")
	waitForStatus(t, tr, Idle)

	mu.Lock()
	defer mu.Unlock()
	want := []Status{Loading, Succeeded, Idle}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], seen[i])
		}
	}
}

func TestStatusWireStrings(t *testing.T) {
	cases := map[Status]string{
		Idle:      "idle",
		Loading:   "loading",
		Succeeded: "success",
		Failed:    "failed",
	}
	for status, want := range cases {
		if status.String() != want {
			t.Errorf("String() = %q, want %q", status.String(), want)
		}
		b, err := status.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON failed: %v", err)
		}
		if string(b) != `"`+want+`"` {
			t.Errorf("MarshalJSON = %s, want %q", b, want)
		}
	}
}
