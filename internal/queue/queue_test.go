package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testPayload struct {
	Symbol string `json:"symbol"`
}

func newTestQueue(t *testing.T, maxAttempts int) *Queue {
	t.Helper()
	q, err := New(t.TempDir(), maxAttempts, "test-machine:99999999")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := newTestQueue(t, 3)

	in, err := q.Enqueue(KindListingEvent, testPayload{Symbol: "SAFEUSDT_UMCBL"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	out, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if out.ID != in.ID || out.Kind != KindListingEvent {
		t.Fatalf("got %+v, want id=%s kind=%s", out, in.ID, KindListingEvent)
	}
	if err := q.Complete(out); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := q.DequeueNext(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("got %v, want ErrEmpty", err)
	}
}

func TestDequeueHonorsPriorityThenAge(t *testing.T) {
	q := newTestQueue(t, 3)

	// Older low-priority first, then emergency, then another listing event.
	if _, err := q.Enqueue(KindHousekeeping, testPayload{Symbol: "old"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	first, err := q.Enqueue(KindListingEvent, testPayload{Symbol: "first"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := q.Enqueue(KindListingEvent, testPayload{Symbol: "second"})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	urgent, err := q.Enqueue(KindEmergencyStop, testPayload{Symbol: "urgent"})
	if err != nil {
		t.Fatal(err)
	}

	wantOrder := []string{urgent.ID, first.ID, second.ID}
	for i, want := range wantOrder {
		msg, err := q.DequeueNext()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if msg.ID != want {
			t.Fatalf("dequeue %d: got %s, want %s", i, msg.ID, want)
		}
		q.Complete(msg)
	}
	// Housekeeping comes last.
	last, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("final dequeue: %v", err)
	}
	if last.Kind != KindHousekeeping {
		t.Fatalf("final kind = %s, want housekeeping", last.Kind)
	}
}

func TestFailReenqueuesBelowBudget(t *testing.T) {
	q := newTestQueue(t, 2)

	q.Enqueue(KindListingEvent, testPayload{Symbol: "SAFE"})

	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}
	if err := q.Fail(msg, fmt.Errorf("venue timeout")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	retried, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue after retry: %v", err)
	}
	if retried.Attempts != 1 || retried.LastError != "venue timeout" {
		t.Fatalf("got attempts=%d lastError=%q", retried.Attempts, retried.LastError)
	}

	// Second failure exhausts the budget.
	if err := q.Fail(retried, fmt.Errorf("venue timeout")); err != nil {
		t.Fatalf("second Fail: %v", err)
	}
	if _, err := q.DequeueNext(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("got %v, want ErrEmpty after permanent failure", err)
	}
	if got := q.GetMetrics().Failed; got != 1 {
		t.Fatalf("failed counter = %d, want 1", got)
	}
}

func TestRecoverReclaimsOrphanedMessages(t *testing.T) {
	dir := t.TempDir()
	q, err := New(dir, 3, Owner())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	q.Enqueue(KindListingEvent, testPayload{Symbol: "SAFE"})
	msg, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}

	// Simulate a crash: rewrite the lock to point at a dead local PID.
	lock := filepath.Join(dir, "processing", msg.filename+".lock")
	machine, _, _ := splitOwner(Owner())
	if err := os.WriteFile(lock, []byte(machine+":999999999"), 0o644); err != nil {
		t.Fatalf("rewrite lock: %v", err)
	}

	q2, err := New(dir, 3, Owner())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	n, err := q2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d, want 1", n)
	}

	back, err := q2.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue recovered: %v", err)
	}
	if back.ID != msg.ID {
		t.Fatalf("recovered wrong message: %s", back.ID)
	}
}

func TestRecoverLeavesLiveOwnersAlone(t *testing.T) {
	dir := t.TempDir()
	q, err := New(dir, 3, Owner())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q.Enqueue(KindListingEvent, testPayload{Symbol: "SAFE"})
	if _, err := q.DequeueNext(); err != nil {
		t.Fatalf("DequeueNext: %v", err)
	}

	// Lock is held by this live process; a sweep must not steal it.
	n, err := q.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 0 {
		t.Fatalf("recovered %d, want 0", n)
	}
}

func TestDepthCountsPendingOnly(t *testing.T) {
	q := newTestQueue(t, 3)
	q.Enqueue(KindListingEvent, testPayload{Symbol: "A"})
	q.Enqueue(KindListingEvent, testPayload{Symbol: "B"})
	if _, err := q.DequeueNext(); err != nil {
		t.Fatal(err)
	}

	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}
}

func splitOwner(owner string) (machine, pid string, ok bool) {
	for i := len(owner) - 1; i >= 0; i-- {
		if owner[i] == ':' {
			return owner[:i], owner[i+1:], true
		}
	}
	return "", "", false
}
