package batch

import (
	"sync"
	"testing"
)

// TestMigrationTryEnterExclusive verifies the serialization guarantee:
// only the first of many concurrent weak verdicts may enter Draining;
// every other concurrent caller must be rejected.
func TestMigrationTryEnterExclusive(t *testing.T) {
	m := &migration{promptsLeft: 1}

	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex
	start := make(chan struct{})

	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if m.tryEnter(i) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner among concurrent tryEnter calls, got %d", winners)
	}
	if m.state() != Draining {
		t.Fatalf("expected state Draining after a successful tryEnter, got %v", m.state())
	}
}

// TestMigrationStateMachine checks that transitions occur at most once
// each (Normal->Draining, Draining->Switched), and promptsLeft strictly
// decreases on success.
func TestMigrationStateMachine(t *testing.T) {
	m := &migration{promptsLeft: 1}

	if !m.tryEnter(3) {
		t.Fatalf("first tryEnter should succeed")
	}
	if m.tryEnter(4) {
		t.Fatalf("second tryEnter while Draining must fail")
	}
	if m.weakDetectIndexValue() != 3 {
		t.Fatalf("weakDetectIndexValue = %d, want 3 (first winner's index)", m.weakDetectIndexValue())
	}

	m.finishSuccess(1000)
	if m.state() != Switched {
		t.Fatalf("expected Switched after finishSuccess")
	}
	if m.promptsLeft != 0 {
		t.Fatalf("promptsLeft = %d, want 0 after a successful migration", m.promptsLeft)
	}
	if m.tryEnter(5) {
		t.Fatalf("tryEnter must fail forever once promptsLeft is exhausted")
	}
}

// TestMigrationTimeoutKeepsDraining verifies that a link-change timeout
// leaves the state in Draining with promptsLeft unchanged. Draining
// never reverts, so this permanently ends migration attempts for the
// batch rather than falsely reporting a switch that never happened.
func TestMigrationTimeoutKeepsDraining(t *testing.T) {
	m := &migration{promptsLeft: 1}
	m.tryEnter(7)
	m.finishTimeout()

	if m.state() != Draining {
		t.Fatalf("expected state to remain Draining after a timeout, got %v", m.state())
	}
	if m.promptsLeft != 1 {
		t.Fatalf("promptsLeft = %d, want unchanged at 1 after a timeout", m.promptsLeft)
	}
	if m.tryEnter(8) {
		t.Fatalf("tryEnter must not re-enter Draining after a timeout (no reverse, no re-entry)")
	}
}
