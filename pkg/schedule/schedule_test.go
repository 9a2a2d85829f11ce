package schedule

import (
	"testing"
	"time"
)

func TestManualClockFiresInDeadlineOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	var got []string
	clock.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	clock.AfterFunc(1*time.Second, func() { got = append(got, "a") })
	clock.AfterFunc(2*time.Second, func() { got = append(got, "b") })

	clock.Advance(2 * time.Second)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected order after 2s: %v", got)
	}
	clock.Advance(time.Second)
	if len(got) != 3 || got[2] != "c" {
		t.Fatalf("expected c to fire, got %v", got)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.Pending())
	}
}

func TestManualClockStop(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatalf("expected stop to report pending timer")
	}
	clock.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatalf("second stop should report false")
	}
}

func TestTaskRearmReplacesPendingInstance(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	task := NewTask("debounce", clock, 2*time.Second)
	fires := 0
	fire := func(gen uint64) {
		if task.Claim(gen) {
			fires++
		}
	}

	task.Arm(fire)
	clock.Advance(1500 * time.Millisecond)
	task.Arm(fire)
	clock.Advance(1500 * time.Millisecond)
	if fires != 0 {
		t.Fatalf("rearmed task fired early")
	}
	clock.Advance(500 * time.Millisecond)
	if fires != 1 {
		t.Fatalf("expected one fire, got %d", fires)
	}
	if task.Armed() {
		t.Fatalf("task should be disarmed after claim")
	}
}

func TestTaskClaimRejectsStaleGeneration(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	task := NewTask("idle", clock, time.Second)
	stale := task.Arm(func(uint64) {})
	task.Cancel()
	if task.Claim(stale) {
		t.Fatalf("claim after cancel should fail")
	}
	live := task.Arm(func(uint64) {})
	if task.Claim(stale) {
		t.Fatalf("stale generation claimed live instance")
	}
	if !task.Claim(live) {
		t.Fatalf("live generation should claim")
	}
	if task.Claim(live) {
		t.Fatalf("double claim should fail")
	}
}

func TestTaskDeadline(t *testing.T) {
	start := time.Unix(100, 0)
	clock := NewManualClock(start)
	task := NewTask("idle", clock, 5*time.Second)
	if _, ok := task.Deadline(); ok {
		t.Fatalf("unarmed task has no deadline")
	}
	task.Arm(func(uint64) {})
	at, ok := task.Deadline()
	if !ok || !at.Equal(start.Add(5*time.Second)) {
		t.Fatalf("unexpected deadline %v %v", at, ok)
	}
	if !task.Cancel() {
		t.Fatalf("cancel should report armed")
	}
}
