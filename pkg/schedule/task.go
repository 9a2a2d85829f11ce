package schedule

import (
	"sync"
	"time"
)

// Task is a resettable single-shot delayed action. At most one instance is
// armed at a time; arming again cancels the previous instance.
//
// Every arm gets a new generation. The fire callback receives it and must
// call Claim before acting, so a callback that lost a race with Cancel or a
// re-arm becomes a no-op. Callers that serialize their own state under a lock
// should hold that lock around Arm, Cancel and Claim.
type Task struct {
	name  string
	clock Clock
	delay time.Duration

	mu       sync.Mutex
	timer    Timer
	gen      uint64
	armed    bool
	deadline time.Time
}

func NewTask(name string, clock Clock, delay time.Duration) *Task {
	if clock == nil {
		clock = RealClock()
	}
	return &Task{name: name, clock: clock, delay: delay}
}

func (t *Task) Name() string { return t.name }

func (t *Task) Delay() time.Duration { return t.delay }

// Arm cancels any pending instance and schedules fire after the task delay.
func (t *Task) Arm(fire func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.armed = true
	t.deadline = t.clock.Now().Add(t.delay)
	t.timer = t.clock.AfterFunc(t.delay, func() { fire(gen) })
	return gen
}

// Cancel disarms the task. It reports whether an instance was pending.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.armed
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.armed = false
	t.deadline = time.Time{}
	return was
}

// Claim disarms the task if gen is the live instance and reports whether the
// caller may act on the expiry.
func (t *Task) Claim(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed || gen != t.gen {
		return false
	}
	t.armed = false
	t.timer = nil
	t.deadline = time.Time{}
	return true
}

func (t *Task) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Deadline returns the scheduled fire time of the armed instance.
func (t *Task) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.armed
}
