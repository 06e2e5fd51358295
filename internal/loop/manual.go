package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Loop driven entirely by the caller. Nothing runs until Flush,
// Advance or Frame is called, which makes timer- and frame-dependent
// behaviour reproducible in tests. Post is safe from any goroutine; the
// driving methods must be called from a single goroutine.
type Manual struct {
	mu        sync.Mutex
	now       time.Time
	tasks     []func()
	timers    []*manualTimer
	seq       uint64
	frames    []frameReq
	current   []frameReq
	nextFrame FrameID
}

type manualTimer struct {
	m       *Manual
	seq     uint64
	when    time.Time
	period  time.Duration
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, x := range t.m.timers {
		if x == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			break
		}
	}
	return true
}

// NewManual creates a Manual loop whose clock starts at start, or at a fixed
// epoch when start is zero.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Manual{now: start}
}

// Post implements Loop.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
}

// Now implements Loop.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc implements Loop.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.schedule(d, 0, fn)
}

// Every implements Loop.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Nanosecond
	}
	return m.schedule(d, d, fn)
}

func (m *Manual) schedule(d, period time.Duration, fn func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, seq: m.seq, when: m.now.Add(d), period: period, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// RequestFrame implements Loop.
func (m *Manual) RequestFrame(fn func(time.Time)) FrameID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFrame++
	m.frames = append(m.frames, frameReq{id: m.nextFrame, fn: fn})
	return m.nextFrame
}

// CancelFrame implements Loop.
func (m *Manual) CancelFrame(id FrameID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.frames {
		if f.id == id {
			m.frames = append(m.frames[:i], m.frames[i+1:]...)
			return
		}
	}
	for i := range m.current {
		if m.current[i].id == id {
			m.current[i].fn = nil
			return
		}
	}
}

// Flush runs queued tasks, including tasks they post, until the queue is
// empty. It returns the number of tasks run.
func (m *Manual) Flush() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()

		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in order. Queued
// tasks are flushed before the first timer and after every timer callback.
func (m *Manual) Advance(d time.Duration) {
	m.Flush()

	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDueLocked(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		if t.when.After(m.now) {
			m.now = t.when
		}
		if t.period > 0 {
			t.when = t.when.Add(t.period)
		} else {
			t.stopped = true
			m.removeTimerLocked(t)
		}
		fn := t.fn
		m.mu.Unlock()

		fn()
		m.Flush()
	}

	m.Flush()
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	if m.timers[0].when.After(target) {
		return nil
	}
	return m.timers[0]
}

func (m *Manual) removeTimerLocked(t *manualTimer) {
	for i, x := range m.timers {
		if x == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Frame delivers one frame to every callback requested so far and then
// flushes tasks. It returns the number of callbacks run.
func (m *Manual) Frame() int {
	m.Flush()

	m.mu.Lock()
	m.current = m.frames
	m.frames = nil
	now := m.now
	count := len(m.current)
	m.mu.Unlock()

	ran := 0
	for i := 0; i < count; i++ {
		m.mu.Lock()
		fn := m.current[i].fn
		m.mu.Unlock()
		if fn != nil {
			fn(now)
			ran++
		}
	}

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	m.Flush()
	return ran
}

// Step advances the clock by d and then delivers a frame, approximating a
// display refresh.
func (m *Manual) Step(d time.Duration) {
	m.Advance(d)
	m.Frame()
}

// PendingTasks returns the number of queued tasks.
func (m *Manual) PendingTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// PendingTimers returns the number of active timers.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// PendingFrames returns the number of frame callbacks waiting for the next
// frame.
func (m *Manual) PendingFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Await flushes queued tasks until cond holds or timeout elapses. It is for
// tests whose tasks are posted by background goroutines such as network
// readers.
func (m *Manual) Await(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		m.Flush()
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}
