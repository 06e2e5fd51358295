// Package loop provides the single-threaded execution model every player
// component runs on. All component state is owned by one goroutine; network
// goroutines hand results back with Post, and periodic work is expressed as
// timers and frame callbacks that fire on that same goroutine.
//
// EventLoop is the real implementation. Manual is a deterministic loop for
// tests that controls time and frame delivery explicitly.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultFrameInterval paces frame callbacks at roughly 60 per second.
const DefaultFrameInterval = time.Second / 60

// ErrStopped is returned by Call when the loop is no longer running.
var ErrStopped = errors.New("loop: stopped")

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from running again and reports whether the
	// timer was still active.
	Stop() bool
}

// FrameID identifies a pending frame callback.
type FrameID uint64

// Loop schedules work onto a single goroutine.
type Loop interface {
	// Post queues fn to run on the loop. It is safe to call from any goroutine.
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
	// RequestFrame schedules fn for the next frame. Callbacks requested while
	// a frame is running are deferred to the following frame.
	RequestFrame(fn func(now time.Time)) FrameID
	CancelFrame(id FrameID)
	Now() time.Time
}

type frameReq struct {
	id FrameID
	fn func(time.Time)
}

// EventLoop runs posted tasks on the goroutine that calls Run.
type EventLoop struct {
	frameInterval time.Duration

	mu         sync.Mutex
	queue      []func()
	wake       chan struct{}
	stopped    bool
	done       chan struct{}
	frames     []frameReq
	current    []frameReq
	nextFrame  FrameID
	frameTimer *time.Timer
	lastFrame  time.Time
}

// Option configures an EventLoop.
type Option func(*EventLoop)

// WithFrameInterval sets the spacing between frame callbacks.
func WithFrameInterval(d time.Duration) Option {
	return func(l *EventLoop) {
		if d > 0 {
			l.frameInterval = d
		}
	}
}

// New creates an EventLoop. It does nothing until Run is called.
func New(opts ...Option) *EventLoop {
	l := &EventLoop{
		frameInterval: DefaultFrameInterval,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes tasks until ctx is cancelled. Tasks still queued at that
// point are dropped.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn()
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *EventLoop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	l.frames = nil
	if l.frameTimer != nil {
		l.frameTimer.Stop()
		l.frameTimer = nil
	}
	close(l.done)
}

// Done is closed once Run has returned.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Post implements Loop.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now implements Loop.
func (l *EventLoop) Now() time.Time {
	return time.Now()
}

type realTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
	fired   bool
}

func (t *realTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	if t.t != nil {
		t.t.Stop()
	}
	return true
}

func (t *realTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

// AfterFunc implements Loop. The callback never runs once Stop has been
// called on the loop goroutine.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) Timer {
	rt := &realTimer{}
	rt.mu.Lock()
	rt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			rt.mu.Lock()
			if rt.stopped {
				rt.mu.Unlock()
				return
			}
			rt.fired = true
			rt.mu.Unlock()
			fn()
		})
	})
	rt.mu.Unlock()
	return rt
}

// Every implements Loop.
func (l *EventLoop) Every(d time.Duration, fn func()) Timer {
	rt := &realTimer{}
	var schedule func()
	schedule = func() {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if rt.stopped {
			return
		}
		rt.t = time.AfterFunc(d, func() {
			l.Post(func() {
				if !rt.active() {
					return
				}
				fn()
				schedule()
			})
		})
	}
	schedule()
	return rt
}

// RequestFrame implements Loop.
func (l *EventLoop) RequestFrame(fn func(time.Time)) FrameID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextFrame++
	id := l.nextFrame
	if l.stopped {
		return id
	}
	l.frames = append(l.frames, frameReq{id: id, fn: fn})
	if l.frameTimer == nil {
		wait := l.frameInterval - time.Since(l.lastFrame)
		if wait < 0 {
			wait = 0
		}
		l.frameTimer = time.AfterFunc(wait, func() { l.Post(l.runFrame) })
	}
	return id
}

// CancelFrame implements Loop.
func (l *EventLoop) CancelFrame(id FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, f := range l.frames {
		if f.id == id {
			l.frames = append(l.frames[:i], l.frames[i+1:]...)
			return
		}
	}
	for i := range l.current {
		if l.current[i].id == id {
			l.current[i].fn = nil
			return
		}
	}
}

func (l *EventLoop) runFrame() {
	l.mu.Lock()
	l.current = l.frames
	l.frames = nil
	l.frameTimer = nil
	now := time.Now()
	l.lastFrame = now
	n := len(l.current)
	l.mu.Unlock()

	for i := 0; i < n; i++ {
		l.mu.Lock()
		fn := l.current[i].fn
		l.mu.Unlock()
		if fn != nil {
			fn(now)
		}
	}

	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()
}
