// Package handler provides the single-threaded execution context each ACL
// component runs on. State owned by a component is mutated only from its
// handler; cross-component calls are posted as tasks instead of taking locks.
package handler

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrStopped is returned when tasks are posted to a stopped handler.
var ErrStopped = errors.New("handler stopped")

// Handler is a serial task executor backed by one goroutine. The queue grows
// on demand, so a running task may post to its own handler without blocking.
type Handler struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

func New(name string) *Handler {
	h := &Handler{
		name: name,
		done: make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.loop()
	return h
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) loop() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.stopped {
			h.cond.Wait()
		}
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return
		}
		f := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		if len(h.queue) == 0 {
			h.queue = nil
		}
		h.mu.Unlock()
		f()
	}
}

// Post submits f for asynchronous execution in submission order. Never
// blocks.
func (h *Handler) Post(f func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return errors.Wrap(ErrStopped, h.name)
	}
	h.queue = append(h.queue, f)
	h.cond.Signal()
	return nil
}

// Call runs f on the handler and blocks the caller until it returns.
// Must not be invoked from the handler's own goroutine.
func (h *Handler) Call(f func()) error {
	ch := make(chan struct{})
	err := h.Post(func() {
		f()
		close(ch)
	})
	if err != nil {
		return err
	}
	<-ch
	return nil
}

// Stop drains queued tasks and shuts the goroutine down. Pending Posts
// complete; later ones fail with ErrStopped.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.stopped = true
	h.cond.Signal()
	h.mu.Unlock()
	<-h.done
}

// Alarm fires a task on its owning handler after a delay. A fired or
// cancelled alarm can be scheduled again.
type Alarm struct {
	h *Handler

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func NewAlarm(h *Handler) *Alarm {
	return &Alarm{h: h}
}

// Schedule arms the alarm, replacing any previous schedule.
func (a *Alarm) Schedule(d time.Duration, f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(d, func() {
		a.mu.Lock()
		live := gen == a.gen
		a.mu.Unlock()
		if !live {
			return
		}
		_ = a.h.Post(f)
	})
}

// Cancel stops a pending alarm; a task already posted still runs.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
