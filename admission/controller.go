// Package admission gates requests against a ceiling on in-flight tasks.
//
// There is no queue: a request is either admitted now or rejected. Every
// admission hands back a Ticket whose Release must run on every exit path,
// which callers get by deferring it right after Admit succeeds.
package admission

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"sdgateway/core"
)

// ErrClosed is returned by Admit once the controller is draining for shutdown.
var ErrClosed = errors.New("admission: controller is closed")

// ErrWaitTimeout is returned when Wait times out before all tickets are released.
var ErrWaitTimeout = errors.New("admission: tasks did not finish in time")

// Controller tracks in-flight tasks against a ceiling.
//
//	ctrl := admission.NewController(cfg.MaxTasks)
//
//	ticket, err := ctrl.Admit()
//	if errors.Is(err, core.ErrSaturated) {
//	    return busyMessage()
//	}
//	defer ticket.Release()
type Controller struct {
	ceiling  int64
	active   atomic.Int64
	admitted atomic.Int64
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewController returns a Controller. A ceiling of zero or less disables
// the limit.
func NewController(ceiling int) *Controller {
	return &Controller{ceiling: int64(ceiling)}
}

// Ticket is one admitted task.
type Ticket struct {
	// Ahead is the number of tasks that were already in flight when this
	// one was admitted.
	Ahead int64

	// Seq counts admissions since start and is never decremented. Backend
	// selection takes it modulo the pool size.
	Seq int64

	ctrl *Controller
	once sync.Once
}

// Release returns the slot. It is safe to call more than once; only the
// first call counts.
func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.ctrl.active.Add(-1)
		t.ctrl.wg.Done()
	})
}

// Admit takes a slot or returns core.ErrSaturated without side effects.
// The compare-and-swap loop keeps concurrent admissions from overshooting
// the ceiling.
func (c *Controller) Admit() (*Ticket, error) {
	return c.admit(func(cur int64) bool {
		return c.ceiling <= 0 || cur < c.ceiling
	}, core.ErrSaturated)
}

// AdmitExclusive takes a slot only when nothing else is in flight. It is
// used for operations that reconfigure a backend globally.
func (c *Controller) AdmitExclusive() (*Ticket, error) {
	return c.admit(func(cur int64) bool { return cur == 0 }, core.ErrBusy)
}

func (c *Controller) admit(open func(int64) bool, rejected error) (*Ticket, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	for {
		cur := c.active.Load()
		if !open(cur) {
			return nil, rejected
		}
		if c.active.CompareAndSwap(cur, cur+1) {
			c.wg.Add(1)
			seq := c.admitted.Add(1) - 1
			return &Ticket{Ahead: cur, Seq: seq, ctrl: c}, nil
		}
	}
}

// Active returns the number of tasks in flight.
func (c *Controller) Active() int64 {
	return c.active.Load()
}

// Admitted returns the number of admissions since start.
func (c *Controller) Admitted() int64 {
	return c.admitted.Load()
}

// Saturated reports whether Admit would currently reject.
func (c *Controller) Saturated() bool {
	return c.ceiling > 0 && c.active.Load() >= c.ceiling
}

// Ceiling returns the configured limit, zero or less meaning unlimited.
func (c *Controller) Ceiling() int64 {
	return c.ceiling
}

// Close stops new admissions. Tasks in flight keep running.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Wait blocks until every admitted ticket is released or the timeout passes.
func (c *Controller) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}
