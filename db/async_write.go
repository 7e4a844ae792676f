package db

import (
	"context"
	"sync"
	"time"
)

// DefaultChannelCapacity is the default buffer size for queued history writes.
const DefaultChannelCapacity = 100

// WriteOperation is one queued write.
type WriteOperation struct {
	Data      interface{}
	Timestamp time.Time
}

// WriteHandler processes a queued write. Errors go to the AsyncWriter's
// error callback, if any.
type WriteHandler func(op WriteOperation) error

// AsyncWriter moves task history writes off the request path: Write never
// blocks, and Stop drains whatever is still buffered.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	onError   func(error)
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	mu        sync.Mutex
}

// NewAsyncWriter creates a writer with the given buffer capacity.
// onError may be nil.
func NewAsyncWriter(handler WriteHandler, capacity int, onError func(error)) *AsyncWriter {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncWriter{
		writeChan: make(chan WriteOperation, capacity),
		handler:   handler,
		onError:   onError,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Subsequent calls are no-ops.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	if err := w.handler(op); err != nil && w.onError != nil {
		w.onError(err)
	}
}

// Write queues data and reports whether it fit in the buffer.
func (w *AsyncWriter) Write(data interface{}) bool {
	select {
	case w.writeChan <- WriteOperation{Data: data, Timestamp: time.Now()}:
		return true
	default:
		return false
	}
}

// Pending returns the number of buffered writes.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Stop cancels the writer and waits up to timeout for the drain to finish.
// It returns false on timeout.
func (w *AsyncWriter) Stop(timeout time.Duration) bool {
	w.cancel()

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return true
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
