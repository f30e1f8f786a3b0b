package store

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	defaultRetries   = 3
	defaultBackoff   = 200 * time.Millisecond
	defaultOpTimeout = 10 * time.Second
)

// Op is a deferred write applied by the Writer.
type Op struct {
	Desc  string
	Apply func(ctx context.Context, s Store) error
}

// Writer applies store writes behind the in-memory state. Submit never
// blocks and performs no I/O, so callers may submit while holding their own
// locks; that is what keeps per-ticket writes in mutation order. Ops are
// applied one at a time in FIFO order.
type Writer struct {
	store   Store
	retries int
	backoff time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Op
	busy   bool
	closed bool
	failed int
	done   chan struct{}
}

// NewWriter starts a write-behind persister for s.
func NewWriter(s Store) *Writer {
	w := &Writer{
		store:   s,
		retries: defaultRetries,
		backoff: defaultBackoff,
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Submit queues op. Ops submitted after Close are dropped.
func (w *Writer) Submit(op Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		log.Printf("store: writer closed, dropping %s", op.Desc)
		return
	}
	w.queue = append(w.queue, op)
	w.cond.Broadcast()
}

// Flush blocks until every op submitted before the call has been applied
// or has exhausted its retries.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) > 0 || w.busy {
		w.cond.Wait()
	}
}

// Pending returns the number of ops not yet applied.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.queue)
	if w.busy {
		n++
	}
	return n
}

// Failed returns the number of ops dropped after exhausting retries.
func (w *Writer) Failed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Close drains the queue and stops the writer.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		op := w.queue[0]
		w.queue[0] = Op{}
		w.queue = w.queue[1:]
		w.busy = true
		w.mu.Unlock()

		ok := w.apply(op)

		w.mu.Lock()
		w.busy = false
		if !ok {
			w.failed++
		}
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *Writer) apply(op Op) bool {
	backoff := w.backoff
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
		err = op.Apply(ctx, w.store)
		cancel()
		if err == nil {
			return true
		}
	}
	log.Printf("store: write-behind %s failed after %d attempts: %v", op.Desc, w.retries+1, err)
	return false
}
