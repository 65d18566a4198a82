package monosocket

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/monosocket/monosocket/errs"
)

// sendQueue is a bounded FIFO of outgoing chunks with one producer side
// (Send callers) and exactly one consumer (the delivery task). The
// consumer parks on notify when the queue is empty.
type sendQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	limit  int
	notify chan struct{}
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{
		q:      queue.New(),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// pushAll enqueues every chunk, or none: when the chunks do not all fit
// under the limit nothing is enqueued and ErrQueueFull is returned.
func (sq *sendQueue) pushAll(chunks [][]byte) error {
	sq.mu.Lock()
	if sq.limit > 0 && sq.q.Length()+len(chunks) > sq.limit {
		sq.mu.Unlock()
		return errs.ErrQueueFull
	}
	for _, c := range chunks {
		sq.q.Add(c)
	}
	sq.mu.Unlock()

	select {
	case sq.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop dequeues the oldest chunk, blocking while the queue is empty.
// It returns false once stopq is closed.
func (sq *sendQueue) pop(stopq <-chan struct{}) ([]byte, bool) {
	for {
		sq.mu.Lock()
		if sq.q.Length() > 0 {
			c := sq.q.Remove().([]byte)
			sq.mu.Unlock()
			return c, true
		}
		sq.mu.Unlock()

		select {
		case <-stopq:
			return nil, false
		case <-sq.notify:
		}
	}
}

func (sq *sendQueue) length() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.q.Length()
}

// drain drops every queued chunk.
func (sq *sendQueue) drain() {
	sq.mu.Lock()
	for sq.q.Length() > 0 {
		sq.q.Remove()
	}
	sq.mu.Unlock()
}
