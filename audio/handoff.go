package audio

import (
	"io"
	"sync"
	"sync/atomic"
)

// DefaultDepth is the default number of chunks a Handoff buffers.
const DefaultDepth = 8

// Handoff passes sample chunks from one producer goroutine to one consumer.
//
// Push never blocks: when the queue is full the oldest chunk is dropped, so
// a stalled consumer sees the most recent audio once it catches up.
type Handoff struct {
	ch chan []float32

	closed  atomic.Bool
	mu      sync.Mutex
	err     error
	dropped atomic.Uint64
}

// NewHandoff creates a handoff buffering up to depth chunks.
// A depth below 1 selects DefaultDepth.
func NewHandoff(depth int) *Handoff {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &Handoff{ch: make(chan []float32, depth)}
}

// Push queues a chunk. It is ignored after Close.
func (h *Handoff) Push(chunk []float32) {
	if h.closed.Load() || len(chunk) == 0 {
		return
	}
	for {
		select {
		case h.ch <- chunk:
			return
		default:
		}
		select {
		case <-h.ch:
			h.dropped.Add(1)
		default:
		}
	}
}

// CloseWithError marks the stream as ended. Chunks already queued can still
// be drained. A nil err is reported as io.EOF.
func (h *Handoff) CloseWithError(err error) {
	if err == nil {
		err = io.EOF
	}
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.closed.Store(true)
}

// Close is CloseWithError(nil).
func (h *Handoff) Close() { h.CloseWithError(nil) }

// Drain returns every queued chunk without blocking. Once the stream is
// closed and the queue is empty it returns the close error.
func (h *Handoff) Drain() ([][]float32, error) {
	// Read closed first: the producer closes after its last push.
	closed := h.closed.Load()
	var chunks [][]float32
	for {
		select {
		case c := <-h.ch:
			chunks = append(chunks, c)
			continue
		default:
		}
		break
	}
	if len(chunks) == 0 && closed {
		h.mu.Lock()
		defer h.mu.Unlock()
		return nil, h.err
	}
	return chunks, nil
}

// Dropped returns the number of chunks discarded because the consumer fell
// behind.
func (h *Handoff) Dropped() uint64 { return h.dropped.Load() }
