// Package progress buffers worker progress messages so callers that did not
// start an invocation (IPC clients, the CLI in remote mode) can follow it.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Kind mirrors the protocol message kind an event was built from.
type Kind string

const (
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
)

// Event is one forwarded worker message.
type Event struct {
	Sequence     uint64          `json:"seq"`
	InvocationID string          `json:"invocation_id"`
	Timestamp    time.Time       `json:"ts"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

const (
	defaultCapacity = 4096
	closedCapacity  = 1024
)

// Hub stores recent events and wakes waiters when new events arrive or an
// invocation finishes.
type Hub struct {
	mu          sync.Mutex
	cond        *sync.Cond
	capacity    int
	buffer      []Event
	nextSeq     uint64
	closed      map[string]struct{}
	closedOrder []string
	// lastEvicted is the newest sequence pushed out of buffer; evicted holds
	// the same per invocation.
	lastEvicted uint64
	evicted     map[string]uint64
}

// NewHub constructs a bounded in-memory buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	h := &Hub{
		capacity: capacity,
		closed:   make(map[string]struct{}),
		evicted:  make(map[string]uint64),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends an event and assigns its sequence number.
func (h *Hub) Publish(evt Event) Event {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		oldest := h.buffer[0]
		h.lastEvicted = oldest.Sequence
		if oldest.InvocationID != "" {
			h.evicted[oldest.InvocationID] = oldest.Sequence
		}
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	return evt
}

// Close marks an invocation's stream as finished. Waiting fetchers for that
// invocation return once they have drained its events.
func (h *Hub) Close(invocationID string) {
	if h == nil || invocationID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.closed[invocationID]; !ok {
		h.closed[invocationID] = struct{}{}
		h.closedOrder = append(h.closedOrder, invocationID)
		if len(h.closedOrder) > closedCapacity {
			delete(h.closed, h.closedOrder[0])
			delete(h.evicted, h.closedOrder[0])
			h.closedOrder = h.closedOrder[1:]
		}
	}
	h.cond.Broadcast()
}

// Batch is the result of a Fetch.
type Batch struct {
	Events []Event `json:"events"`
	// Next is the cursor to pass as since on the following call.
	Next uint64 `json:"next"`
	// Done is set once the invocation is closed and every buffered event
	// for it has been returned.
	Done bool `json:"done"`
	// Dropped reports that events after since were evicted before this
	// fetch, so the caller has a gap.
	Dropped bool `json:"dropped,omitempty"`
}

// Fetch returns events with sequence greater than since, optionally limited to
// one invocation. When wait is true, Fetch blocks until at least one event is
// available, the invocation is closed, or the context ends.
func (h *Hub) Fetch(ctx context.Context, invocationID string, since uint64, limit int, wait bool) (Batch, error) {
	if h == nil {
		return Batch{Next: since}, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		batch := h.snapshotLocked(invocationID, since, limit)
		if len(batch.Events) > 0 || batch.Done || !wait {
			return batch, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return batch, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return h.snapshotLocked(invocationID, since, limit), err
		}
	}
}

func (h *Hub) snapshotLocked(invocationID string, since uint64, limit int) Batch {
	batch := Batch{Next: since}
	if invocationID == "" {
		batch.Dropped = since < h.lastEvicted
	} else {
		batch.Dropped = since < h.evicted[invocationID]
	}
	truncated := false
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		if invocationID != "" && evt.InvocationID != invocationID {
			continue
		}
		if len(batch.Events) == limit {
			truncated = true
			break
		}
		batch.Events = append(batch.Events, evt)
		batch.Next = evt.Sequence
	}
	if !truncated && h.nextSeq > batch.Next {
		batch.Next = h.nextSeq
	}
	if invocationID != "" && !truncated {
		_, batch.Done = h.closed[invocationID]
	}
	return batch
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
