package relay

import (
	"sync"

	"github.com/relink-protocol/relink-go/pkg/wire"
)

// sendQueue buffers outbound envelopes while the connection is not usable.
// When full, the oldest heartbeat is evicted first; if none is queued, the
// oldest message of any type goes. Heartbeats are worthless once stale,
// application messages are not.
type sendQueue struct {
	mu       sync.Mutex
	items    []*wire.Envelope
	capacity int
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{capacity: capacity}
}

// Append enqueues an envelope, evicting if the queue is full. It reports
// whether an older envelope was dropped to make room.
func (q *sendQueue) Append(env *wire.Envelope) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		idx := 0
		for i, it := range q.items {
			if it.Type == wire.TypeHeartbeat {
				idx = i
				break
			}
		}
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		evicted = true
	}
	q.items = append(q.items, env)
	return evicted
}

// Drain removes and returns all queued envelopes in order.
func (q *sendQueue) Drain() []*wire.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued envelopes.
func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
