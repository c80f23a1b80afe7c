package bridge

import (
	"slices"
	"time"
)

// Callback receives the backend's reply to a prompt, or the reason it
// was not delivered. It runs on the goroutine that completed the
// delivery.
type Callback func(response string, err error)

type entry struct {
	id       string
	session  string
	prompt   string
	cb       Callback
	queuedAt time.Time
}

// queue is a bounded FIFO that drops its oldest entry when full. It is
// not safe for concurrent use; the Bridge guards it with its mutex.
type queue struct {
	items []entry
	limit int
	// inflight is the id of the entry a drain is delivering. It stays
	// queued until the backend answers but is never evicted.
	inflight string
}

func newQueue(limit int) *queue {
	return &queue{items: make([]entry, 0, limit), limit: limit}
}

// push appends e, evicting the oldest entry that is not being
// delivered if the queue is full. When the only entry is in flight, e
// itself is dropped and returned as evicted.
func (q *queue) push(e entry) (evicted entry, ok bool) {
	if len(q.items) >= q.limit {
		i := slices.IndexFunc(q.items, func(x entry) bool { return x.id != q.inflight })
		if i < 0 {
			return e, true
		}
		evicted, ok = q.items[i], true
		q.items = slices.Delete(q.items, i, i+1)
	}
	q.items = append(q.items, e)
	return evicted, ok
}

// markInflight records the entry a drain is delivering. An empty id
// clears it.
func (q *queue) markInflight(id string) { q.inflight = id }

func (q *queue) front() (entry, bool) {
	if len(q.items) == 0 {
		return entry{}, false
	}
	return q.items[0], true
}

// removeID removes the entry with id. It reports false when the entry
// is already gone.
func (q *queue) removeID(id string) bool {
	i := slices.IndexFunc(q.items, func(e entry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

func (q *queue) len() int { return len(q.items) }

func (q *queue) snapshot() []entry { return slices.Clone(q.items) }

func (q *queue) prompts() []string {
	out := make([]string, len(q.items))
	for i, e := range q.items {
		out[i] = e.prompt
	}
	return out
}
