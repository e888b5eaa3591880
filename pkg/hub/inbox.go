package hub

import (
	"sync"

	"github.com/eapache/queue"
)

// Inbox buffers inbound messages until a game loop drains them. Its Push
// method can be used directly as a Handler.
type Inbox struct {
	mu      sync.Mutex
	q       *queue.Queue
	limit   int
	dropped uint64
}

// NewInbox returns an Inbox holding at most limit messages; when full the
// oldest message is discarded. A limit of 0 means unbounded.
func NewInbox(limit int) *Inbox {
	return &Inbox{q: queue.New(), limit: limit}
}

func (in *Inbox) Push(msg Inbound) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.limit > 0 && in.q.Length() >= in.limit {
		in.q.Remove()
		in.dropped++
	}
	in.q.Add(msg)
}

// Drain removes and returns every pending message in arrival order.
func (in *Inbox) Drain() []Inbound {
	in.mu.Lock()
	defer in.mu.Unlock()

	n := in.q.Length()
	if n == 0 {
		return nil
	}
	msgs := make([]Inbound, 0, n)
	for in.q.Length() > 0 {
		msgs = append(msgs, in.q.Remove().(Inbound))
	}
	return msgs
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.q.Length()
}

// Dropped returns how many messages were discarded because the inbox was full.
func (in *Inbox) Dropped() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.dropped
}
