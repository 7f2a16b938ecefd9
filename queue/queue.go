package queue

import (
	"errors"
	"sync"

	"github.com/mbocsi/gotadek/proto"
)

var ErrEmpty = errors.New("queue is empty")

// DoneEvent reports that every queued occurrence of ID has been processed,
// or with All set, that everything has.
type DoneEvent struct {
	ID  proto.MsgID
	All bool
}

// Queue is a goroutine-safe FIFO of message ids, filled by a connection's
// receive goroutine and drained by the consumer.
type Queue struct {
	mu       sync.Mutex
	ids      []proto.MsgID
	queued   map[proto.MsgID]int
	reported map[proto.MsgID]bool // all-done already fired since the last Put
	allDone  bool

	onNotEmpty func(proto.MsgID)
	onAllDone  func(DoneEvent)
}

func New() *Queue {
	return &Queue{
		queued:   make(map[proto.MsgID]int),
		reported: make(map[proto.MsgID]bool),
	}
}

// OnNotEmpty registers fn to be called with the inserted id whenever the
// queue goes from empty to non-empty. Puts onto a non-empty queue do not
// call it again.
func (q *Queue) OnNotEmpty(fn func(proto.MsgID)) {
	q.mu.Lock()
	q.onNotEmpty = fn
	q.mu.Unlock()
}

func (q *Queue) OnAllDone(fn func(DoneEvent)) {
	q.mu.Lock()
	q.onAllDone = fn
	q.mu.Unlock()
}

func (q *Queue) Put(id proto.MsgID) {
	q.mu.Lock()
	wasEmpty := len(q.ids) == 0
	q.ids = append(q.ids, id)
	q.queued[id]++
	delete(q.reported, id)
	q.allDone = false
	fn := q.onNotEmpty
	q.mu.Unlock()

	if wasEmpty && fn != nil {
		fn(id)
	}
}

// Pop removes the oldest id. It never blocks.
func (q *Queue) Pop() (proto.MsgID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return proto.DefaultMsgID, ErrEmpty
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	if len(q.ids) == 0 {
		q.ids = nil
	}
	if q.queued[id]--; q.queued[id] <= 0 {
		delete(q.queued, id)
	}
	return id, nil
}

// Done marks id as processed. Once no occurrence of id is left in the
// queue, the all-done handler fires, at most once until id is put again.
func (q *Queue) Done(id proto.MsgID) {
	q.mu.Lock()
	fire := q.queued[id] == 0 && !q.reported[id]
	if fire {
		q.reported[id] = true
	}
	fn := q.onAllDone
	q.mu.Unlock()

	if fire && fn != nil {
		fn(DoneEvent{ID: id})
	}
}

// DoneAll marks every id as processed and fires the all-done handler with
// All set, at most once until the next Put.
func (q *Queue) DoneAll() {
	q.mu.Lock()
	fire := !q.allDone
	q.allDone = true
	clear(q.reported)
	fn := q.onAllDone
	q.mu.Unlock()

	if fire && fn != nil {
		fn(DoneEvent{All: true})
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
