package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/mbocsi/gotadek/proto"
)

type watcher struct {
	mu       sync.Mutex
	notEmpty []proto.MsgID
	done     []DoneEvent
}

func watch(q *Queue) *watcher {
	w := &watcher{}
	q.OnNotEmpty(func(id proto.MsgID) {
		w.mu.Lock()
		w.notEmpty = append(w.notEmpty, id)
		w.mu.Unlock()
	})
	q.OnAllDone(func(ev DoneEvent) {
		w.mu.Lock()
		w.done = append(w.done, ev)
		w.mu.Unlock()
	})
	return w
}

func TestQueue_NotEmpty(t *testing.T) {
	q := New()
	w := watch(q)

	q.Put(1)
	if len(w.notEmpty) != 1 || w.notEmpty[0] != 1 {
		t.Fatalf("Expected one not-empty notification for 1, got %v", w.notEmpty)
	}

	q.Put(2)
	if len(w.notEmpty) != 1 {
		t.Errorf("Expected no notification while non-empty, got %v", w.notEmpty)
	}

	q.Pop()
	q.Pop()
	q.Put(3)
	if len(w.notEmpty) != 2 || w.notEmpty[1] != 3 {
		t.Errorf("Expected a second notification for 3, got %v", w.notEmpty)
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := New()
	ids := []proto.MsgID{5, 1, proto.ErrorMsgID, 3, 3}
	for _, id := range ids {
		q.Put(id)
	}
	if q.Len() != len(ids) {
		t.Errorf("Expected length %d, got %d", len(ids), q.Len())
	}
	for _, want := range ids {
		got, err := q.Pop()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("Expected %d, got %d", want, got)
		}
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	q := New()
	id, err := q.Pop()
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
	if id != proto.DefaultMsgID {
		t.Errorf("Expected default id, got %d", id)
	}
}

func TestQueue_AllIdDone(t *testing.T) {
	q := New()
	w := watch(q)

	q.Done(1)
	if len(w.done) != 1 || w.done[0].ID != 1 || w.done[0].All {
		t.Fatalf("Expected all-done for 1 on a fresh queue, got %v", w.done)
	}
	q.Done(1)
	if len(w.done) != 1 {
		t.Errorf("Expected all-done once per batch, got %v", w.done)
	}
}

func TestQueue_DoneWaitsForQueuedEntries(t *testing.T) {
	q := New()
	w := watch(q)

	q.Put(4)
	q.Put(4)
	q.Pop()
	q.Done(4)
	if len(w.done) != 0 {
		t.Errorf("Expected no all-done while 4 is still queued, got %v", w.done)
	}
	q.Pop()
	q.Done(4)
	if len(w.done) != 1 || w.done[0].ID != 4 {
		t.Errorf("Expected all-done for 4, got %v", w.done)
	}

	q.Put(4)
	q.Pop()
	q.Done(4)
	if len(w.done) != 2 {
		t.Errorf("Expected a new batch after put, got %v", w.done)
	}
}

func TestQueue_AllDone(t *testing.T) {
	q := New()
	w := watch(q)

	q.DoneAll()
	if len(w.done) != 1 || !w.done[0].All {
		t.Fatalf("Expected all-done for all ids, got %v", w.done)
	}
	q.DoneAll()
	if len(w.done) != 1 {
		t.Errorf("Expected all-done once per batch, got %v", w.done)
	}
}

func TestQueue_DoneAllKeepsQueuedIds(t *testing.T) {
	q := New()
	q.Put(3)
	q.DoneAll()
	if q.Len() != 1 {
		t.Errorf("Expected DoneAll to leave queued ids, got %d", q.Len())
	}
	if id, err := q.Pop(); err != nil || id != 3 {
		t.Errorf("Expected to pop 3, got %d (%v)", id, err)
	}
}

func TestQueue_ConcurrentPut(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Put(proto.MsgID(base*1000 + i))
			}
		}(g)
	}
	wg.Wait()

	if q.Len() != 800 {
		t.Errorf("Expected 800 entries, got %d", q.Len())
	}
	last := make(map[int]proto.MsgID)
	for {
		id, err := q.Pop()
		if err != nil {
			break
		}
		g := int(id) / 1000
		if prev, ok := last[g]; ok && id <= prev {
			t.Fatalf("Expected per-producer order, got %d after %d", id, prev)
		}
		last[g] = id
	}
}
