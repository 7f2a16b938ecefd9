package loop

import (
	"context"
	"testing"
	"time"
)

func TestLoop_Order(t *testing.T) {
	l := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	if n := l.ProcessEvents(); n != 5 {
		t.Errorf("Expected 5 events processed, got %d", n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("Expected %d at position %d, got %d", i, i, v)
		}
	}
}

func TestLoop_NoReentrantDispatch(t *testing.T) {
	l := New()
	var trace []string

	l.Post(func() {
		trace = append(trace, "outer-start")
		l.Post(func() { trace = append(trace, "inner") })
		if n := l.ProcessEvents(); n != 0 {
			t.Errorf("Expected nested ProcessEvents to do nothing, got %d", n)
		}
		trace = append(trace, "outer-end")
	})
	l.ProcessEvents()

	want := []string{"outer-start", "outer-end", "inner"}
	if len(trace) != len(want) {
		t.Fatalf("Expected %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, trace)
			break
		}
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.ProcessEvents()
	if !ran {
		t.Error("Expected event after a panicking handler to run")
	}
}

func TestLoop_Run(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- l.Run(ctx) }()

	done := make(chan struct{})
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for posted event")
	}

	cancel()
	select {
	case err := <-stopped:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
