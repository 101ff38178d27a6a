package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestPostRunsInOrder(t *testing.T) {
	l := startLoop(t)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	wg.Add(5)
	for i := 0; i < 5; i++ {
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", got)
		}
	}
}

func TestDoReturnsError(t *testing.T) {
	l := startLoop(t)
	want := errors.New("nope")

	if err := l.Do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do error = %v, want %v", err, want)
	}
	if err := l.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("Do error = %v, want nil", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	l := startLoop(t)

	err := l.Do(context.Background(), func() error { panic("bad frame") })
	if err == nil {
		t.Fatal("expected error from panicking task")
	}

	// loop keeps serving
	if err := l.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("loop unusable after panic: %v", err)
	}
}

func TestStoppedLoop(t *testing.T) {
	l := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	if l.Post(func() {}) {
		t.Fatal("Post succeeded on stopped loop")
	}
	if err := l.Do(context.Background(), func() error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do on stopped loop = %v", err)
	}
}
