package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	exited := make(chan struct{})
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		close(exited)
		return ctx.Err()
	})

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-exited:
	default:
		t.Fatal("goroutine still running after Stop")
	}
	// context.Canceled is a normal exit, not a failure.
	if err := s.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
}

func TestFirstErrorIsKept(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	boom := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return boom })

	if err := s.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("failing", func(ctx context.Context) error { return errors.New("fatal") })
	s.Go("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Wait(context.Background()); err == nil {
		t.Fatal("error swallowed")
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("context not canceled after error")
	}
}

func TestNoCancelOnErrorByDefault(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	s.Go("failing", func(ctx context.Context) error { return errors.New("soft") })

	// Give the failing goroutine time to finish; the context must survive.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-s.Context().Done():
		t.Fatal("context canceled without WithCancelOnError")
	default:
	}
	_ = s.Stop(context.Background())
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	s.Go("panicky", func(ctx context.Context) error { panic("kaboom") })

	err := s.Wait(context.Background())
	if err == nil {
		t.Fatal("panic not surfaced as error")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	block := make(chan struct{})
	s.Go0("stuck", func(ctx context.Context) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}

	close(block)
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("final Wait: %v", err)
	}
}

func TestActiveCount(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		s.Go0("held", func(ctx context.Context) { <-block })
	}

	deadline := time.Now().Add(time.Second)
	for s.Active() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Active = %d, want 3", s.Active())
		}
		time.Sleep(time.Millisecond)
	}

	close(block)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Active(); got != 0 {
		t.Fatalf("Active after Stop = %d", got)
	}
}
