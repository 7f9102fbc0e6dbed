package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "hearthd/pkg/logx"
)

func TestAddCronValidatesSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())

	noop := func(context.Context) error { return nil }
	if err := s.AddCron("ok", "*/5 * * * *", 0, noop); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := s.AddCron("seconds", "*/10 * * * * *", 0, noop); err != nil {
		t.Fatalf("six-field spec rejected: %v", err)
	}
	if err := s.AddCron("bad", "61 * * * *", 0, noop); err == nil {
		t.Fatal("invalid spec accepted")
	}
	if err := s.AddCron("", "* * * * *", 0, noop); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestAddDaily(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.AddDaily("feed", "03:30", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Spec != "30 3 * * *" {
		t.Fatalf("jobs = %+v", jobs)
	}

	if err := s.AddDaily("feed", "25:00", 0, noop); err == nil {
		t.Fatal("invalid time accepted")
	}
}

func TestAddPeriodicRejectsNonPositiveInterval(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	if err := s.AddPeriodic("sweep", 0, 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("zero interval accepted")
	}
}

func TestAddReplacesByName(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.AddCron("sweep", "@every 1m", 0, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if err := s.AddCron("sweep", "@every 5m", 0, noop); err != nil {
		t.Fatalf("replace AddCron: %v", err)
	}
	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Spec != "@every 5m" {
		t.Fatalf("jobs = %+v", jobs)
	}

	s.Remove("sweep")
	if got := s.Jobs(); len(got) != 0 {
		t.Fatalf("jobs after Remove = %+v", got)
	}
}

func TestExecuteSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	state := &runState{}

	done := make(chan struct{})
	go func() {
		s.execute("slow", 0, state, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
		close(done)
	}()

	// The first run holds the slot; a second tick must be skipped.
	<-started
	var second atomic.Int32
	s.execute("slow", 0, state, func(ctx context.Context) error {
		second.Add(1)
		return nil
	})
	if got := second.Load(); got != 0 {
		t.Fatalf("overlapping run executed %d times, want 0", got)
	}

	close(release)
	<-done
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	state := &runState{}

	s.execute("boom", 0, state, func(context.Context) error {
		panic("kaboom")
	})

	// The slot is released even after a panic.
	if !state.tryAcquire() {
		t.Fatal("run state still held after panic")
	}
	state.release()
}

func TestExecuteAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	state := &runState{}

	got := make(chan error, 1)
	s.execute("timed", 10*time.Millisecond, state, func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-got:
		if err != context.DeadlineExceeded {
			t.Fatalf("ctx err = %v", err)
		}
	default:
		t.Fatal("job context never expired")
	}
}

func TestAddOnceFires(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())

	fired := make(chan struct{})
	s.AddOnce("catchup", time.Millisecond, 0, func(context.Context) error {
		close(fired)
		return nil
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot job never fired")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())

	ticked := make(chan struct{}, 1)
	err := s.AddCron("tick", "* * * * * *", 0, func(context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // idempotent

	select {
	case <-ticked:
	case <-time.After(3 * time.Second):
		t.Fatal("cron never ticked")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)
}

func TestDisabledServiceDoesNotStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())

	ticked := make(chan struct{}, 1)
	err := s.AddCron("tick", "* * * * * *", 0, func(context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddCron: %v", err)
	}

	s.Start(context.Background())
	select {
	case <-ticked:
		t.Fatal("disabled trigger ran a job")
	case <-time.After(1500 * time.Millisecond):
	}
	s.Stop(context.Background())
}
