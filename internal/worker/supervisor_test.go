package worker

import (
	"testing"
	"time"

	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/model"
)

func taskWithKeys(keys int) model.PendingTask {
	return model.PendingTask{KeyCount: keys, TypingTime: time.Minute}
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestSupervisorDispatchesInOrder(t *testing.T) {
	s := New(Options{Strategy: model.ModeNormal})
	t.Cleanup(s.Stop)

	// Queued before the worker signals readiness; dispatch is ready-gated.
	for _, keys := range []int{10, 20, 30, 40, 50} {
		if err := s.Submit(taskWithKeys(keys)); err != nil {
			t.Fatalf("submit %d: %v", keys, err)
		}
	}
	s.Start()

	for _, want := range []int{10, 20, 30, 40, 50} {
		ev := waitEvent(t, s.Events(), EventResult)
		// With no content snapshot the character count mirrors KeyCount,
		// which identifies the task.
		if ev.Result.CharacterCount != want {
			t.Fatalf("out-of-order result: got %d, want %d", ev.Result.CharacterCount, want)
		}
		if ev.Result.TierUsed != model.TierWorker {
			t.Fatalf("expected worker tier, got %s", ev.Result.TierUsed)
		}
	}

	m := s.MetricsSnapshot()
	if m.Processed != 5 {
		t.Fatalf("expected 5 processed, got %d", m.Processed)
	}
}

func TestSupervisorRestartsAfterBackoff(t *testing.T) {
	const backoff = 100 * time.Millisecond

	crashed := false
	s := New(Options{
		Backoff: backoff,
		BeforeCompute: func(task model.PendingTask) {
			if task.KeyCount == 1 && !crashed {
				crashed = true
				panic("injected fault")
			}
		},
	})
	t.Cleanup(s.Stop)
	s.Start()

	if err := s.Submit(taskWithKeys(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := waitEvent(t, s.Events(), EventError)
	if !isCrash(ev.Err) {
		t.Fatalf("expected crash error, got %v", ev.Err)
	}
	crashedAt := time.Now()

	// The crashed task is dropped, never retried. A new submission is
	// served only after the respawn backoff elapses.
	if err := s.Submit(taskWithKeys(2)); err != nil {
		t.Fatalf("submit after crash: %v", err)
	}
	res := waitEvent(t, s.Events(), EventResult)
	if res.Result.CharacterCount != 2 {
		t.Fatalf("expected the post-crash task, got %d", res.Result.CharacterCount)
	}
	if elapsed := time.Since(crashedAt); elapsed < backoff-20*time.Millisecond {
		t.Fatalf("worker respawned too early: %s < %s", elapsed, backoff)
	}

	m := s.MetricsSnapshot()
	if m.Crashes != 1 {
		t.Fatalf("expected 1 crash, got %d", m.Crashes)
	}
}

func TestSupervisorEvictsOldestWhenFull(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	s := New(Options{
		QueueCapacity: 3,
		BeforeCompute: func(task model.PendingTask) {
			if task.KeyCount == 1 {
				entered <- struct{}{}
				<-gate
			}
		},
	})
	t.Cleanup(s.Stop)

	if err := s.Submit(taskWithKeys(1)); err != nil {
		t.Fatalf("submit gate task: %v", err)
	}
	s.Start()
	<-entered

	// The worker is busy; these pile up in the pending queue and overflow
	// its capacity of 3, evicting the oldest.
	for keys := 2; keys <= 8; keys++ {
		for {
			err := s.Submit(taskWithKeys(keys))
			if err == nil {
				break
			}
			if err != ErrQueueFull {
				t.Fatalf("submit %d: %v", keys, err)
			}
			time.Sleep(time.Millisecond)
		}
		// Let the supervision loop drain the intake buffer so eviction
		// order stays deterministic.
		time.Sleep(2 * time.Millisecond)
	}
	close(gate)

	var got []int
	for i := 0; i < 4; i++ {
		ev := waitEvent(t, s.Events(), EventResult)
		got = append(got, ev.Result.CharacterCount)
	}
	want := []int{1, 6, 7, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("surviving tasks %v, want %v", got, want)
		}
	}

	m := s.MetricsSnapshot()
	if m.Dropped != 4 {
		t.Fatalf("expected 4 evictions, got %d", m.Dropped)
	}
}

func TestSupervisorStrategyInfluencesNextComputation(t *testing.T) {
	s := New(Options{Strategy: model.ModeNormal, Params: compute.DefaultParams()})
	t.Cleanup(s.Stop)
	s.Start()
	waitEvent(t, s.Events(), EventReady)

	task := taskWithKeys(100)
	task.ContentSnapshot = "alpha beta gamma"

	if err := s.Submit(task); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := waitEvent(t, s.Events(), EventResult)
	if ev.Result.WordCount != 3 {
		t.Fatalf("normal strategy should scan content, got wordCount %d", ev.Result.WordCount)
	}

	s.SetStrategy(model.ModeLite)
	// Control relay is asynchronous; give the idle loop a beat to apply it.
	time.Sleep(50 * time.Millisecond)

	if err := s.Submit(task); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev = waitEvent(t, s.Events(), EventResult)
	if ev.Result.WordCount != 20 {
		t.Fatalf("lite strategy should estimate from counters, got wordCount %d", ev.Result.WordCount)
	}
}

func TestSupervisorSignalsReady(t *testing.T) {
	s := New(Options{})
	t.Cleanup(s.Stop)
	s.Start()

	waitEvent(t, s.Events(), EventReady)
	if st := s.State(); st != StateReady {
		t.Fatalf("expected ready state after the ready event, got %s", st)
	}
}

func TestSupervisorStopWaitsForBusyWorker(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	s := New(Options{
		BeforeCompute: func(task model.PendingTask) {
			if task.KeyCount == 1 {
				entered <- struct{}{}
				<-gate
			}
		},
	})
	s.Start()

	if err := s.Submit(taskWithKeys(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("stop returned while the worker was mid-computation")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return after the worker finished")
	}
}

func TestSupervisorStopIdempotent(t *testing.T) {
	s := New(Options{})
	s.Start()
	waitEvent(t, s.Events(), EventReady)

	s.Stop()
	s.Stop()

	if err := s.Submit(taskWithKeys(1)); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if st := s.State(); st != StateTerminated {
		t.Fatalf("expected terminated state, got %s", st)
	}
}
