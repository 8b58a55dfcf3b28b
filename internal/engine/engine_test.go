package engine

import (
	"testing"
	"time"

	"github.com/keyflow/keyflow/internal/model"
)

// quietOptions keeps the monitor and timed cadence out of the way so tests
// drive the engine through SubmitKeyEvent alone.
func quietOptions() Options {
	return Options{
		MonitorInterval: time.Hour,
		CadenceInterval: time.Hour,
		CadenceKeys:     1 << 20,
		SampleFunc: func() model.MemorySample {
			return model.MemorySample{Timestamp: time.Now(), PercentUsed: 20}
		},
	}
}

func keyAt(base time.Time, offset time.Duration, ch rune) model.KeyEvent {
	return model.KeyEvent{Timestamp: base.Add(offset), Char: ch}
}

func TestTypingTimeSkipsIdleGaps(t *testing.T) {
	opts := quietOptions()
	opts.IdleTimeout = 30 * time.Second
	e := New(opts)
	e.StartSession()
	t.Cleanup(func() { e.StopSession() })

	base := time.Now()
	for _, off := range []time.Duration{
		0,
		1 * time.Second,
		2 * time.Second,
		42 * time.Second, // 40s gap, over the idle timeout
		43 * time.Second,
	} {
		e.SubmitKeyEvent(keyAt(base, off, 'a'))
	}

	s := e.Snapshot()
	if s.KeyCount != 5 {
		t.Fatalf("expected 5 keys, got %d", s.KeyCount)
	}
	if s.TypingTime != 3*time.Second {
		t.Fatalf("expected 3s typing time, got %s", s.TypingTime)
	}
}

func TestCadenceKeysTriggersComputation(t *testing.T) {
	opts := quietOptions()
	opts.CadenceKeys = 3
	e := New(opts)

	updates := make(chan model.StatsState, 16)
	e.OnStatsUpdated(func(s model.StatsState) { updates <- s })

	e.StartSession()
	t.Cleanup(func() { e.StopSession() })

	base := time.Now()
	for i, ch := range "cat" {
		e.SubmitKeyEvent(keyAt(base, time.Duration(i)*100*time.Millisecond, ch))
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.ComputedAt.IsZero() {
				continue
			}
			if s.Result.CharacterCount != 3 {
				t.Fatalf("expected 3 scanned characters, got %d", s.Result.CharacterCount)
			}
			if s.Result.WordCount != 1 {
				t.Fatalf("expected 1 word, got %d", s.Result.WordCount)
			}
			if s.Result.Accuracy != 100 {
				t.Fatalf("expected 100%% accuracy, got %d", s.Result.Accuracy)
			}
			return
		case <-deadline:
			t.Fatalf("no computation result after cadence trigger")
		}
	}
}

func TestErrorKeysCountButAddNoContent(t *testing.T) {
	e := New(quietOptions())
	e.StartSession()
	t.Cleanup(func() { e.StopSession() })

	base := time.Now()
	e.SubmitKeyEvent(keyAt(base, 0, 'x'))
	e.SubmitKeyEvent(model.KeyEvent{Timestamp: base.Add(time.Second), IsError: true})

	s := e.Snapshot()
	if s.KeyCount != 2 || s.ErrorCount != 1 {
		t.Fatalf("counters key=%d err=%d, want 2/1", s.KeyCount, s.ErrorCount)
	}
}

func TestSetProcessingMode(t *testing.T) {
	e := New(quietOptions())
	e.StartSession()
	t.Cleanup(func() { e.StopSession() })

	if !e.SetProcessingMode("lite") {
		t.Fatalf("expected valid mode to pin")
	}
	if got := e.Snapshot().Mode; got != model.ModeLite {
		t.Fatalf("expected Lite after pin, got %s", got)
	}
	if e.SetProcessingMode("turbo") {
		t.Fatalf("expected unknown mode to be rejected")
	}
	if !e.SetProcessingMode("auto") {
		t.Fatalf("expected auto to unpin")
	}
}

func TestResetClearsCountersKeepsMode(t *testing.T) {
	e := New(quietOptions())
	e.StartSession()
	t.Cleanup(func() { e.StopSession() })

	e.SetProcessingMode("lite")
	base := time.Now()
	for i := 0; i < 10; i++ {
		e.SubmitKeyEvent(keyAt(base, time.Duration(i)*time.Second, 'a'))
	}
	e.Reset()

	s := e.Snapshot()
	if s.KeyCount != 0 || s.TypingTime != 0 {
		t.Fatalf("expected zeroed counters, got key=%d typing=%s", s.KeyCount, s.TypingTime)
	}
	if s.Mode != model.ModeLite {
		t.Fatalf("reset must keep the mode, got %s", s.Mode)
	}
}

func TestStopSessionReturnsFinalState(t *testing.T) {
	e := New(quietOptions())
	e.StartSession()

	base := time.Now()
	e.SubmitKeyEvent(keyAt(base, 0, 'a'))
	e.SubmitKeyEvent(keyAt(base, time.Second, 'b'))

	final := e.StopSession()
	if final.KeyCount != 2 {
		t.Fatalf("expected final key count 2, got %d", final.KeyCount)
	}
	// Idempotent; keystrokes after stop are ignored.
	e.SubmitKeyEvent(keyAt(base, 2*time.Second, 'c'))
	again := e.StopSession()
	if again.KeyCount != 2 {
		t.Fatalf("expected unchanged state on second stop, got %d", again.KeyCount)
	}
}

func TestFinalizeSnapshot(t *testing.T) {
	e := New(quietOptions())
	e.StartSession()
	t.Cleanup(func() { e.StopSession() })

	base := time.Now()
	e.SubmitKeyEvent(keyAt(base, 0, 'a'))
	e.SubmitKeyEvent(keyAt(base, time.Second, 'b'))

	snap := e.Finalize()
	if snap.KeyCount != 2 {
		t.Fatalf("expected 2 keys, got %d", snap.KeyCount)
	}
	if snap.TypingTimeMs != 1000 {
		t.Fatalf("expected 1000ms typing time, got %d", snap.TypingTimeMs)
	}
	if snap.EndedAt.Before(snap.StartedAt) {
		t.Fatalf("ended %s before started %s", snap.EndedAt, snap.StartedAt)
	}
}
