package accel

import (
	"errors"
	"testing"
	"time"

	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/model"
)

func TestDetectDisabled(t *testing.T) {
	capability := Detect(false, compute.NewCalculator(compute.DefaultParams()))
	if capability.Available() {
		t.Fatalf("disabled config must yield the absent capability")
	}
}

func TestDetectEnvKillSwitch(t *testing.T) {
	t.Setenv(DisableEnv, "1")
	capability := Detect(true, compute.NewCalculator(compute.DefaultParams()))
	if capability.Available() {
		t.Fatalf("%s must win over configuration", DisableEnv)
	}
}

func TestDetectEnabled(t *testing.T) {
	capability := Detect(true, compute.NewCalculator(compute.DefaultParams()))
	if !capability.Available() {
		t.Fatalf("expected the runtime capability when enabled")
	}
}

func TestRuntimeOptimizeReport(t *testing.T) {
	capability := Detect(true, compute.NewCalculator(compute.DefaultParams()))
	report := capability.Optimize(4, true)
	if !report.Success {
		t.Fatalf("expected successful optimize")
	}
	if report.FreedBytes < 0 {
		t.Fatalf("freed bytes must never be negative, got %d", report.FreedBytes)
	}
	if report.Timestamp.IsZero() {
		t.Fatalf("expected a stamped report")
	}
}

func TestRuntimeCompute(t *testing.T) {
	capability := Detect(true, compute.NewCalculator(compute.DefaultParams()))
	res, err := capability.Compute(model.PendingTask{
		KeyCount:   300,
		TypingTime: 60 * time.Second,
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.WPM != 60 {
		t.Fatalf("expected 60 WPM, got %d", res.WPM)
	}
}

func TestAbsentComputeUnavailable(t *testing.T) {
	_, err := Absent{}.Compute(model.PendingTask{KeyCount: 10})
	if !errors.Is(err, compute.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if (Absent{}).ForceCollect() != 0 {
		t.Fatalf("absent capability must be a no-op")
	}
	if report := (Absent{}).Optimize(4, true); report.Success {
		t.Fatalf("absent optimize must not report success")
	}
}
