package metrics

import (
	"context"
	"testing"
)

func TestNew_InstrumentsBuildCleanly(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown(context.Background())

	if m.PoolSessionsActive == nil || m.PoolCallsTotal == nil || m.PoolCallDuration == nil || m.MirrorToolsTotal == nil {
		t.Fatal("expected all instruments to be non-nil")
	}
}

func TestRecordCall_DoesNotPanic(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown(context.Background())

	m.RecordCall(context.Background(), "filesystem", "success", 0.012)
	m.RecordCall(context.Background(), "filesystem", "error", 1.5)
}

func TestSessionLifecycleGauge_DoesNotPanic(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown(context.Background())

	m.SessionStarted(context.Background())
	m.SessionStopped(context.Background())
}

func TestSetMirrorSize_ZeroDeltaIsNoop(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown(context.Background())

	m.SetMirrorSize(context.Background(), 0)
	m.SetMirrorSize(context.Background(), 3)
	m.SetMirrorSize(context.Background(), -1)
}

func TestHandler_ReturnsNonNil(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Shutdown(context.Background())

	if m.Handler() == nil {
		t.Fatal("expected non-nil http.Handler")
	}
}
