package monitor

import (
	"testing"
	"time"
)

func TestGate_CooldownCycle(t *testing.T) {
	g := NewGate(120*time.Minute, 0)
	key := ConvergenceKey("M")

	if !g.ShouldAlert(key, minute(50)) {
		t.Fatal("unseen key must alert")
	}
	g.Record(key, minute(50))

	// Scenario D: still inside the cooldown at minute 70.
	if g.ShouldAlert(key, minute(70)) {
		t.Error("key alerted inside cooldown")
	}
	if g.ShouldAlert(key, minute(169)) {
		t.Error("key alerted one minute before cooldown elapsed")
	}
	if !g.ShouldAlert(key, minute(170)) {
		t.Error("key must alert once the cooldown has elapsed exactly")
	}
}

func TestGate_ShouldAlertIsIdempotent(t *testing.T) {
	g := NewGate(time.Hour, 0)
	for i := 0; i < 3; i++ {
		if !g.ShouldAlert("filter:M", minute(0)) {
			t.Fatalf("call %d: ShouldAlert changed without Record", i)
		}
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
}

func TestGate_NamespacesAreIndependent(t *testing.T) {
	g := NewGate(time.Hour, 0)
	g.Record(FilterKey("M"), minute(0))

	if !g.ShouldAlert(ConvergenceKey("M"), minute(1)) {
		t.Error("convergence key suppressed by a filter record")
	}
	if FilterKey("M") == ConvergenceKey("M") {
		t.Error("keys must differ by namespace")
	}
}

func TestGate_Evict(t *testing.T) {
	g := NewGate(time.Hour, 4*time.Hour)
	g.Record("filter:old", minute(0))
	g.Record("filter:new", minute(200))

	if n := g.Evict(minute(240)); n != 0 {
		t.Errorf("evicted %d at exactly the retention horizon, want 0", n)
	}
	if n := g.Evict(minute(241)); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
	if !g.ShouldAlert("filter:old", minute(241)) {
		t.Error("evicted key must alert again")
	}
}

func TestGate_RetentionFloor(t *testing.T) {
	g := NewGate(time.Hour, time.Minute)
	if g.retention != 4*time.Hour {
		t.Errorf("retention = %v, want 4h", g.retention)
	}
}
