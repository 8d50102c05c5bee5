package ratelimit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/types"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestLimiter(t *testing.T, clock *fakeClock) Limiter {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	lim, err := New(log, WithClock(clock.now), WithSweepDisabled())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(lim.Close)
	return lim
}

func writeLimitsFile(t *testing.T, yaml string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limits.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write limits: %v", err)
	}
	t.Setenv("RATE_LIMITS_FILE", path)
}

func TestSlidingWindowRejectionAndRecovery(t *testing.T) {
	writeLimitsFile(t, "FREE:\n  limit: 5\n  window: 10s\n")

	clock := &fakeClock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	lim := newTestLimiter(t, clock)
	tenant := uuid.New()

	// 5 admissions inside 3 seconds
	offsets := []time.Duration{0, time.Second, 1500 * time.Millisecond, 2 * time.Second, 3 * time.Second}
	base := clock.at
	for i, off := range offsets {
		clock.at = base.Add(off)
		if d := lim.Allow(tenant, types.PlanFree); !d.Allowed {
			t.Fatalf("admission %d rejected", i+1)
		}
	}

	// the 6th must wait out the oldest stamp
	d := lim.Allow(tenant, types.PlanFree)
	if d.Allowed {
		t.Fatalf("6th admission should be rejected")
	}
	secs := d.RetryAfter.Seconds()
	if secs < 6 || secs > 8 {
		t.Fatalf("retry_after = %vs, want 7 +/- 1", secs)
	}

	// a full window later the oldest stamp has expired
	clock.at = base.Add(10*time.Second + 100*time.Millisecond)
	if d := lim.Allow(tenant, types.PlanFree); !d.Allowed {
		t.Fatalf("admission after window should succeed, retry_after=%v", d.RetryAfter)
	}
}

func TestTenantsDoNotShareWindows(t *testing.T) {
	writeLimitsFile(t, "FREE:\n  limit: 2\n  window: 10s\n")

	clock := &fakeClock{at: time.Now()}
	lim := newTestLimiter(t, clock)

	a, b := uuid.New(), uuid.New()
	lim.Allow(a, types.PlanFree)
	lim.Allow(a, types.PlanFree)
	if d := lim.Allow(a, types.PlanFree); d.Allowed {
		t.Fatalf("tenant a should be limited")
	}
	if d := lim.Allow(b, types.PlanFree); !d.Allowed {
		t.Fatalf("tenant b must not inherit tenant a's window")
	}
}

func TestUnknownPlanFallsBackToFree(t *testing.T) {
	clock := &fakeClock{at: time.Now()}
	lim := newTestLimiter(t, clock)
	tenant := uuid.New()

	for i := 0; i < 10; i++ {
		if d := lim.Allow(tenant, "NO_SUCH_PLAN"); !d.Allowed {
			t.Fatalf("admission %d rejected under default free limits", i+1)
		}
	}
	if d := lim.Allow(tenant, "NO_SUCH_PLAN"); d.Allowed {
		t.Fatalf("11th admission should exceed the free default of 10/min")
	}
}

func TestPlanLimitsDiffer(t *testing.T) {
	clock := &fakeClock{at: time.Now()}
	lim := newTestLimiter(t, clock)
	tenant := uuid.New()

	// enterprise default is far above the free default
	for i := 0; i < 100; i++ {
		if d := lim.Allow(tenant, types.PlanEnterprise); !d.Allowed {
			t.Fatalf("enterprise admission %d rejected", i+1)
		}
	}
}

func TestSweepDropsIdleTenants(t *testing.T) {
	clock := &fakeClock{at: time.Now()}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	lim, err := New(log, WithClock(clock.now), WithSweepDisabled())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer lim.Close()
	l := lim.(*limiter)

	idle, active := uuid.New(), uuid.New()
	l.Allow(idle, types.PlanFree)
	clock.advance(2 * time.Hour)
	l.Allow(active, types.PlanFree)

	l.sweep()

	l.mu.Lock()
	_, idleKept := l.tenants[idle]
	_, activeKept := l.tenants[active]
	l.mu.Unlock()
	if idleKept {
		t.Fatalf("idle tenant should be swept")
	}
	if !activeKept {
		t.Fatalf("active tenant must survive the sweep")
	}
}

func TestLoadPlanLimitsValidation(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("STARTER:\n  limit: 42\n  window: 1m\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	limits, err := LoadPlanLimits(good)
	if err != nil {
		t.Fatalf("LoadPlanLimits: %v", err)
	}
	if limits[types.PlanStarter].Limit != 42 || limits[types.PlanStarter].Window != time.Minute {
		t.Fatalf("parsed %+v", limits[types.PlanStarter])
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("FREE:\n  limit: 0\n  window: 10s\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPlanLimits(bad); err == nil {
		t.Fatalf("zero limit must be rejected")
	}
}
