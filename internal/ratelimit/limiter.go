package ratelimit

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/types"
)

// PlanLimit is one plan's admission budget: Limit requests per Window.
type PlanLimit struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// defaultPlanLimits applies when no limits file is configured.
var defaultPlanLimits = map[string]PlanLimit{
	types.PlanFree:         {Limit: 10, Window: 60 * time.Second},
	types.PlanStarter:      {Limit: 60, Window: 60 * time.Second},
	types.PlanProfessional: {Limit: 300, Window: 60 * time.Second},
	types.PlanEnterprise:   {Limit: 1200, Window: 60 * time.Second},
}

// Decision is the outcome of one admission attempt. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits per-tenant requests under a sliding window sized by the
// tenant's plan.
type Limiter interface {
	Allow(tenantID uuid.UUID, plan string) Decision
	Close()
}

type limiter struct {
	log   *logger.Logger
	plans map[string]PlanLimit
	now   func() time.Time

	mu      sync.Mutex
	tenants map[uuid.UUID]*tenantWindow

	stop chan struct{}
	once sync.Once
}

type tenantWindow struct {
	stamps []time.Time
	lastAt time.Time
}

// Option tweaks limiter construction; used by tests to inject a clock.
type Option func(*limiter)

func WithClock(now func() time.Time) Option {
	return func(l *limiter) { l.now = now }
}

func WithSweepDisabled() Option {
	return func(l *limiter) { l.stop = nil }
}

// New builds the limiter. When RATE_LIMITS_FILE points at a YAML plan table
// it overrides the defaults per plan.
func New(log *logger.Logger, opts ...Option) (Limiter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	plans := make(map[string]PlanLimit, len(defaultPlanLimits))
	for k, v := range defaultPlanLimits {
		plans[k] = v
	}
	if path := os.Getenv("RATE_LIMITS_FILE"); path != "" {
		loaded, err := LoadPlanLimits(path)
		if err != nil {
			return nil, fmt.Errorf("load rate limits: %w", err)
		}
		for k, v := range loaded {
			plans[k] = v
		}
	}

	l := &limiter{
		log:     log.With("service", "RateLimiter"),
		plans:   plans,
		now:     time.Now,
		tenants: map[uuid.UUID]*tenantWindow{},
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.stop != nil {
		go l.sweepLoop()
	}
	return l, nil
}

// LoadPlanLimits reads a plan → {limit, window} table. Windows are Go
// duration strings ("10s", "1m").
func LoadPlanLimits(path string) (map[string]PlanLimit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed map[string]struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	out := make(map[string]PlanLimit, len(parsed))
	for plan, entry := range parsed {
		if entry.Limit <= 0 {
			return nil, fmt.Errorf("plan %s: limit must be positive", plan)
		}
		window, err := time.ParseDuration(entry.Window)
		if err != nil {
			return nil, fmt.Errorf("plan %s: bad window: %w", plan, err)
		}
		out[plan] = PlanLimit{Limit: entry.Limit, Window: window}
	}
	return out, nil
}

func (l *limiter) Allow(tenantID uuid.UUID, plan string) Decision {
	limit, ok := l.plans[plan]
	if !ok {
		limit = defaultPlanLimits[types.PlanFree]
	}

	now := l.now()
	cutoff := now.Add(-limit.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	tw := l.tenants[tenantID]
	if tw == nil {
		tw = &tenantWindow{}
		l.tenants[tenantID] = tw
	}
	tw.lastAt = now

	// drop stamps that slid out of the window
	kept := tw.stamps[:0]
	for _, ts := range tw.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	tw.stamps = kept

	if len(tw.stamps) < limit.Limit {
		tw.stamps = append(tw.stamps, now)
		return Decision{Allowed: true}
	}

	oldest := tw.stamps[0]
	retrySecs := math.Ceil(oldest.Sub(cutoff).Seconds()) + 1
	return Decision{
		Allowed:    false,
		RetryAfter: time.Duration(retrySecs) * time.Second,
	}
}

// sweepLoop drops tenants idle for over an hour so the stamp map does not
// grow with every tenant ever seen.
func (l *limiter) sweepLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *limiter) sweep() {
	cutoff := l.now().Add(-time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for id, tw := range l.tenants {
		if tw.lastAt.Before(cutoff) {
			delete(l.tenants, id)
			dropped++
		}
	}
	if dropped > 0 {
		l.log.Info("Rate limiter sweep", "dropped_tenants", dropped, "remaining", len(l.tenants))
	}
}

func (l *limiter) Close() {
	l.once.Do(func() {
		if l.stop != nil {
			close(l.stop)
		}
	})
}
