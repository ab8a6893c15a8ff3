package infra

import (
	"context"
	"sync"
	"time"

	"github.com/geb16/prodtracker/internal/domain"
)

// MemoryGuardState implements domain.GuardState in process memory.
// Used in standalone deployments without Redis and in tests; the single
// mutex is fine at the device counts a personal tracker sees.
type MemoryGuardState struct {
	mu      sync.Mutex
	devices map[string]*guardCounters
}

type guardCounters struct {
	lastTS     time.Time
	tokens     float64
	refilledAt time.Time
	rejects    int
}

// NewMemoryGuardState creates empty guard state.
func NewMemoryGuardState() *MemoryGuardState {
	return &MemoryGuardState{devices: make(map[string]*guardCounters)}
}

// Admit mirrors the Redis script: replay check first, then the bucket,
// all under one lock so the update is atomic.
func (s *MemoryGuardState) Admit(_ context.Context, deviceID string, ts, now time.Time, capacity int, refillPerSec float64) (domain.AdmitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.devices[deviceID]
	if !ok {
		c = &guardCounters{tokens: float64(capacity), refilledAt: now}
		s.devices[deviceID] = c
	}

	if !ts.After(c.lastTS) {
		c.rejects++
		return domain.Replayed, nil
	}

	elapsed := now.Sub(c.refilledAt).Seconds()
	if elapsed > 0 {
		c.tokens += elapsed * refillPerSec
		if c.tokens > float64(capacity) {
			c.tokens = float64(capacity)
		}
	}
	c.refilledAt = now

	if c.tokens < 1 {
		c.rejects++
		return domain.RateLimited, nil
	}

	c.tokens--
	c.lastTS = ts
	return domain.Admitted, nil
}

// Rejects returns the abuse counter for a device (for tests and status).
func (s *MemoryGuardState) Rejects(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.devices[deviceID]; ok {
		return c.rejects
	}
	return 0
}

// MemorySampleWindow implements domain.SampleWindow with one lock per
// device: heartbeats for the same device serialize, different devices
// never block each other.
type MemorySampleWindow struct {
	mu             sync.Mutex // guards the map only
	devices        map[string]*deviceWindow
	lookback       time.Duration
	sampleInterval time.Duration
	now            func() time.Time
}

type deviceWindow struct {
	mu    sync.Mutex
	facts []domain.SampleFact
}

// NewMemorySampleWindow creates an empty window store.
func NewMemorySampleWindow(lookback, sampleInterval time.Duration) *MemorySampleWindow {
	return &MemorySampleWindow{
		devices:        make(map[string]*deviceWindow),
		lookback:       lookback,
		sampleInterval: sampleInterval,
		now:            time.Now,
	}
}

// WithClock overrides the clock (for tests).
func (w *MemorySampleWindow) WithClock(now func() time.Time) *MemorySampleWindow {
	w.now = now
	return w
}

func (w *MemorySampleWindow) device(deviceID string) *deviceWindow {
	w.mu.Lock()
	defer w.mu.Unlock()
	dw, ok := w.devices[deviceID]
	if !ok {
		dw = &deviceWindow{}
		w.devices[deviceID] = dw
	}
	return dw
}

// Record appends a fact, evicting anything older than the lookback.
// Eviction is amortized on the write path; facts stay time-ordered
// because the replay guard only admits strictly increasing timestamps.
func (w *MemorySampleWindow) Record(_ context.Context, deviceID string, fact domain.SampleFact) error {
	dw := w.device(deviceID)
	dw.mu.Lock()
	defer dw.mu.Unlock()

	cutoff := fact.Timestamp.Add(-w.lookback)
	keep := dw.facts[:0]
	for _, f := range dw.facts {
		if f.Timestamp.After(cutoff) {
			keep = append(keep, f)
		}
	}
	dw.facts = append(keep, fact)
	return nil
}

// Summarize aggregates the trailing minutes, clipped to the lookback.
func (w *MemorySampleWindow) Summarize(_ context.Context, deviceID string, minutes int) (*domain.Summary, error) {
	span := time.Duration(minutes) * time.Minute
	if span > w.lookback {
		span = w.lookback
	}
	cutoff := w.now().Add(-span)

	dw := w.device(deviceID)
	dw.mu.Lock()
	defer dw.mu.Unlock()

	summary := &domain.Summary{DeviceID: deviceID, WindowMinutes: minutes}
	for _, f := range dw.facts {
		if f.Timestamp.Before(cutoff) {
			continue
		}
		switch f.Verdict {
		case domain.VerdictSignal:
			summary.SignalSeconds += w.sampleInterval.Seconds()
		case domain.VerdictNoise:
			summary.NoiseSeconds += w.sampleInterval.Seconds()
		}
		if f.Timestamp.After(summary.LastSeen) {
			summary.LastSeen = f.Timestamp
		}
	}
	return summary, nil
}

var (
	_ domain.GuardState   = (*MemoryGuardState)(nil)
	_ domain.SampleWindow = (*MemorySampleWindow)(nil)
)
