package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geb16/prodtracker/internal/domain"
)

func noiseFact(ts time.Time) domain.SampleFact {
	return domain.SampleFact{Timestamp: ts, ScreenOn: true, App: "youtube", Verdict: domain.VerdictNoise}
}

func signalFact(ts time.Time) domain.SampleFact {
	return domain.SampleFact{Timestamp: ts, ScreenOn: true, App: "code", Verdict: domain.VerdictSignal}
}

func TestMemorySampleWindow_EvictsBeyondLookback(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	w := NewMemorySampleWindow(10*time.Minute, 15*time.Second).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	// One fact well outside the lookback, two inside.
	require.NoError(t, w.Record(ctx, "d1", noiseFact(now.Add(-30*time.Minute))))
	require.NoError(t, w.Record(ctx, "d1", noiseFact(now.Add(-5*time.Minute))))
	require.NoError(t, w.Record(ctx, "d1", noiseFact(now.Add(-1*time.Minute))))

	summary, err := w.Summarize(ctx, "d1", 60)
	require.NoError(t, err)
	assert.InDelta(t, 30, summary.NoiseSeconds, 0.1)
}

func TestMemorySampleWindow_SummarizeClipsToRequestedSpan(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	w := NewMemorySampleWindow(time.Hour, 15*time.Second).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, w.Record(ctx, "d1", signalFact(now.Add(-40*time.Minute))))
	require.NoError(t, w.Record(ctx, "d1", signalFact(now.Add(-2*time.Minute))))

	summary, err := w.Summarize(ctx, "d1", 5)
	require.NoError(t, err)
	assert.InDelta(t, 15, summary.SignalSeconds, 0.1)

	summary, err = w.Summarize(ctx, "d1", 60)
	require.NoError(t, err)
	assert.InDelta(t, 30, summary.SignalSeconds, 0.1)
}

func TestMemorySampleWindow_UnknownVerdictCountsNowhere(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	w := NewMemorySampleWindow(time.Hour, 15*time.Second).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	fact := domain.SampleFact{Timestamp: now.Add(-time.Minute), App: "weather", Verdict: domain.VerdictUnknown}
	require.NoError(t, w.Record(ctx, "d1", fact))

	summary, err := w.Summarize(ctx, "d1", 10)
	require.NoError(t, err)
	assert.Zero(t, summary.SignalSeconds)
	assert.Zero(t, summary.NoiseSeconds)
	assert.Equal(t, fact.Timestamp, summary.LastSeen)
}

func TestMemorySampleWindow_DevicesIsolated(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	w := NewMemorySampleWindow(time.Hour, 15*time.Second).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, w.Record(ctx, "d1", noiseFact(now.Add(-time.Minute))))

	summary, err := w.Summarize(ctx, "d2", 10)
	require.NoError(t, err)
	assert.Zero(t, summary.NoiseSeconds)
	assert.True(t, summary.LastSeen.IsZero())
}

func TestMemoryGuardState_ReplayBeforeBucket(t *testing.T) {
	s := NewMemoryGuardState()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	ts := now.Add(-time.Minute)

	// Drain the bucket entirely.
	for i := 0; i < 2; i++ {
		d, err := s.Admit(ctx, "d1", ts.Add(time.Duration(i)*time.Second), now, 2, 0)
		require.NoError(t, err)
		require.Equal(t, domain.Admitted, d)
	}

	// A replayed timestamp reports Replayed even with zero tokens left.
	d, err := s.Admit(ctx, "d1", ts, now, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.Replayed, d)

	// A fresh timestamp with zero tokens reports RateLimited.
	d, err = s.Admit(ctx, "d1", ts.Add(time.Minute), now, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.RateLimited, d)

	assert.Equal(t, 2, s.Rejects("d1"))
}

func TestMemoryGuardState_RateLimitedKeepsWatermark(t *testing.T) {
	s := NewMemoryGuardState()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	d, err := s.Admit(ctx, "d1", now.Add(-2*time.Minute), now, 1, 0)
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, d)

	rejected := now.Add(-time.Minute)
	d, err = s.Admit(ctx, "d1", rejected, now, 1, 0)
	require.NoError(t, err)
	require.Equal(t, domain.RateLimited, d)

	// The rate-limited timestamp did not advance the watermark, so the
	// same timestamp can still be admitted once tokens refill.
	d, err = s.Admit(ctx, "d1", rejected, now.Add(10*time.Second), 1, 0.2)
	require.NoError(t, err)
	assert.Equal(t, domain.Admitted, d)
}
