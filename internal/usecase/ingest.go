// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/auth"
	"github.com/geb16/prodtracker/internal/blocker"
	"github.com/geb16/prodtracker/internal/classify"
	"github.com/geb16/prodtracker/internal/domain"
	"github.com/geb16/prodtracker/internal/guard"
	"github.com/geb16/prodtracker/internal/pairing"
)

// PipelineConfig tunes the ingestion policy.
type PipelineConfig struct {
	// SampleInterval is the expected heartbeat cadence; one sample
	// stands for this much elapsed time.
	SampleInterval time.Duration

	// EvaluationWindow is the trailing span inspected when deciding
	// whether the distraction threshold has been crossed.
	EvaluationWindow time.Duration

	// DistractionThreshold is the number of noise samples within the
	// evaluation window that triggers automatic blocking.
	DistractionThreshold int

	// StoreTimeout bounds each shared-store call. Processing continues
	// past client disconnects; only this budget cancels it.
	StoreTimeout time.Duration
}

// DefaultPipelineConfig matches a heartbeat every ~15 seconds, blocking
// after three distracted samples in five minutes.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SampleInterval:       15 * time.Second,
		EvaluationWindow:     5 * time.Minute,
		DistractionThreshold: 3,
		StoreTimeout:         5 * time.Second,
	}
}

// Pipeline is the heartbeat ingestion path: verify, admit, aggregate,
// classify, and enforce when the distraction threshold is crossed.
type Pipeline struct {
	registry   *pairing.Registry
	guard      *guard.Guard
	window     domain.SampleWindow
	classifier *classify.Classifier
	blocker    *blocker.Blocker
	cfg        PipelineConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewPipeline wires the ingestion path.
func NewPipeline(
	registry *pairing.Registry,
	g *guard.Guard,
	window domain.SampleWindow,
	classifier *classify.Classifier,
	b *blocker.Blocker,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		registry:   registry,
		guard:      g,
		window:     window,
		classifier: classifier,
		blocker:    b,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the clock (for tests).
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Ingest processes one inbound heartbeat. Rejections happen before any
// aggregate state is touched: an unknown device or bad signature leaves
// no trace beyond a log line, and a rate-limited sample is fully
// discarded.
func (p *Pipeline) Ingest(ctx context.Context, hb domain.Heartbeat) (domain.Classification, error) {
	var none domain.Classification

	ts := hb.Time()
	if ts.IsZero() {
		// Malformed payloads fail closed like any other auth failure.
		return none, domain.ErrAuthentication
	}

	device, err := p.registry.Lookup(ctx, hb.DeviceID)
	if err != nil {
		return none, err
	}

	if err := auth.VerifyHeartbeat(hb, device.Secret); err != nil {
		return none, err
	}

	// A heartbeat that passed authentication completes its state update
	// even if the client disconnects: aggregates must not under-count.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StoreTimeout)
	defer cancel()

	if err := p.guard.Admit(dctx, hb.DeviceID, ts); err != nil {
		return none, err
	}

	classification := p.classifier.Classify(hb.ForegroundApp, "")

	fact := domain.SampleFact{
		Timestamp: ts,
		ScreenOn:  hb.ScreenOn,
		App:       hb.ForegroundApp,
		Verdict:   classification.Verdict,
	}
	if err := p.window.Record(dctx, hb.DeviceID, fact); err != nil {
		return none, err
	}

	if err := p.registry.Touch(dctx, hb.DeviceID, p.now()); err != nil {
		p.logger.Warn("failed to update last-seen", zap.String("device", hb.DeviceID), zap.Error(err))
	}

	if classification.Verdict == domain.VerdictNoise {
		p.evaluate(dctx, hb.DeviceID)
	}

	return classification, nil
}

// evaluate checks the trailing window and activates blocking when the
// device has been distracted past the threshold.
func (p *Pipeline) evaluate(ctx context.Context, deviceID string) {
	minutes := int(p.cfg.EvaluationWindow.Minutes())
	summary, err := p.window.Summarize(ctx, deviceID, minutes)
	if err != nil {
		p.logger.Warn("distraction evaluation skipped", zap.String("device", deviceID), zap.Error(err))
		return
	}

	noiseSamples := int(summary.NoiseSeconds / p.cfg.SampleInterval.Seconds())
	if noiseSamples < p.cfg.DistractionThreshold {
		return
	}

	expiry := endOfDay(p.now())
	reason := fmt.Sprintf("auto:distraction:%s", deviceID)
	if _, err := p.blocker.Activate(ctx, reason, deviceID, &expiry); err != nil {
		p.logger.Error("automatic block activation failed",
			zap.String("device", deviceID),
			zap.Error(err))
		return
	}
	p.logger.Warn("distraction threshold crossed, blocking until end of day",
		zap.String("device", deviceID),
		zap.Int("noise_samples", noiseSamples))
}

// Summary answers the device summary query, clipped to the maintained
// lookback. The device's stored last-seen wins when it is newer than
// anything left in the window.
func (p *Pipeline) Summary(ctx context.Context, deviceID string, minutes int) (*domain.Summary, error) {
	summary, err := p.window.Summarize(ctx, deviceID, minutes)
	if err != nil {
		return nil, err
	}
	if device, err := p.registry.Lookup(ctx, deviceID); err == nil {
		if device.LastSeen.After(summary.LastSeen) {
			summary.LastSeen = device.LastSeen
		}
	}
	return summary, nil
}

func endOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, now.Location())
}
