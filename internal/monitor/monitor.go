// Package monitor implements the desktop sampling loop.
// It feeds the classifier directly from local foreground-window
// sampling, independent of the network ingestion path, and can trigger
// the blocking state machine on sustained distraction.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/blocker"
	"github.com/geb16/prodtracker/internal/classify"
	"github.com/geb16/prodtracker/internal/domain"
)

// DesktopDeviceID is the pseudo device-id under which desktop samples
// are aggregated.
const DesktopDeviceID = "desktop"

// Config holds monitor loop configuration.
type Config struct {
	SampleInterval time.Duration // how often to sample the foreground window
	NoiseStreak    int           // consecutive noise samples that trigger blocking
}

// DefaultConfig samples every five seconds and blocks after three
// consecutive distracted samples.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 5 * time.Second,
		NoiseStreak:    3,
	}
}

// Monitor is the periodic desktop sampling daemon.
type Monitor struct {
	config     Config
	sampler    domain.Sampler
	classifier *classify.Classifier
	window     domain.SampleWindow
	blocker    *blocker.Blocker
	logger     *zap.Logger

	noiseStreak int
}

// New creates a monitor daemon.
func New(
	config Config,
	sampler domain.Sampler,
	classifier *classify.Classifier,
	window domain.SampleWindow,
	b *blocker.Blocker,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:     config,
		sampler:    sampler,
		classifier: classifier,
		window:     window,
		blocker:    b,
		logger:     logger,
	}
}

// Run starts the sampling loop. This blocks until context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("desktop monitor started",
		zap.Duration("interval", m.config.SampleInterval))

	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("desktop monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.sampleOnce(ctx)
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	app, title, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Debug("foreground sample unavailable", zap.Error(err))
		return
	}

	classification := m.classifier.Classify(app, title)

	fact := domain.SampleFact{
		Timestamp: time.Now().UTC(),
		ScreenOn:  true,
		App:       app,
		Verdict:   classification.Verdict,
	}
	if err := m.window.Record(ctx, DesktopDeviceID, fact); err != nil {
		m.logger.Warn("failed to record desktop sample", zap.Error(err))
	}

	if classification.Verdict == domain.VerdictNoise {
		m.noiseStreak++
		m.logger.Info("desktop noise detected",
			zap.String("app", app),
			zap.String("rule", classification.Rule),
			zap.Int("streak", m.noiseStreak))
	} else {
		m.noiseStreak = 0
	}

	if m.noiseStreak >= m.config.NoiseStreak {
		if _, err := m.blocker.Activate(ctx, "auto:desktop-noise", DesktopDeviceID, nil); err != nil {
			m.logger.Error("desktop-triggered block activation failed", zap.Error(err))
			return
		}
		m.noiseStreak = 0
	}
}
