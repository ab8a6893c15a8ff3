// Package blocker owns the hosts-file blocking state machine.
// All transitions are serialized by a single mutex: a manual dashboard
// action and an automatic distraction trigger can race, and no two
// activate/deactivate calls may interleave their backup/write steps.
package blocker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/domain"
)

// Blocker cycles Inactive -> Active -> Inactive. Every transition to
// Active produces a hosts backup first; deactivation restores from that
// backup rather than un-appending lines, so concurrent external edits
// cannot corrupt the file.
type Blocker struct {
	mu      sync.Mutex
	state   domain.BlockState
	hosts   domain.HostsFile
	backups domain.BackupStore
	history domain.HistoryStore
	domains []string
	timer   *time.Timer
	now     func() time.Time
	logger  *zap.Logger
}

// New creates an inactive blocker for the configured domain list.
func New(hosts domain.HostsFile, backups domain.BackupStore, history domain.HistoryStore, domains []string, logger *zap.Logger) *Blocker {
	return &Blocker{
		state:   domain.BlockState{Phase: domain.BlockInactive},
		hosts:   hosts,
		backups: backups,
		history: history,
		domains: domains,
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock overrides the clock (for tests).
func (b *Blocker) WithClock(now func() time.Time) *Blocker {
	b.now = now
	return b
}

// State returns a copy of the current block state.
func (b *Blocker) State() domain.BlockState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Activate transitions to Active. Calling it while already Active is a
// no-op returning the existing session. On any failure before the hosts
// file is replaced, no state transition occurs and the original file is
// left untouched.
func (b *Blocker) Activate(ctx context.Context, reason, triggeredBy string, expiry *time.Time) (domain.BlockState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Phase == domain.BlockActive {
		return b.state, nil
	}

	current, err := b.hosts.Read()
	if err != nil {
		return b.state, err
	}

	backupPath, err := b.backups.Create(current)
	if err != nil {
		return b.state, err
	}

	blocked := appendManagedBlock(current, b.domains)
	if err := b.hosts.Replace(blocked); err != nil {
		return b.state, err
	}

	now := b.now()
	b.appendHistory(ctx, domain.ActionActivate, reason, triggeredBy)

	b.state = domain.BlockState{
		Phase:       domain.BlockActive,
		Reason:      reason,
		ActivatedAt: now,
		ExpiresAt:   expiry,
		BackupPath:  backupPath,
	}

	// The most recent explicit action is authoritative: a fresh session
	// replaces any timer a superseded session may have left behind.
	b.cancelTimer()
	if expiry != nil {
		delay := expiry.Sub(now)
		if delay < 0 {
			delay = 0
		}
		b.timer = time.AfterFunc(delay, b.expire)
	}

	b.logger.Info("hosts blocking activated",
		zap.String("reason", reason),
		zap.String("triggered_by", triggeredBy),
		zap.Int("domains", len(b.domains)),
		zap.String("backup", backupPath))

	return b.state, nil
}

// Deactivate restores the hosts file from the active session's backup
// and transitions to Inactive. Calling it while Inactive is a no-op.
// A failed restore leaves state Active: staying blocked is the safer
// default, and the operator is told to intervene.
func (b *Blocker) Deactivate(ctx context.Context, reason, triggeredBy string) (domain.BlockState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Phase == domain.BlockInactive {
		return b.state, nil
	}

	pristine, err := b.backups.Read(b.state.BackupPath)
	if err != nil {
		b.logger.Error("cannot read backup, staying blocked; manual intervention required",
			zap.String("backup", b.state.BackupPath),
			zap.Error(err))
		return b.state, err
	}

	if err := b.hosts.Replace(pristine); err != nil {
		b.logger.Error("hosts restore failed, staying blocked; manual intervention required",
			zap.Error(err))
		return b.state, err
	}

	b.cancelTimer()
	b.appendHistory(ctx, domain.ActionDeactivate, reason, triggeredBy)
	b.state = domain.BlockState{Phase: domain.BlockInactive}

	b.logger.Info("hosts blocking deactivated",
		zap.String("reason", reason),
		zap.String("triggered_by", triggeredBy))

	return b.state, nil
}

// expire is the scheduler callback for automatic expiry. By the time it
// fires the session may already have been superseded; Deactivate's
// no-op-when-inactive handles that.
func (b *Blocker) expire() {
	if _, err := b.Deactivate(context.Background(), "expiry", "scheduler"); err != nil {
		b.logger.Error("automatic expiry deactivation failed", zap.Error(err))
	}
}

func (b *Blocker) cancelTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// appendHistory records the transition. The hosts file is the source of
// truth; a failed audit write is logged but does not roll back an
// already-applied transition.
func (b *Blocker) appendHistory(ctx context.Context, action domain.BlockAction, reason, triggeredBy string) {
	rec := domain.BlockHistoryRecord{
		ID:          uuid.NewString(),
		Timestamp:   b.now(),
		Action:      action,
		Reason:      reason,
		TriggeredBy: triggeredBy,
	}
	if err := b.history.Append(ctx, rec); err != nil {
		b.logger.Error("failed to append block history record", zap.Error(err))
	}
}
