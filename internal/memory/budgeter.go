// Package memory tracks process memory against a usage target and signals pressure to the
// pipeline. It is advisory: components consult it, it owns none of their data.
package memory

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hyperjump/effctx/internal/errs"
	"github.com/hyperjump/effctx/internal/models"
	"go.uber.org/zap"
)

// Config holds budgeter parameters.
type Config struct {
	// TargetUsagePercent is the share of system memory the process should stay under.
	TargetUsagePercent float64
	// AggressiveCleanup returns freed memory to the OS when relieving pressure.
	AggressiveCleanup bool
	// MonitorInterval is the sampling period of Monitor; 0 disables monitoring.
	MonitorInterval time.Duration
}

// Validate rejects invalid parameters.
func (c Config) Validate() error {
	if c.TargetUsagePercent <= 0 || c.TargetUsagePercent > 100 {
		return errs.Configf("memory", "target_usage_percent", "must lie in (0, 100], got %g", c.TargetUsagePercent)
	}
	if c.MonitorInterval < 0 {
		return errs.Configf("memory", "memory_monitor_interval", "cannot be negative, got %s", c.MonitorInterval)
	}
	return nil
}

// Budgeter reports memory snapshots and holds the optimized-mode guard. A nil *Budgeter is
// valid and never signals pressure.
type Budgeter struct {
	cfg       Config
	sampler   Sampler
	logger    *zap.Logger
	mu        sync.Mutex
	depth     int
	releasers []func()
	last      models.MemorySnapshot
}

// Option configures a Budgeter.
type Option func(*Budgeter)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(b *Budgeter) { b.logger = l }
}

// New creates a budgeter. A nil sampler samples the current process.
func New(cfg Config, sampler Sampler, opts ...Option) (*Budgeter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		sampler = NewProcessSampler()
	}
	b := &Budgeter{cfg: cfg, sampler: sampler, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Snapshot samples memory now.
func (b *Budgeter) Snapshot(ctx context.Context) (models.MemorySnapshot, error) {
	if b == nil {
		return models.MemorySnapshot{TakenAt: time.Now()}, nil
	}
	resident, total, err := b.sampler.Sample(ctx)
	if err != nil {
		return models.MemorySnapshot{}, fmt.Errorf("sample memory: %w", err)
	}
	snap := models.MemorySnapshot{
		ProcessResidentBytes: resident,
		TotalBytes:           total,
		TargetUsagePercent:   b.cfg.TargetUsagePercent,
		TakenAt:              time.Now(),
	}
	if total > 0 {
		snap.UsagePercent = float64(resident) / float64(total) * 100
		budget := uint64(float64(total) * b.cfg.TargetUsagePercent / 100)
		if budget > resident {
			snap.AvailableHeadroom = budget - resident
		}
	}
	b.mu.Lock()
	snap.Optimized = b.depth > 0
	b.last = snap
	b.mu.Unlock()
	return snap, nil
}

// Last returns the most recent snapshot without sampling.
func (b *Budgeter) Last() models.MemorySnapshot {
	if b == nil {
		return models.MemorySnapshot{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Optimize enters optimized mode and returns the func that leaves it. Calls nest; the mode
// ends when every acquisition has been restored. Calling a restore func twice is a no-op.
func (b *Budgeter) Optimize() (restore func()) {
	if b == nil {
		return func() {}
	}
	b.mu.Lock()
	b.depth++
	if b.depth == 1 {
		b.logger.Debug("entered optimized memory mode")
	}
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.depth--
			if b.depth == 0 {
				b.logger.Debug("left optimized memory mode")
			}
			b.mu.Unlock()
		})
	}
}

// Scoped runs fn in optimized mode, restoring normal mode when fn returns or panics.
func (b *Budgeter) Scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	restore := b.Optimize()
	defer restore()
	return fn(ctx)
}

// Optimized reports whether optimized mode is held.
func (b *Budgeter) Optimized() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth > 0
}

// UnderPressure samples memory and reports whether the process is over its target.
// Sampling failures report no pressure.
func (b *Budgeter) UnderPressure(ctx context.Context) bool {
	if b == nil {
		return false
	}
	snap, err := b.Snapshot(ctx)
	if err != nil {
		b.logger.Debug("memory sample failed", zap.Error(err))
		return false
	}
	return snap.OverTarget()
}

// BatchSize scales a batch size: halved in optimized mode and 1 when the last snapshot was
// over target. Outside optimized mode n is returned unchanged.
func (b *Budgeter) BatchSize(n int) int {
	if !b.Optimized() {
		return n
	}
	if b.Last().OverTarget() {
		return 1
	}
	return max(n/2, 1)
}

// RegisterReleaser adds a func that drops transient buffers, run by Relieve.
func (b *Budgeter) RegisterReleaser(f func()) {
	if b == nil || f == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releasers = append(b.releasers, f)
}

// Relieve runs every releaser and, with AggressiveCleanup, returns freed memory to the OS.
func (b *Budgeter) Relieve() {
	if b == nil {
		return
	}
	b.mu.Lock()
	releasers := append([]func(){}, b.releasers...)
	b.mu.Unlock()
	for _, f := range releasers {
		f()
	}
	if b.cfg.AggressiveCleanup {
		debug.FreeOSMemory()
	}
	b.logger.Debug("relieved memory pressure", zap.Int("releasers", len(releasers)))
}

// Monitor samples memory every MonitorInterval until ctx is done, relieving pressure while in
// optimized mode. It returns immediately when monitoring is disabled.
func (b *Budgeter) Monitor(ctx context.Context) {
	if b == nil || b.cfg.MonitorInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.UnderPressure(ctx) && b.Optimized() {
				b.Relieve()
			}
		}
	}
}
