package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/effctx/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	resident, total atomic.Uint64
	err             error
}

func newFakeSampler(resident, total uint64) *fakeSampler {
	p := &fakeSampler{}
	p.resident.Store(resident)
	p.total.Store(total)
	return p
}

func (p *fakeSampler) Sample(context.Context) (uint64, uint64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	return p.resident.Load(), p.total.Load(), nil
}

func TestNew_InvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{TargetUsagePercent: 0},
		{TargetUsagePercent: 101},
		{TargetUsagePercent: 80, MonitorInterval: -time.Second},
	} {
		_, err := New(cfg, nil)
		assert.True(t, errs.IsConfiguration(err), "%+v", cfg)
	}
}

func TestSnapshot(t *testing.T) {
	b, err := New(Config{TargetUsagePercent: 80}, newFakeSampler(300, 1000))
	require.NoError(t, err)
	snap, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(300), snap.ProcessResidentBytes)
	assert.InDelta(t, 30.0, snap.UsagePercent, 1e-9)
	assert.Equal(t, uint64(500), snap.AvailableHeadroom)
	assert.False(t, snap.OverTarget())
	assert.False(t, snap.TakenAt.IsZero())
	assert.Equal(t, snap, b.Last())

	over, _ := New(Config{TargetUsagePercent: 20}, newFakeSampler(300, 1000))
	snap, _ = over.Snapshot(context.Background())
	assert.Zero(t, snap.AvailableHeadroom)
	assert.True(t, snap.OverTarget())
	assert.True(t, over.UnderPressure(context.Background()))
}

func TestSnapshot_SamplerError(t *testing.T) {
	p := newFakeSampler(0, 0)
	p.err = errors.New("no procfs")
	b, _ := New(Config{TargetUsagePercent: 80}, p)
	_, err := b.Snapshot(context.Background())
	assert.Error(t, err)
	assert.False(t, b.UnderPressure(context.Background()))
}

func TestOptimize_NestsAndRestoresOnce(t *testing.T) {
	b, _ := New(Config{TargetUsagePercent: 80}, newFakeSampler(1, 10))
	outer := b.Optimize()
	inner := b.Optimize()
	assert.True(t, b.Optimized())
	inner()
	inner()
	assert.True(t, b.Optimized(), "double restore must not release the outer hold")
	outer()
	assert.False(t, b.Optimized())
}

func TestScoped_RestoresOnErrorAndPanic(t *testing.T) {
	b, _ := New(Config{TargetUsagePercent: 80}, newFakeSampler(1, 10))
	boom := errors.New("boom")
	err := b.Scoped(context.Background(), func(context.Context) error {
		assert.True(t, b.Optimized())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.Optimized())

	assert.Panics(t, func() {
		_ = b.Scoped(context.Background(), func(context.Context) error { panic("kaboom") })
	})
	assert.False(t, b.Optimized())
}

func TestBatchSize(t *testing.T) {
	p := newFakeSampler(100, 1000)
	b, _ := New(Config{TargetUsagePercent: 50}, p)
	assert.Equal(t, 32, b.BatchSize(32), "no gating outside optimized mode")

	restore := b.Optimize()
	defer restore()
	_, _ = b.Snapshot(context.Background())
	assert.Equal(t, 16, b.BatchSize(32))
	assert.Equal(t, 1, b.BatchSize(1))

	p.resident.Store(900)
	_, _ = b.Snapshot(context.Background())
	assert.Equal(t, 1, b.BatchSize(32))
}

func TestRelieve(t *testing.T) {
	b, _ := New(Config{TargetUsagePercent: 80, AggressiveCleanup: true}, newFakeSampler(1, 10))
	var calls int
	b.RegisterReleaser(func() { calls++ })
	b.RegisterReleaser(nil)
	b.Relieve()
	assert.Equal(t, 1, calls)
}

func TestMonitor_RelievesUnderPressureWhileOptimized(t *testing.T) {
	b, _ := New(Config{TargetUsagePercent: 10, MonitorInterval: 5 * time.Millisecond}, newFakeSampler(500, 1000))
	var calls atomic.Int32
	b.RegisterReleaser(func() { calls.Add(1) })
	restore := b.Optimize()
	defer restore()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Monitor(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestMonitor_Disabled(t *testing.T) {
	b, _ := New(Config{TargetUsagePercent: 80}, newFakeSampler(1, 10))
	b.Monitor(context.Background())
}

func TestNilBudgeter(t *testing.T) {
	var b *Budgeter
	restore := b.Optimize()
	restore()
	assert.False(t, b.Optimized())
	assert.False(t, b.UnderPressure(context.Background()))
	assert.Equal(t, 8, b.BatchSize(8))
	b.RegisterReleaser(func() {})
	b.Relieve()
	_, err := b.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, b.Scoped(context.Background(), func(context.Context) error { return nil }))
}

func TestProcessSampler(t *testing.T) {
	resident, total, err := NewProcessSampler().Sample(context.Background())
	if err != nil {
		t.Skipf("memory telemetry unavailable: %v", err)
	}
	assert.Positive(t, resident)
	assert.GreaterOrEqual(t, total, resident)
}
