// Package checkpoint drives the fuzzy checkpoint cycle. A cycle walks the
// phases REST, PREPARE, RESOLVE, CAPTURE, COMPLETE and back to REST, logging
// every transition to the write-ahead log before it becomes visible, and
// waiting at each barrier until no older transaction is still running.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sushant-115/gojokv/core/transaction"
	"github.com/sushant-115/gojokv/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultPollInterval       = time.Millisecond
	DefaultSlowBarrierWarning = 5 * time.Second
)

// PhaseLogger durably records phase transitions. The WAL writer satisfies it.
type PhaseLogger interface {
	Append(entries ...wal.LogEntry) error
}

// Target is the store being checkpointed.
type Target interface {
	// SaveCheckpoint writes the snapshot. It is called during CAPTURE.
	SaveCheckpoint(ctx context.Context) error
	// PostCheckpoint drops per-cycle bookkeeping. It is called before the
	// return to REST.
	PostCheckpoint()
}

// Options configures a Checkpointer.
type Options struct {
	// Interval between background cycles. Zero disables the background loop.
	Interval time.Duration
	// PollInterval is the barrier wait re-check interval.
	PollInterval time.Duration
	// SlowBarrierWarning is how often a still-blocked barrier wait is logged.
	SlowBarrierWarning time.Duration
	Metrics            *internaltelemetry.StoreMetrics
	Tracer             trace.Tracer
	// OnTransition, if set, is called after every in-memory phase flip.
	OnTransition func(PhaseState)
}

// Checkpointer owns the PhaseCell and runs checkpoint cycles.
type Checkpointer struct {
	table  *transaction.TransactionTable
	cell   *PhaseCell
	log    PhaseLogger
	target Target
	opts   Options
	logger *zap.Logger

	runMu sync.Mutex // one cycle at a time

	loopMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCheckpointer(table *transaction.TransactionTable, cell *PhaseCell, log PhaseLogger, target Target, opts Options, logger *zap.Logger) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SlowBarrierWarning <= 0 {
		opts.SlowBarrierWarning = DefaultSlowBarrierWarning
	}
	if opts.Metrics == nil {
		opts.Metrics = internaltelemetry.NewNoopStoreMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	return &Checkpointer{
		table:  table,
		cell:   cell,
		log:    log,
		target: target,
		opts:   opts,
		logger: logger.Named("checkpoint"),
	}
}

// Cell returns the phase cell transactions read.
func (c *Checkpointer) Cell() *PhaseCell { return c.cell }

// RunCycle runs one checkpoint cycle and returns once the phase is back at
// REST. If an earlier cycle was interrupted the remaining phases of that
// cycle are completed instead. A capture failure does not stop the cycle: the
// phases still advance to REST and the capture error is returned.
func (c *Checkpointer) RunCycle(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	cycleID := uuid.New()
	ctx, span := c.opts.Tracer.Start(ctx, "checkpoint.cycle",
		trace.WithAttributes(attribute.String("cycle_id", cycleID.String())))
	defer span.End()

	logger := c.logger.With(zap.String("cycle_id", cycleID.String()))
	start := time.Now()
	current := c.cell.Load()
	resumed := current.Phase != transaction.PhaseRest
	if resumed {
		logger.Warn("Resuming interrupted checkpoint cycle", zap.Stringer("phase", current.Phase))
		// The barrier wait of the interrupted phase may not have finished.
		switch current.Phase {
		case transaction.PhasePrepare, transaction.PhaseResolve, transaction.PhaseComplete:
			if err := c.waitBarrier(ctx, current, logger); err != nil {
				c.recordCycle(ctx, "failed")
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
		}
	} else {
		logger.Info("Checkpoint cycle started")
	}

	var captureErr error
	for {
		next := c.cell.Phase().Next()
		err := c.step(ctx, next, logger)
		if err != nil && next == transaction.PhaseCapture && c.cell.Phase() == transaction.PhaseCapture {
			// The flip happened; only the snapshot failed. Keep walking.
			captureErr = err
			err = nil
		}
		if err != nil {
			c.recordCycle(ctx, "failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Checkpoint cycle stopped", zap.Stringer("phase", c.cell.Phase()), zap.Error(err))
			return err
		}
		if next == transaction.PhaseRest {
			break
		}
	}

	if captureErr != nil {
		c.recordCycle(ctx, "failed")
		span.RecordError(captureErr)
		span.SetStatus(codes.Error, captureErr.Error())
		logger.Error("Checkpoint capture failed", zap.Duration("duration", time.Since(start)), zap.Error(captureErr))
		return fmt.Errorf("checkpoint capture: %w", captureErr)
	}
	c.recordCycle(ctx, "completed")
	logger.Info("Checkpoint cycle completed", zap.Duration("duration", time.Since(start)), zap.Bool("resumed", resumed))
	return nil
}

// step performs the transition into next and the work that phase requires.
func (c *Checkpointer) step(ctx context.Context, next transaction.CheckpointPhase, logger *zap.Logger) error {
	ctx, span := c.opts.Tracer.Start(ctx, "checkpoint.phase."+next.String())
	defer span.End()

	switch next {
	case transaction.PhasePrepare, transaction.PhaseResolve, transaction.PhaseComplete:
		state, err := c.transition(ctx, next, true)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("barrier", int64(state.Barrier)))
		return c.waitBarrier(ctx, state, logger)

	case transaction.PhaseCapture:
		if _, err := c.transition(ctx, next, false); err != nil {
			return err
		}
		if err := c.target.SaveCheckpoint(ctx); err != nil {
			span.RecordError(err)
			return err
		}
		return nil

	case transaction.PhaseRest:
		c.target.PostCheckpoint()
		_, err := c.transition(ctx, next, false)
		return err
	}
	return fmt.Errorf("invalid checkpoint phase %s", next)
}

// transition logs CPhase durably and only then flips the in-memory phase.
func (c *Checkpointer) transition(ctx context.Context, next transaction.CheckpointPhase, stamp bool) (PhaseState, error) {
	if err := c.log.Append(wal.CPhase{Phase: next}); err != nil {
		return PhaseState{}, fmt.Errorf("log phase %s: %w", next, err)
	}
	state := c.cell.advance(next, c.table, stamp)

	c.opts.Metrics.PhaseTransitionsCounter.Add(ctx, 1,
		metric.WithAttributes(internaltelemetry.PhaseKey.String(next.String())))
	c.logger.Debug("Checkpoint phase changed",
		zap.Stringer("phase", next),
		zap.Uint64("barrier", uint64(state.Barrier)),
		zap.Uint64("cycle", state.Cycle))
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(state)
	}
	return state, nil
}

// waitBarrier blocks until every transaction older than the barrier has
// ended. It never times out; a slow wait is only reported.
func (c *Checkpointer) waitBarrier(ctx context.Context, state PhaseState, logger *zap.Logger) error {
	start := time.Now()
	warn := &rate.Sometimes{Interval: c.opts.SlowBarrierWarning}

	err := c.table.WaitQuiescent(ctx, state.Barrier, c.opts.PollInterval, func(oldest transaction.Xid) {
		waited := time.Since(start)
		if waited < c.opts.SlowBarrierWarning {
			return
		}
		warn.Do(func() {
			logger.Warn("Checkpoint barrier still waiting on older transactions",
				zap.Stringer("phase", state.Phase),
				zap.Uint64("barrier", uint64(state.Barrier)),
				zap.Uint64("oldest_active", uint64(oldest)),
				zap.Duration("waited", waited))
		})
	})
	c.opts.Metrics.BarrierWaitHistogram.Record(ctx, time.Since(start).Milliseconds(),
		metric.WithAttributes(internaltelemetry.PhaseKey.String(state.Phase.String())))
	if err != nil {
		return fmt.Errorf("wait for %s barrier %d: %w", state.Phase, state.Barrier, err)
	}
	return nil
}

func (c *Checkpointer) recordCycle(ctx context.Context, outcome string) {
	c.opts.Metrics.CheckpointCyclesCounter.Add(ctx, 1,
		metric.WithAttributes(internaltelemetry.OutcomeKey.String(outcome)))
}

// TriggerNow runs a cycle out of band. It waits for a running cycle to
// finish first.
func (c *Checkpointer) TriggerNow(ctx context.Context) error {
	return c.RunCycle(ctx)
}

// Start launches the background loop that runs a cycle every Interval.
func (c *Checkpointer) Start(ctx context.Context) {
	if c.opts.Interval <= 0 {
		return
	}
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Error("Background checkpoint failed", zap.Error(err))
				}
			}
		}
	}()
	c.logger.Info("Checkpointer started", zap.Duration("interval", c.opts.Interval))
}

// Stop cancels the background loop and waits for it to exit. An in-flight
// cycle blocked at a barrier is abandoned at its current phase.
func (c *Checkpointer) Stop() {
	c.loopMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.logger.Info("Checkpointer stopped")
}
