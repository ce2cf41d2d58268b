package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"keen-oracle/internal/oracle"
	"keen-oracle/internal/scheduler"
	"keen-oracle/internal/storage"
)

// Task is an extra long-running component started alongside the schedulers,
// such as the HTTP server.
type Task func(ctx context.Context) error

// Runner drives end-of-epoch aggregation and the optional reporter.
type Runner struct {
	svc        *Service
	aggregator *scheduler.Scheduler
	pairs      []string
	reporter   *Reporter
	reportSchd *scheduler.Scheduler
	tasks      []Task
	locker     storage.AdvisoryLocker
	lockKey    int64
	logger     zerolog.Logger
}

// RunnerOptions configure a Runner. Nil schedulers disable their loop.
type RunnerOptions struct {
	Aggregator      *scheduler.Scheduler
	Pairs           []string
	Reporter        *Reporter
	ReportScheduler *scheduler.Scheduler
	Tasks           []Task
	Locker          storage.AdvisoryLocker
	LockKey         int64
}

// NewRunner wires the schedulers around svc.
func NewRunner(svc *Service, opts RunnerOptions, logger zerolog.Logger) *Runner {
	pairs := make([]string, 0, len(opts.Pairs))
	for _, p := range opts.Pairs {
		if p = oracle.NormalizePair(p); p != "" {
			pairs = append(pairs, p)
		}
	}
	return &Runner{
		svc:        svc,
		aggregator: opts.Aggregator,
		pairs:      pairs,
		reporter:   opts.Reporter,
		reportSchd: opts.ReportScheduler,
		tasks:      opts.Tasks,
		locker:     opts.Locker,
		lockKey:    opts.LockKey,
		logger:     logger.With().Str("component", "runner").Logger(),
	}
}

// Run blocks until ctx is cancelled or a component fails.
func (r *Runner) Run(ctx context.Context) error {
	reporting := r.reporter != nil && r.reportSchd != nil
	if reporting {
		if err := r.reporter.EnsureRegistered(ctx); err != nil {
			return fmt.Errorf("register reporter: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.aggregator != nil {
		g.Go(func() error {
			return ignoreCanceled(r.aggregator.Run(gctx, r.AggregateEpoch))
		})
	}
	if reporting {
		g.Go(func() error {
			return ignoreCanceled(r.reportSchd.Run(gctx, r.reporter.ReportEpoch))
		})
	}
	for _, task := range r.tasks {
		g.Go(func() error {
			return ignoreCanceled(task(gctx))
		})
	}

	return g.Wait()
}

// AggregateEpoch aggregates every configured pair for the epoch that is
// about to close.
func (r *Runner) AggregateEpoch(ctx context.Context, epochStart time.Time) error {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Debug().Time("epoch_start", epochStart).Msg("skip aggregation because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	params := r.svc.Params()
	current := r.svc.EpochStatus().Epoch
	if want := oracle.EpochOf(epochStart, params.EpochDuration); want != current {
		r.logger.Warn().
			Int64("scheduled_epoch", want).
			Int64("current_epoch", current).
			Msg("aggregation tick fired outside its epoch")
	}

	var errs []error
	for _, pair := range r.pairs {
		report, err := r.svc.Aggregate(ctx, pair, "")
		switch {
		case errors.Is(err, oracle.ErrNoSubmissions), errors.Is(err, oracle.ErrNoEligibleSubmissions):
			r.logger.Debug().Str("pair", pair).Int64("epoch", current).Msg("nothing to aggregate")
		case err != nil:
			errs = append(errs, fmt.Errorf("aggregate %s: %w", pair, err))
		default:
			r.logger.Debug().Str("pair", pair).Str("tx", string(report.TxID)).Msg("scheduled aggregation done")
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
