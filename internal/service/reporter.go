package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keen-oracle/internal/feed"
	"keen-oracle/internal/oracle"
	"keen-oracle/internal/wallet"
)

// Reporter makes this process act as an oracle: each epoch it fetches a
// reference price per pair and submits it under the configured wallet.
type Reporter struct {
	svc      *Service
	source   feed.PriceSource
	identity wallet.Provider
	pairs    []string
	stake    decimal.Decimal
	pool     pond.Pool
	logger   zerolog.Logger
}

// NewReporter builds a reporter fetching with up to workers concurrent requests.
func NewReporter(svc *Service, source feed.PriceSource, identity wallet.Provider, pairs []string, stake decimal.Decimal, workers int, logger zerolog.Logger) *Reporter {
	if workers <= 0 {
		workers = 1
	}
	normalized := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p = oracle.NormalizePair(p); p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Reporter{
		svc:      svc,
		source:   source,
		identity: identity,
		pairs:    normalized,
		stake:    stake,
		pool:     pond.NewPool(workers, pond.WithQueueSize(len(normalized)*2+1)),
		logger:   logger.With().Str("component", "reporter").Str("source", source.Name()).Logger(),
	}
}

// EnsureRegistered registers the reporting identity when it is not yet an oracle.
func (r *Reporter) EnsureRegistered(ctx context.Context) error {
	ctx, err := r.withIdentity(ctx)
	if err != nil {
		return err
	}
	tx, rec, err := r.svc.Register(ctx, r.stake)
	switch {
	case errors.Is(err, oracle.ErrAlreadyRegistered):
		return nil
	case err != nil:
		return err
	}
	r.logger.Info().Str("tx", string(tx)).Str("oracle", string(rec.Address)).Msg("reporter registered")
	return nil
}

// ReportEpoch fetches all pairs concurrently, then submits the successful quotes.
func (r *Reporter) ReportEpoch(ctx context.Context, epochStart time.Time) error {
	ctx, err := r.withIdentity(ctx)
	if err != nil {
		return err
	}

	quotes := make([]feed.Quote, len(r.pairs))
	fetchErrs := make([]error, len(r.pairs))

	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, pair := range r.pairs {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				fetchErrs[i] = err
				return
			}
			quotes[i], fetchErrs[i] = r.source.FetchPrice(groupCtx, pair)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn().Err(err).Time("epoch_start", epochStart).Msg("parallel price fetch encountered error")
	}

	var errs []error
	for i, pair := range r.pairs {
		if err := fetchErrs[i]; err != nil {
			r.svc.metrics.ReporterFetches.WithLabelValues(r.source.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("fetch %s: %w", pair, err))
			continue
		}
		r.svc.metrics.ReporterFetches.WithLabelValues(r.source.Name(), "ok").Inc()

		tx, sub, err := r.svc.SubmitPrice(ctx, pair, quotes[i].Price)
		if err != nil {
			errs = append(errs, fmt.Errorf("submit %s: %w", pair, err))
			continue
		}
		r.logger.Debug().
			Str("tx", string(tx)).
			Str("pair", sub.Pair).
			Str("price", sub.Price.String()).
			Msg("reference price reported")
	}
	return errors.Join(errs...)
}

// withIdentity attaches the reporting address so the service acts on its behalf.
func (r *Reporter) withIdentity(ctx context.Context) (context.Context, error) {
	addr, err := r.identity.CurrentIdentity(ctx)
	if err != nil {
		return ctx, fmt.Errorf("reporter identity: %w", err)
	}
	return wallet.WithIdentity(ctx, addr), nil
}

// Close stops the worker pool.
func (r *Reporter) Close() {
	r.pool.StopAndWait()
}
