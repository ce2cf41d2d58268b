package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"keen-oracle/internal/alerting"
	"keen-oracle/internal/events"
	"keen-oracle/internal/metrics"
	"keen-oracle/internal/oracle"
	"keen-oracle/internal/storage"
	"keen-oracle/internal/wallet"
)

// Options wires the collaborators of a Service. Only Params and Wallet are
// required; the rest default to no-op implementations.
type Options struct {
	Params     oracle.Params
	Repository *storage.StateRepository
	Wallet     wallet.Provider
	Notifier   alerting.Notifier
	Channels   []string
	Publisher  events.Publisher
	Metrics    *metrics.Metrics
	Clock      func() time.Time
}

// Service owns one engine instance and implements the operation set used by
// the CLI and HTTP layers.
type Service struct {
	params   oracle.Params
	registry *oracle.Registry
	log      *oracle.SubmissionLog
	ledger   *oracle.DisputeLedger

	aggregations *xsync.Map[string, oracle.AggregationResult]
	shortMap     *xsync.Map[string, oracle.Address]

	// batch is held exclusively by aggregation and shared by the other writes.
	batch   sync.RWMutex
	flushMu sync.Mutex

	repo      *storage.StateRepository
	wallet    wallet.Provider
	notifier  alerting.Notifier
	channels  []string
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger

	txSeq atomic.Uint64
}

// New constructs the engine service.
func New(opts Options, logger zerolog.Logger) (*Service, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("engine params: %w", err)
	}
	if opts.Wallet == nil {
		return nil, errors.New("wallet provider is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = alerting.Nop{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	registry := oracle.NewRegistry(opts.Params)
	return &Service{
		params:       opts.Params,
		registry:     registry,
		log:          oracle.NewSubmissionLog(registry, opts.Params),
		ledger:       oracle.NewDisputeLedger(opts.Params),
		aggregations: xsync.NewMap[string, oracle.AggregationResult](),
		shortMap:     xsync.NewMap[string, oracle.Address](),
		repo:         opts.Repository,
		wallet:       opts.Wallet,
		notifier:     opts.Notifier,
		channels:     opts.Channels,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		now:          opts.Clock,
		logger:       logger.With().Str("component", "service").Logger(),
	}, nil
}

// Params returns the engine constants in use.
func (s *Service) Params() oracle.Params {
	return s.params
}

// Register enrols the caller as an oracle with the given stake.
func (s *Service) Register(ctx context.Context, stake decimal.Decimal) (TxID, oracle.OracleRecord, error) {
	addr, err := s.identity(ctx, "register")
	if err != nil {
		return "", oracle.OracleRecord{}, err
	}

	s.batch.RLock()
	rec, err := s.registry.Register(addr, stake, s.now())
	if err == nil {
		s.shortMap.Store(addr.Short(), addr)
		s.flush(ctx)
	}
	s.batch.RUnlock()
	if err != nil {
		s.reject("register", err)
		return "", oracle.OracleRecord{}, err
	}

	tx := s.newTxID(KindRegistration, addr)
	s.metrics.RegisteredOracles.Set(float64(s.registry.Len()))
	s.logger.Info().
		Str("tx", string(tx)).
		Str("oracle", string(addr)).
		Str("stake", stake.String()).
		Msg("oracle registered")
	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeRegistered,
		TxID:       string(tx),
		Oracle:     string(addr),
		OccurredAt: rec.RegisteredAt,
		Data:       rec,
	})
	return tx, rec, nil
}

// SubmitPrice records the caller's observation for pair in the current epoch.
func (s *Service) SubmitPrice(ctx context.Context, pair string, price decimal.Decimal) (TxID, oracle.Submission, error) {
	addr, err := s.identity(ctx, "submit")
	if err != nil {
		return "", oracle.Submission{}, err
	}

	s.batch.RLock()
	sub, err := s.log.Record(addr, pair, price, s.now())
	if err == nil {
		s.shortMap.Store(addr.Short(), addr)
		s.flush(ctx)
	}
	s.batch.RUnlock()
	if err != nil {
		s.reject("submit", err)
		return "", oracle.Submission{}, err
	}

	tx := s.newTxID(KindSubmission, addr)
	epoch := oracle.EpochOf(sub.Timestamp, s.params.EpochDuration)
	s.metrics.PriceSubmissions.WithLabelValues(sub.Pair).Inc()
	s.logger.Info().
		Str("tx", string(tx)).
		Str("oracle", string(addr)).
		Str("pair", sub.Pair).
		Str("price", sub.Price.String()).
		Int64("epoch", epoch).
		Msg("price submitted")
	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeSubmitted,
		TxID:       string(tx),
		Pair:       sub.Pair,
		Epoch:      epoch,
		Oracle:     string(addr),
		OccurredAt: sub.Timestamp,
		Data:       sub,
	})
	return tx, sub, nil
}

// GetOracleInfo returns the registration view; unknown addresses yield an
// unregistered zero summary.
func (s *Service) GetOracleInfo(addr oracle.Address) OracleSummary {
	rec, ok := s.registry.Get(addr)
	if !ok {
		return OracleSummary{Address: addr, Stake: decimal.Zero}
	}
	return OracleSummary{
		Address:    addr,
		Reputation: rec.Reputation,
		Stake:      rec.Stake,
		Registered: rec.Registered,
	}
}

// GetOracleStats returns the performance view; unknown addresses yield zeros.
func (s *Service) GetOracleStats(addr oracle.Address) Stats {
	rec, ok := s.registry.Get(addr)
	if !ok {
		return Stats{RewardsEarned: decimal.Zero}
	}
	return Stats{
		Reputation:       rec.Reputation,
		TotalSubmissions: rec.TotalSubmissions,
		RewardsEarned:    rec.RewardsBalance,
		Accuracy:         rec.Accuracy,
	}
}

// WithdrawRewards pays out and zeroes the caller's reward balance.
func (s *Service) WithdrawRewards(ctx context.Context) (TxID, decimal.Decimal, error) {
	addr, err := s.identity(ctx, "withdraw")
	if err != nil {
		return "", decimal.Zero, err
	}

	s.batch.RLock()
	amount, err := s.registry.Withdraw(addr)
	if err == nil {
		s.flush(ctx)
	}
	s.batch.RUnlock()
	if err != nil {
		s.reject("withdraw", err)
		return "", decimal.Zero, err
	}

	tx := s.newTxID(KindWithdrawal, addr)
	amountF, _ := amount.Float64()
	s.metrics.RewardsWithdrawn.Add(amountF)
	s.logger.Info().
		Str("tx", string(tx)).
		Str("oracle", string(addr)).
		Str("amount", amount.String()).
		Msg("rewards withdrawn")
	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeWithdrawn,
		TxID:       string(tx),
		Oracle:     string(addr),
		OccurredAt: s.now().UTC(),
		Data:       map[string]string{"amount": amount.String()},
	})
	return tx, amount, nil
}

// GetCurrentSubmissions lists the pair's current-epoch submissions in
// submission order, weighted by each submitter's present reputation.
func (s *Service) GetCurrentSubmissions(pair string) []SubmissionView {
	subs := s.log.CurrentEpochSubmissions(pair, s.now())
	weighted := oracle.Weigh(subs, s.weightOf)
	if s.params.OutlierTolerancePct > 0 && len(weighted) > 0 {
		if reference, err := oracle.WeightedMedian(weighted); err == nil {
			oracle.MarkOutliers(weighted, reference, s.params.OutlierTolerancePct)
		}
	}

	out := make([]SubmissionView, 0, len(weighted))
	for _, w := range weighted {
		out = append(out, SubmissionView{
			ShortID:   w.Oracle.Short(),
			Oracle:    w.Oracle,
			Price:     w.Price,
			Weight:    w.Weight,
			Status:    w.Status,
			Timestamp: w.Timestamp,
		})
	}
	return out
}

// GetAggregatedPrice returns the latest result for pair, if any.
func (s *Service) GetAggregatedPrice(pair string) (oracle.AggregationResult, bool) {
	return s.aggregations.Load(oracle.NormalizePair(pair))
}

// TriggerAggregation aggregates pair's current epoch on behalf of the caller.
func (s *Service) TriggerAggregation(ctx context.Context, pair string) (TxID, oracle.AggregationResult, error) {
	addr, err := s.identity(ctx, "aggregate")
	if err != nil {
		return "", oracle.AggregationResult{}, err
	}
	report, err := s.Aggregate(ctx, pair, addr)
	if err != nil {
		return "", oracle.AggregationResult{}, err
	}
	return report.TxID, report.Result, nil
}

// Aggregate runs one aggregation batch for pair. The batch holds the write
// side of the gate from reading the epoch's submissions until the updated
// records are persisted. A failed run leaves the previous result in place.
func (s *Service) Aggregate(ctx context.Context, pair string, actor oracle.Address) (AggregationReport, error) {
	pair = oracle.NormalizePair(pair)
	if pair == "" {
		return AggregationReport{}, oracle.ErrInvalidPair
	}

	started := time.Now()
	s.batch.Lock()
	now := s.now()
	subs := s.log.CurrentEpochSubmissions(pair, now)
	weighted := oracle.Weigh(subs, s.weightOf)
	result, entries, err := oracle.Aggregate(pair, weighted, now, s.params)
	if err != nil {
		s.batch.Unlock()
		s.metrics.ObserveAggregationFailure(pair, reasonOf(err))
		s.logger.Warn().Err(err).Str("pair", pair).Msg("aggregation produced no result")
		return AggregationReport{}, err
	}

	contributors := make([]oracle.Submission, 0, result.SourceCount)
	for _, e := range oracle.Included(entries) {
		contributors = append(contributors, e.Submission)
	}
	outcomes := oracle.ApplyRewards(s.registry, result, contributors, s.params, s.logger)
	s.aggregations.Store(result.Pair, result)
	s.flush(ctx)
	s.batch.Unlock()

	tx := s.newTxID(KindAggregation, actor)
	outliers := len(entries) - result.SourceCount
	price, _ := result.Value.Float64()
	s.metrics.ObserveAggregation(result.Pair, price, result.SourceCount, outliers, time.Since(started))

	distributed := decimal.Zero
	for _, o := range outcomes {
		distributed = distributed.Add(o.Reward)
	}
	distributedF, _ := distributed.Float64()
	s.metrics.RewardsDistributed.Add(distributedF)

	s.logger.Info().
		Str("tx", string(tx)).
		Str("pair", result.Pair).
		Int64("epoch", result.Epoch).
		Str("price", result.Value.String()).
		Int("sources", result.SourceCount).
		Int("outliers", outliers).
		Str("distributed", distributed.String()).
		Msg("aggregation completed")

	s.notify(ctx, alerting.Notification{
		Kind:        alerting.KindAggregation,
		Pair:        result.Pair,
		Epoch:       result.Epoch,
		Timestamp:   result.Timestamp,
		Value:       result.Value,
		Confidence:  result.Confidence,
		SourceCount: result.SourceCount,
		Outliers:    outliers,
		Channels:    s.channels,
	})
	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeAggregated,
		TxID:       string(tx),
		Pair:       result.Pair,
		Epoch:      result.Epoch,
		Oracle:     string(actor),
		OccurredAt: result.Timestamp,
		Data:       result,
	})

	return AggregationReport{TxID: tx, Result: result, Entries: entries, Outcomes: outcomes}, nil
}

// SubmitDispute records a pending dispute against a past or current epoch.
func (s *Service) SubmitDispute(ctx context.Context, epochRef, reason string, bond decimal.Decimal) (TxID, oracle.DisputeRecord, error) {
	addr, err := s.identity(ctx, "dispute")
	if err != nil {
		return "", oracle.DisputeRecord{}, err
	}

	s.batch.RLock()
	rec, err := s.ledger.Submit(epochRef, reason, bond, addr, s.now())
	if err == nil {
		s.flush(ctx)
	}
	s.batch.RUnlock()
	if err != nil {
		s.reject("dispute", err)
		return "", oracle.DisputeRecord{}, err
	}

	tx := s.newTxID(KindDispute, addr)
	s.metrics.Disputes.Inc()
	s.logger.Info().
		Str("tx", string(tx)).
		Str("dispute", rec.ID).
		Int64("epoch", rec.Epoch).
		Str("submitter", string(addr)).
		Str("bond", bond.String()).
		Msg("dispute recorded")

	s.notify(ctx, alerting.Notification{
		Kind:      alerting.KindDispute,
		Epoch:     rec.Epoch,
		Timestamp: rec.CreatedAt,
		DisputeID: rec.ID,
		Bond:      rec.Bond,
		Submitter: string(addr),
		Reason:    rec.Reason,
		Channels:  s.channels,
	})
	s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeDisputed,
		TxID:       string(tx),
		Epoch:      rec.Epoch,
		Oracle:     string(addr),
		OccurredAt: rec.CreatedAt,
		Data:       rec,
	})
	return tx, rec, nil
}

// ListOracles returns every record sorted by address.
func (s *Service) ListOracles() []oracle.OracleRecord {
	return s.registry.Snapshot()
}

// ListAggregations returns the latest result of every pair sorted by pair.
func (s *Service) ListAggregations() []oracle.AggregationResult {
	out := make([]oracle.AggregationResult, 0, s.aggregations.Size())
	s.aggregations.Range(func(_ string, res oracle.AggregationResult) bool {
		out = append(out, res)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// ListDisputes returns recorded disputes, oldest first.
func (s *Service) ListDisputes() []oracle.DisputeRecord {
	return s.ledger.List()
}

// SubmissionsByOracle returns one oracle's submission history.
func (s *Service) SubmissionsByOracle(addr oracle.Address) []oracle.Submission {
	return s.log.ByOracle(addr)
}

// History returns pair's submissions with from <= timestamp < to in
// submission order. A blank pair matches every pair.
func (s *Service) History(pair string, from, to time.Time) []oracle.Submission {
	pair = oracle.NormalizePair(pair)
	var out []oracle.Submission
	for _, sub := range s.log.All() {
		if pair != "" && sub.Pair != pair {
			continue
		}
		if sub.Timestamp.Before(from) || !sub.Timestamp.Before(to) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// ResolveShort maps a display address back to the full address.
func (s *Service) ResolveShort(short string) (oracle.Address, bool) {
	return s.shortMap.Load(short)
}

// EpochStatus reports the running epoch and the time left in it.
func (s *Service) EpochStatus() EpochStatus {
	now := s.now().UTC()
	epoch := oracle.EpochOf(now, s.params.EpochDuration)
	start := oracle.EpochStart(epoch, s.params.EpochDuration)
	next := start.Add(s.params.EpochDuration)
	remaining := next.Sub(now)
	return EpochStatus{
		Epoch:         epoch,
		Start:         start,
		NextEpochAt:   next,
		Remaining:     remaining,
		RemainingSecs: remaining.Seconds(),
	}
}

func (s *Service) weightOf(addr oracle.Address) int64 {
	rec, ok := s.registry.Get(addr)
	if !ok {
		return 0
	}
	return rec.Reputation
}

func (s *Service) identity(ctx context.Context, operation string) (oracle.Address, error) {
	addr, err := s.wallet.CurrentIdentity(ctx)
	if err == nil && addr == "" {
		err = wallet.ErrUnavailable
	}
	if err != nil {
		if !errors.Is(err, wallet.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", wallet.ErrUnavailable, err)
		}
		s.reject(operation, err)
		return "", err
	}
	return addr, nil
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).
			Str("kind", string(note.Kind)).
			Int64("epoch", note.Epoch).
			Msg("failed to dispatch notification")
	}
}

func (s *Service) reject(operation string, err error) {
	s.metrics.ObserveRejection(operation, reasonOf(err))
	s.logger.Debug().Err(err).Str("operation", operation).Msg("operation rejected")
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, oracle.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, oracle.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, oracle.ErrNoSubmissions):
		return "no_submissions"
	case errors.Is(err, oracle.ErrNoEligibleSubmissions):
		return "no_eligible_submissions"
	case errors.Is(err, oracle.ErrNoRewardsAvailable):
		return "no_rewards"
	case errors.Is(err, oracle.ErrInvalidBond):
		return "invalid_bond"
	case errors.Is(err, oracle.ErrInvalidEpochReference):
		return "invalid_epoch_reference"
	case errors.Is(err, wallet.ErrUnavailable):
		return "wallet_unavailable"
	case errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrInvalidPair),
		errors.Is(err, oracle.ErrInvalidStake),
		errors.Is(err, oracle.ErrInvalidAddress):
		return "invalid_input"
	default:
		return "error"
	}
}
