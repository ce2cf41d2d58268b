package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"keen-oracle/internal/alerting"
	"keen-oracle/internal/events"
	"keen-oracle/internal/oracle"
	"keen-oracle/internal/storage"
	"keen-oracle/internal/wallet"
)

const (
	addrA = oracle.Address("0xAAAA000000000000000000000000000000000001")
	addrB = oracle.Address("0xBBBB000000000000000000000000000000000002")
)

var testNow = time.Date(2024, 3, 1, 12, 1, 30, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc       *Service
	clock     *testClock
	store     *storage.MemoryStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newFixture(t *testing.T, mutate ...func(*oracle.Params)) *fixture {
	t.Helper()
	params := oracle.DefaultParams()
	for _, m := range mutate {
		m(&params)
	}

	f := &fixture{
		clock:     &testClock{t: testNow},
		store:     storage.NewMemoryStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	svc, err := New(Options{
		Params:     params,
		Repository: storage.NewStateRepository(f.store, ""),
		Wallet:     wallet.NewContext(nil),
		Notifier:   f.notifier,
		Publisher:  f.publisher,
		Clock:      f.clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))
	f.svc = svc
	return f
}

func as(addr oracle.Address) context.Context {
	return wallet.WithIdentity(context.Background(), addr)
}

func (f *fixture) register(t *testing.T, addrs ...oracle.Address) {
	t.Helper()
	for _, a := range addrs {
		_, _, err := f.svc.Register(as(a), decimal.NewFromInt(100))
		require.NoError(t, err)
	}
}

func (f *fixture) submit(t *testing.T, addr oracle.Address, pair string, price int64) {
	t.Helper()
	_, _, err := f.svc.SubmitPrice(as(addr), pair, decimal.NewFromInt(price))
	require.NoError(t, err)
}

func TestAggregationScenario(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA, addrB)
	f.submit(t, addrA, "BTC/USD", 43000)
	f.submit(t, addrB, "BTC/USD", 43500)

	require.Equal(t, int64(102), f.svc.GetOracleStats(addrA).Reputation)

	tx, result, err := f.svc.TriggerAggregation(as(addrA), "btc/usd")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^aggregation_[0-9a-f]{16}$`), string(tx))

	require.True(t, result.Value.Equal(decimal.NewFromInt(43000)))
	require.Equal(t, "BTC/USD", result.Pair)
	require.Equal(t, 95, result.Confidence)
	require.Equal(t, 2, result.SourceCount)
	require.Equal(t, oracle.EpochOf(testNow, 5*time.Minute), result.Epoch)

	a := f.svc.GetOracleStats(addrA)
	require.Equal(t, int64(117), a.Reputation)
	require.InDelta(t, 100.0, a.Accuracy, 1e-9)
	require.True(t, a.RewardsEarned.Equal(decimal.NewFromInt(50)))

	b := f.svc.GetOracleStats(addrB)
	require.Equal(t, int64(107), b.Reputation)
	require.InDelta(t, 99.30, b.Accuracy, 1e-9)
	require.True(t, b.RewardsEarned.Equal(decimal.NewFromInt(50)))

	stored, ok := f.svc.GetAggregatedPrice("BTC/USD")
	require.True(t, ok)
	require.True(t, stored.Value.Equal(result.Value))

	require.Len(t, f.notifier.notes, 1)
	require.Equal(t, alerting.KindAggregation, f.notifier.notes[0].Kind)
	require.Contains(t, f.publisher.types(), events.TypeAggregated)
}

func TestNoSubmissionsKeepsPreviousResult(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA)
	f.submit(t, addrA, "BTC/USD", 43000)

	_, first, err := f.svc.TriggerAggregation(as(addrA), "BTC/USD")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, _, err = f.svc.TriggerAggregation(as(addrA), "BTC/USD")
	require.ErrorIs(t, err, oracle.ErrNoSubmissions)

	latest, ok := f.svc.GetAggregatedPrice("BTC/USD")
	require.True(t, ok)
	require.Equal(t, first.Epoch, latest.Epoch)
	require.True(t, first.Value.Equal(latest.Value))

	_, ok = f.svc.GetAggregatedPrice("ETH/USD")
	require.False(t, ok)
}

func TestWalletUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, decimal.NewFromInt(1))
	require.ErrorIs(t, err, wallet.ErrUnavailable)
	_, _, err = f.svc.SubmitPrice(ctx, "BTC/USD", decimal.NewFromInt(1))
	require.ErrorIs(t, err, wallet.ErrUnavailable)
	_, _, err = f.svc.WithdrawRewards(ctx)
	require.ErrorIs(t, err, wallet.ErrUnavailable)
	_, _, err = f.svc.TriggerAggregation(ctx, "BTC/USD")
	require.ErrorIs(t, err, wallet.ErrUnavailable)
	_, _, err = f.svc.SubmitDispute(ctx, "1", "", decimal.NewFromInt(10))
	require.ErrorIs(t, err, wallet.ErrUnavailable)
}

func TestProviderErrorsBecomeUnavailable(t *testing.T) {
	svc, err := New(Options{
		Params: oracle.DefaultParams(),
		Wallet: wallet.ProviderFunc(func(context.Context) (oracle.Address, error) {
			return "", errors.New("extension locked")
		}),
	}, zerolog.Nop())
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), decimal.NewFromInt(1))
	require.ErrorIs(t, err, wallet.ErrUnavailable)
}

func TestRegisterTwiceKeepsStats(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA)
	f.submit(t, addrA, "BTC/USD", 43000)

	_, _, err := f.svc.Register(as(addrA), decimal.NewFromInt(500))
	require.ErrorIs(t, err, oracle.ErrAlreadyRegistered)

	info := f.svc.GetOracleInfo(addrA)
	require.True(t, info.Registered)
	require.True(t, info.Stake.Equal(decimal.NewFromInt(100)))
	require.Equal(t, int64(102), info.Reputation)
	require.Equal(t, int64(1), f.svc.GetOracleStats(addrA).TotalSubmissions)
}

func TestUnknownAddressViews(t *testing.T) {
	f := newFixture(t)
	info := f.svc.GetOracleInfo("0xnobody")
	require.False(t, info.Registered)
	require.Zero(t, info.Reputation)
	require.True(t, info.Stake.IsZero())

	stats := f.svc.GetOracleStats("0xnobody")
	require.Zero(t, stats.TotalSubmissions)
	require.True(t, stats.RewardsEarned.IsZero())
}

func TestSubmitRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.SubmitPrice(as(addrA), "BTC/USD", decimal.NewFromInt(1))
	require.ErrorIs(t, err, oracle.ErrNotRegistered)
	require.Empty(t, f.svc.GetCurrentSubmissions("BTC/USD"))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA)

	_, _, err := f.svc.WithdrawRewards(as(addrA))
	require.ErrorIs(t, err, oracle.ErrNoRewardsAvailable)

	f.submit(t, addrA, "BTC/USD", 43000)
	_, _, err = f.svc.TriggerAggregation(as(addrA), "BTC/USD")
	require.NoError(t, err)

	tx, amount, err := f.svc.WithdrawRewards(as(addrA))
	require.NoError(t, err)
	require.Regexp(t, `^withdrawal_[0-9a-f]{16}$`, string(tx))
	require.True(t, amount.Equal(decimal.NewFromInt(100)))
	require.True(t, f.svc.GetOracleStats(addrA).RewardsEarned.IsZero())

	_, _, err = f.svc.WithdrawRewards(as(addrA))
	require.ErrorIs(t, err, oracle.ErrNoRewardsAvailable)
}

func TestSubmitDispute(t *testing.T) {
	f := newFixture(t)
	epoch := oracle.EpochOf(testNow, 5*time.Minute)

	_, _, err := f.svc.SubmitDispute(as(addrB), fmt.Sprint(epoch), "bad", decimal.NewFromInt(5))
	require.ErrorIs(t, err, oracle.ErrInvalidBond)

	_, _, err = f.svc.SubmitDispute(as(addrB), fmt.Sprint(epoch+1), "bad", decimal.NewFromInt(10))
	require.ErrorIs(t, err, oracle.ErrInvalidEpochReference)

	tx, rec, err := f.svc.SubmitDispute(as(addrB), fmt.Sprintf("#%d", epoch), "", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Regexp(t, `^dispute_[0-9a-f]{16}$`, string(tx))
	require.Equal(t, oracle.OutcomePending, rec.Outcome)
	require.Equal(t, fmt.Sprintf("Dispute for epoch %d", epoch), rec.Reason)
	require.Equal(t, addrB, rec.Submitter)

	require.Len(t, f.svc.ListDisputes(), 1)
	require.Len(t, f.notifier.notes, 1)
	require.Equal(t, alerting.KindDispute, f.notifier.notes[0].Kind)
}

func TestCurrentSubmissionsView(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA, addrB)
	f.submit(t, addrA, "BTC/USD", 43000)
	f.submit(t, addrB, "BTC/USD", 43500)
	f.submit(t, addrB, "ETH/USD", 2300)

	first := f.svc.GetCurrentSubmissions("BTC/USD")
	require.Equal(t, first, f.svc.GetCurrentSubmissions("BTC/USD"))
	require.Len(t, first, 2)
	require.Equal(t, addrA.Short(), first[0].ShortID)
	require.Equal(t, "0xAAAA...0001", first[0].ShortID)
	require.Equal(t, int64(102), first[0].Weight)
	require.Equal(t, int64(104), first[1].Weight)
	require.Equal(t, oracle.StatusIncluded, first[1].Status)

	full, ok := f.svc.ResolveShort(first[1].ShortID)
	require.True(t, ok)
	require.Equal(t, addrB, full)

	f.clock.Advance(5 * time.Minute)
	require.Empty(t, f.svc.GetCurrentSubmissions("BTC/USD"))
	require.Len(t, f.svc.SubmissionsByOracle(addrB), 2)
}

func TestOutlierToleranceExcludesFromRewards(t *testing.T) {
	const addrC = oracle.Address("0xCCCC000000000000000000000000000000000003")
	f := newFixture(t, func(p *oracle.Params) { p.OutlierTolerancePct = 2.5 })
	f.register(t, addrA, addrB, addrC)
	f.submit(t, addrA, "BTC/USD", 43000)
	f.submit(t, addrB, "BTC/USD", 43100)
	f.submit(t, addrC, "BTC/USD", 50000)

	views := f.svc.GetCurrentSubmissions("BTC/USD")
	require.Equal(t, oracle.StatusOutlier, views[2].Status)

	report, err := f.svc.Aggregate(context.Background(), "BTC/USD", "")
	require.NoError(t, err)
	require.Equal(t, 2, report.Result.SourceCount)
	require.Len(t, report.Outcomes, 2)

	require.True(t, f.svc.GetOracleStats(addrA).RewardsEarned.Equal(decimal.NewFromInt(50)))
	require.True(t, f.svc.GetOracleStats(addrC).RewardsEarned.IsZero())
	require.Equal(t, int64(102), f.svc.GetOracleStats(addrC).Reputation)
}

func TestPersistenceRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA, addrB)
	f.submit(t, addrA, "BTC/USD", 43000)
	f.submit(t, addrB, "BTC/USD", 43500)
	_, _, err := f.svc.TriggerAggregation(as(addrA), "BTC/USD")
	require.NoError(t, err)
	_, _, err = f.svc.SubmitDispute(as(addrB), "1", "why", decimal.NewFromInt(12))
	require.NoError(t, err)

	reloaded, err := New(Options{
		Params:     oracle.DefaultParams(),
		Repository: storage.NewStateRepository(f.store, ""),
		Wallet:     wallet.NewContext(nil),
		Clock:      f.clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(context.Background()))

	before, after := f.svc.ListOracles(), reloaded.ListOracles()
	require.Len(t, after, len(before))
	for i := range before {
		require.Equal(t, before[i].Address, after[i].Address)
		require.Equal(t, before[i].Reputation, after[i].Reputation)
		require.Equal(t, before[i].TotalSubmissions, after[i].TotalSubmissions)
		require.InDelta(t, before[i].Accuracy, after[i].Accuracy, 1e-9)
		require.True(t, before[i].RewardsBalance.Equal(after[i].RewardsBalance))
		require.True(t, before[i].Stake.Equal(after[i].Stake))
		require.True(t, after[i].Registered)
	}

	subs := reloaded.GetCurrentSubmissions("BTC/USD")
	require.Len(t, subs, 2)
	require.True(t, subs[1].Price.Equal(decimal.NewFromInt(43500)))
	require.Equal(t, addrB, subs[1].Oracle)
	require.Len(t, reloaded.ListAggregations(), 1)
	require.Len(t, reloaded.ListDisputes(), 1)

	full, ok := reloaded.ResolveShort(addrA.Short())
	require.True(t, ok)
	require.Equal(t, addrA, full)

	// the restored log keeps numbering after the persisted entries
	_, sub, err := reloaded.SubmitPrice(as(addrA), "BTC/USD", decimal.NewFromInt(43001))
	require.NoError(t, err)
	require.Equal(t, uint64(3), sub.Seq)
}

func TestConcurrentSubmissionsDuringAggregation(t *testing.T) {
	f := newFixture(t)

	const oracles = 16
	const perOracle = 25
	addrs := make([]oracle.Address, oracles)
	for i := range addrs {
		addrs[i] = oracle.Address(fmt.Sprintf("0x%040d", i+1))
	}
	f.register(t, addrs...)

	var wg sync.WaitGroup
	for i, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perOracle; j++ {
				_, _, err := f.svc.SubmitPrice(as(addr), "BTC/USD", decimal.NewFromInt(int64(43000+i*10+j)))
				if err != nil {
					t.Errorf("submit: %v", err)
					return
				}
			}
		}()
	}

	var runs int
	var mu sync.Mutex
	var aggWG sync.WaitGroup
	for k := 0; k < 8; k++ {
		aggWG.Add(1)
		go func() {
			defer aggWG.Done()
			if _, err := f.svc.Aggregate(context.Background(), "BTC/USD", ""); err == nil {
				mu.Lock()
				runs++
				mu.Unlock()
			} else if !errors.Is(err, oracle.ErrNoSubmissions) {
				t.Errorf("aggregate: %v", err)
			}
		}()
	}
	wg.Wait()
	aggWG.Wait()

	var submissions int64
	total := decimal.Zero
	for _, rec := range f.svc.ListOracles() {
		submissions += rec.TotalSubmissions
		total = total.Add(rec.RewardsBalance)
	}
	require.Equal(t, int64(oracles*perOracle), submissions)

	// every run splits exactly one pool, within cent rounding per contributor
	expected := decimal.NewFromInt(int64(100 * runs))
	slack := decimal.NewFromFloat(0.01 * float64(oracles*perOracle*runs))
	require.True(t, total.Sub(expected).Abs().LessThanOrEqual(slack), "total %s expected %s", total, expected)
}

func TestEpochStatus(t *testing.T) {
	f := newFixture(t)
	status := f.svc.EpochStatus()
	require.Equal(t, oracle.EpochOf(testNow, 5*time.Minute), status.Epoch)
	require.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), status.Start)
	require.Equal(t, time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC), status.NextEpochAt)
	require.Equal(t, 210*time.Second, status.Remaining)
}

func TestNewRequiresWallet(t *testing.T) {
	_, err := New(Options{Params: oracle.DefaultParams()}, zerolog.Nop())
	require.Error(t, err)
}

func TestHistoryFiltersByPairAndWindow(t *testing.T) {
	f := newFixture(t)
	f.register(t, addrA, addrB)
	f.submit(t, addrA, "BTC/USD", 43000)
	f.clock.Advance(time.Minute)
	f.submit(t, addrB, "ETH/USD", 2300)
	f.clock.Advance(time.Minute)
	f.submit(t, addrB, "btc/usd", 43100)

	end := f.clock.Now().Add(time.Second)
	all := f.svc.History("", testNow, end)
	require.Len(t, all, 3)

	btc := f.svc.History("BTC/USD", testNow, end)
	require.Len(t, btc, 2)
	require.Equal(t, addrA, btc[0].Oracle)
	require.Equal(t, addrB, btc[1].Oracle)

	// the upper bound is exclusive
	require.Len(t, f.svc.History("BTC/USD", testNow, testNow.Add(2*time.Minute)), 1)
}
