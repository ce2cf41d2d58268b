package oracle

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReputationBoostTiers(t *testing.T) {
	cases := []struct {
		pct  float64
		want int64
	}{
		{0, 15}, {0.5, 15}, {0.51, 10}, {1.0, 10}, {1.16, 5}, {2.0, 5}, {2.01, 2}, {5.0, 2}, {5.01, 1}, {80, 1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ReputationBoost(tc.pct), "pct=%v", tc.pct)
	}
}

func TestAccuracyHelpers(t *testing.T) {
	require.Equal(t, 100.0, AccuracyContribution(0, 50))
	require.Equal(t, 90.0, AccuracyContribution(5, 50))
	require.Equal(t, 50.0, AccuracyContribution(40, 50))
	require.Equal(t, 97.0, NextAccuracy(100, 90))
	require.Equal(t, 0.0, PercentDiff(decimal.NewFromInt(5), decimal.Zero))
}

func TestRewardShare(t *testing.T) {
	pool := decimal.NewFromInt(100)
	require.Equal(t, "50", RewardShare(pool, 2).String())
	require.Equal(t, "33.33", RewardShare(pool, 3).String())
	require.True(t, RewardShare(pool, 0).IsZero())
}

// Oracle A (reputation 100) submits 43000, oracle B (reputation 50) submits 43500.
func TestApplyRewardsScenario(t *testing.T) {
	params := DefaultParams()
	reg := NewRegistry(params)
	for _, addr := range []Address{"9fOracleA", "9fOracleB"} {
		_, err := reg.Register(addr, decimal.NewFromInt(100), testNow)
		require.NoError(t, err)
	}
	_, err := reg.ApplyUpdate("9fOracleB", func(rec *OracleRecord) { rec.Reputation = 50 })
	require.NoError(t, err)

	subs := []Submission{
		{Seq: 1, Oracle: "9fOracleA", Pair: "BTC/USD", Price: decimal.NewFromInt(43000), Timestamp: testNow},
		{Seq: 2, Oracle: "9fOracleB", Pair: "BTC/USD", Price: decimal.NewFromInt(43500), Timestamp: testNow},
	}
	entries := Weigh(subs, func(addr Address) int64 {
		rec, _ := reg.Get(addr)
		return rec.Reputation
	})
	result, _, err := Aggregate("BTC/USD", entries, testNow, params)
	require.NoError(t, err)
	require.Equal(t, "43000", result.Value.String())

	outcomes := ApplyRewards(reg, result, subs, params, zerolog.Nop())
	require.Len(t, outcomes, 2)

	a, _ := reg.Get("9fOracleA")
	require.Equal(t, "50", a.RewardsBalance.String())
	require.Equal(t, int64(115), a.Reputation)
	require.Equal(t, 100.0, a.Accuracy)

	b, _ := reg.Get("9fOracleB")
	require.Equal(t, "50", b.RewardsBalance.String())
	require.Equal(t, int64(55), b.Reputation)
	require.InDelta(t, 1.1628, outcomes[1].PctDiff, 0.0001)
	require.InDelta(t, 97.67, AccuracyContribution(outcomes[1].PctDiff, params.AccuracyFloor), 0.01)
	require.Equal(t, 99.3, b.Accuracy)
}

func TestApplyRewardsSkipsMissingRecords(t *testing.T) {
	params := DefaultParams()
	reg := NewRegistry(params)
	_, err := reg.Register("9fOracleA", decimal.NewFromInt(100), testNow)
	require.NoError(t, err)

	result := AggregationResult{Pair: "BTC/USD", Value: decimal.NewFromInt(100), SourceCount: 2}
	subs := []Submission{
		{Oracle: "9fGhost", Pair: "BTC/USD", Price: decimal.NewFromInt(100)},
		{Oracle: "9fOracleA", Pair: "BTC/USD", Price: decimal.NewFromInt(100)},
	}

	outcomes := ApplyRewards(reg, result, subs, params, zerolog.Nop())
	require.True(t, outcomes[0].Skipped)
	require.False(t, outcomes[1].Skipped)

	a, _ := reg.Get("9fOracleA")
	require.Equal(t, "50", a.RewardsBalance.String())
	_, ok := reg.Get("9fGhost")
	require.False(t, ok)
}

func TestApplyRewardsConservesPool(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := DefaultParams()
		reg := NewRegistry(params)
		n := rapid.IntRange(1, 25).Draw(t, "n")

		subs := make([]Submission, n)
		for i := range subs {
			addr := Address(fmt.Sprintf("9fOracle%03d", i))
			if _, err := reg.Register(addr, decimal.NewFromInt(10), testNow); err != nil {
				t.Fatalf("register: %v", err)
			}
			subs[i] = Submission{
				Seq:    uint64(i + 1),
				Oracle: addr,
				Pair:   "BTC/USD",
				Price:  decimal.NewFromInt(rapid.Int64Range(1, 100000).Draw(t, "price")),
			}
		}

		entries := Weigh(subs, func(Address) int64 { return 100 })
		result, _, err := Aggregate("BTC/USD", entries, testNow, params)
		if err != nil {
			t.Fatalf("aggregate: %v", err)
		}
		ApplyRewards(reg, result, subs, params, zerolog.Nop())

		total := decimal.Zero
		for _, rec := range reg.Snapshot() {
			total = total.Add(rec.RewardsBalance)
			if rec.Accuracy < 50 || rec.Accuracy > 100 {
				t.Fatalf("accuracy %v out of bounds", rec.Accuracy)
			}
		}
		tolerance := decimal.NewFromFloat(0.01).Mul(decimal.NewFromInt(int64(n)))
		if total.Sub(params.RewardPool).Abs().GreaterThan(tolerance) {
			t.Fatalf("distributed %s, pool %s", total, params.RewardPool)
		}
	})
}

func TestAccuracyStaysBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		accuracy := 100.0
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			pct := rapid.Float64Range(0, 10000).Draw(t, "pct")
			accuracy = NextAccuracy(accuracy, AccuracyContribution(pct, 50))
			if accuracy < 50 || accuracy > 100 {
				t.Fatalf("accuracy %v out of bounds after pct %v", accuracy, pct)
			}
		}
	})
}
