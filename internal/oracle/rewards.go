package oracle

import (
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Outcome describes what one contributing submission earned.
type Outcome struct {
	Oracle          Address         `json:"oracle"`
	Price           decimal.Decimal `json:"price"`
	PctDiff         float64         `json:"pctDiff"`
	Reward          decimal.Decimal `json:"reward"`
	ReputationBoost int64           `json:"reputationBoost"`
	AccuracyBefore  float64         `json:"accuracyBefore"`
	AccuracyAfter   float64         `json:"accuracyAfter"`
	Skipped         bool            `json:"skipped"`
}

var hundred = decimal.NewFromInt(100)

// PercentDiff is |price - median| / median * 100, or 0 for a zero median.
func PercentDiff(price, median decimal.Decimal) float64 {
	if median.IsZero() {
		return 0
	}
	return price.Sub(median).Abs().Div(median).Mul(hundred).InexactFloat64()
}

// AccuracyContribution scores one observation: 100 at the median, losing two
// points per percent of deviation, never below floor.
func AccuracyContribution(pctDiff, floor float64) float64 {
	return math.Max(floor, 100-pctDiff*2)
}

// NextAccuracy folds a contribution into the running accuracy (EMA, 0.3 on the newest), rounded to 2 places.
func NextAccuracy(current, contribution float64) float64 {
	return math.Round((current*0.7+contribution*0.3)*100) / 100
}

// ReputationBoost is the tiered, distance-monotone reputation credit.
func ReputationBoost(pctDiff float64) int64 {
	switch {
	case pctDiff <= 0.5:
		return 15
	case pctDiff <= 1.0:
		return 10
	case pctDiff <= 2.0:
		return 5
	case pctDiff <= 5.0:
		return 2
	default:
		return 1
	}
}

// RewardShare splits the pool equally across sources, rounded to 2 places.
func RewardShare(pool decimal.Decimal, sources int) decimal.Decimal {
	if sources <= 0 {
		return decimal.Zero
	}
	return pool.DivRound(decimal.NewFromInt(int64(sources)), 2)
}

// ApplyRewards credits every contributor of result. Contributors whose record
// is missing are logged and skipped; the rest of the batch still applies.
func ApplyRewards(registry *Registry, result AggregationResult, contributors []Submission, params Params, logger zerolog.Logger) []Outcome {
	share := RewardShare(params.RewardPool, result.SourceCount)
	outcomes := make([]Outcome, 0, len(contributors))

	for _, sub := range contributors {
		pct := PercentDiff(sub.Price, result.Value)
		boost := ReputationBoost(pct)
		contribution := AccuracyContribution(pct, params.AccuracyFloor)

		out := Outcome{
			Oracle:          sub.Oracle,
			Price:           sub.Price,
			PctDiff:         pct,
			Reward:          share,
			ReputationBoost: boost,
		}

		rec, err := registry.ApplyUpdate(sub.Oracle, func(rec *OracleRecord) {
			out.AccuracyBefore = rec.Accuracy
			rec.RewardsBalance = rec.RewardsBalance.Add(share)
			rec.Accuracy = NextAccuracy(rec.Accuracy, contribution)
			rec.Reputation += boost
		})
		if err != nil {
			logger.Warn().Err(err).
				Str("oracle", string(sub.Oracle)).
				Str("pair", result.Pair).
				Msg("contributor record missing; skipping reward")
			out.Skipped = true
			out.Reward = decimal.Zero
			out.ReputationBoost = 0
			outcomes = append(outcomes, out)
			continue
		}
		out.AccuracyAfter = rec.Accuracy

		logger.Debug().
			Str("oracle", sub.Oracle.Short()).
			Str("reward", share.String()).
			Int64("reputation_boost", boost).
			Float64("accuracy", rec.Accuracy).
			Float64("pct_diff", pct).
			Msg("contributor updated")
		outcomes = append(outcomes, out)
	}
	return outcomes
}
