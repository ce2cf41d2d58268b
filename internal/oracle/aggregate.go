package oracle

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Weigh annotates submissions with weights from weightOf, all marked included.
func Weigh(subs []Submission, weightOf func(Address) int64) []WeightedSubmission {
	out := make([]WeightedSubmission, 0, len(subs))
	for _, sub := range subs {
		out = append(out, WeightedSubmission{
			Submission: sub,
			Weight:     weightOf(sub.Oracle),
			Status:     StatusIncluded,
		})
	}
	return out
}

// WeightedMedian returns the price of the first entry, in ascending price
// order, whose cumulative weight reaches half of the total weight. Equal
// prices keep their input order. Negative weights count as zero.
func WeightedMedian(entries []WeightedSubmission) (decimal.Decimal, error) {
	if len(entries) == 0 {
		return decimal.Zero, ErrNoSubmissions
	}

	sorted := make([]WeightedSubmission, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price.LessThan(sorted[j].Price)
	})

	var total int64
	for _, e := range sorted {
		total += clampWeight(e.Weight)
	}
	if total == 0 {
		return decimal.Zero, ErrNoEligibleSubmissions
	}

	var cumulative int64
	for _, e := range sorted {
		cumulative += clampWeight(e.Weight)
		// cumulative >= total/2 without losing the fractional half
		if 2*cumulative >= total {
			return e.Price, nil
		}
	}
	return sorted[len(sorted)-1].Price, nil
}

// Aggregate computes the pair's result from one epoch of weighted submissions.
// The returned slice carries each entry's final status.
func Aggregate(pair string, entries []WeightedSubmission, now time.Time, params Params) (AggregationResult, []WeightedSubmission, error) {
	if len(entries) == 0 {
		return AggregationResult{}, nil, ErrNoSubmissions
	}

	classified := make([]WeightedSubmission, len(entries))
	copy(classified, entries)
	for i := range classified {
		classified[i].Status = StatusIncluded
	}

	if params.OutlierTolerancePct > 0 {
		preliminary, err := WeightedMedian(classified)
		if err != nil {
			return AggregationResult{}, nil, err
		}
		MarkOutliers(classified, preliminary, params.OutlierTolerancePct)
	}

	included := Included(classified)
	median, err := WeightedMedian(included)
	if err != nil {
		return AggregationResult{}, nil, err
	}

	result := AggregationResult{
		Pair:        NormalizePair(pair),
		Value:       median,
		Timestamp:   now.UTC(),
		Confidence:  params.Confidence,
		SourceCount: len(included),
		Epoch:       EpochOf(now, params.EpochDuration),
	}
	return result, classified, nil
}

// MarkOutliers flags entries deviating from reference by more than tolerancePct.
func MarkOutliers(entries []WeightedSubmission, reference decimal.Decimal, tolerancePct float64) {
	for i := range entries {
		if PercentDiff(entries[i].Price, reference) > tolerancePct {
			entries[i].Status = StatusOutlier
		}
	}
}

// Included filters entries down to those that take part in the median.
func Included(entries []WeightedSubmission) []WeightedSubmission {
	out := make([]WeightedSubmission, 0, len(entries))
	for _, e := range entries {
		if e.Status != StatusOutlier {
			out = append(out, e)
		}
	}
	return out
}

func clampWeight(w int64) int64 {
	if w < 0 {
		return 0
	}
	return w
}
