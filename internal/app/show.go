package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"keen-oracle/internal/oracle"
	"keen-oracle/internal/service"
	"keen-oracle/internal/wallet"
)

// Show prints the epoch countdown, the oracle leaderboard, the latest
// aggregations and the current epoch's submissions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	eng, err := a.openEngine(ctx, wallet.NewContext(nil))
	if err != nil {
		return err
	}
	defer eng.Close()

	return a.render(eng.svc, opts)
}

func (a *App) render(svc *service.Service, opts ShowOptions) error {
	status := svc.EpochStatus()
	fmt.Fprintf(a.Out, "epoch #%d, next epoch in %s\n\n", status.Epoch, formatCountdown(status.Remaining))

	oracles := svc.ListOracles()
	sort.SliceStable(oracles, func(i, j int) bool {
		return oracles[i].Reputation > oracles[j].Reputation
	})
	if opts.Limit > 0 && len(oracles) > opts.Limit {
		oracles = oracles[:opts.Limit]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	if len(oracles) == 0 {
		fmt.Fprintln(writer, "no oracles registered")
	} else {
		fmt.Fprintln(writer, "Oracle\tReputation\tAccuracy%\tSubmissions\tRewards\tStake")
		for _, rec := range oracles {
			fmt.Fprintf(writer, "%s\t%d\t%.2f\t%d\t%s\t%s\n",
				rec.Address.Short(),
				rec.Reputation,
				rec.Accuracy,
				rec.TotalSubmissions,
				formatDecimal(rec.RewardsBalance, 2),
				formatDecimal(rec.Stake, 2),
			)
		}
	}
	fmt.Fprintln(writer)

	aggregations := svc.ListAggregations()
	if len(aggregations) == 0 {
		fmt.Fprintln(writer, "no aggregations yet")
	} else {
		fmt.Fprintln(writer, "Pair\tValue\tConfidence\tSources\tEpoch\tTime (UTC)")
		for _, res := range aggregations {
			fmt.Fprintf(writer, "%s\t%s\t%d%%\t%d\t%d\t%s\n",
				res.Pair,
				formatDecimal(res.Value, 4),
				res.Confidence,
				res.SourceCount,
				res.Epoch,
				res.Timestamp.UTC().Format(time.RFC3339),
			)
		}
	}

	if disputes := svc.ListDisputes(); len(disputes) > 0 {
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "Dispute\tEpoch\tBond\tStatus\tSubmitter\tReason")
		for _, d := range disputes {
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\n",
				d.ID,
				d.Epoch,
				formatDecimal(d.Bond, 2),
				d.Outcome,
				d.Submitter.Short(),
				sanitizeInline(d.Reason),
			)
		}
	}

	if opts.Pair != "" {
		fmt.Fprintln(writer)
		views := svc.GetCurrentSubmissions(opts.Pair)
		if len(views) == 0 {
			fmt.Fprintf(writer, "no submissions for %s in this epoch\n", oracle.NormalizePair(opts.Pair))
		} else {
			fmt.Fprintln(writer, "Oracle\tPrice\tWeight\tStatus\tTime (UTC)")
			for _, v := range views {
				fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
					v.ShortID,
					v.Price.String(),
					v.Weight,
					v.Status,
					v.Timestamp.UTC().Format(time.RFC3339),
				)
			}
		}
	}

	return writer.Flush()
}

// formatCountdown renders the time left as m:ss.
func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
