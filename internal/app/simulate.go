package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"keen-oracle/internal/alerting"
	"keen-oracle/internal/feed"
	"keen-oracle/internal/oracle"
	"keen-oracle/internal/service"
	"keen-oracle/internal/storage"
	"keen-oracle/internal/wallet"
)

// Simulate plays one epoch in memory: a throwaway oracle per price
// registers, submits its quote and the epoch is aggregated. Persistent
// state is never touched.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if len(opts.Prices) == 0 {
		return errors.New("at least one price is required")
	}
	pair := oracle.NormalizePair(opts.Pair)
	if pair == "" {
		return oracle.ErrInvalidPair
	}

	params, err := a.Config.EngineParams()
	if err != nil {
		return err
	}

	var notifier alerting.Notifier = alerting.Nop{}
	if opts.Notify {
		if !a.Config.Alerting.Enabled {
			return errors.New("alerting is not enabled")
		}
		notifier = a.newNotifier()
	}

	svc, err := service.New(service.Options{
		Params:     params,
		Repository: storage.NewStateRepository(storage.NewMemoryStore(), ""),
		Wallet:     wallet.NewContext(nil),
		Notifier:   notifier,
		Channels:   a.Config.Alerting.Channels,
		Clock:      a.clock,
	}, a.Logger)
	if err != nil {
		return err
	}

	for i, price := range opts.Prices {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate simulated oracle key: %w", err)
		}
		ctx := wallet.WithIdentity(ctx, oracle.Address(crypto.PubkeyToAddress(key.PublicKey).Hex()))

		if _, _, err := svc.Register(ctx, decimal.Zero); err != nil {
			return fmt.Errorf("register simulated oracle %d: %w", i+1, err)
		}

		quote, err := feed.NewStatic(map[string]decimal.Decimal{pair: price}).FetchPrice(ctx, pair)
		if err != nil {
			return err
		}
		if _, _, err := svc.SubmitPrice(ctx, quote.Pair, quote.Price); err != nil {
			return fmt.Errorf("submit simulated price %d: %w", i+1, err)
		}
	}

	report, err := svc.Aggregate(ctx, pair, "")
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "%s = %s (confidence %d%%, %d sources, epoch #%d)\n\n",
		report.Result.Pair,
		report.Result.Value.String(),
		report.Result.Confidence,
		report.Result.SourceCount,
		report.Result.Epoch,
	)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Oracle\tPrice\tDiff%\tBoost\tAccuracy%\tReward")
	for _, out := range report.Outcomes {
		if out.Skipped {
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%.4f\t+%d\t%.2f\t%s\n",
			out.Oracle.Short(),
			out.Price.String(),
			out.PctDiff,
			out.ReputationBoost,
			out.AccuracyAfter,
			formatDecimal(out.Reward, 2),
		)
	}
	return writer.Flush()
}
