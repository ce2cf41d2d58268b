package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"keen-oracle/internal/wallet"
)

// withCaller opens the engine with the configured identity as the caller,
// runs op and releases the engine.
func (a *App) withCaller(ctx context.Context, op func(context.Context, *engine) error) error {
	provider, err := a.configuredWallet()
	if err != nil {
		return err
	}
	eng, err := a.openEngine(ctx, wallet.NewContext(provider))
	if err != nil {
		return err
	}
	defer eng.Close()
	return op(ctx, eng)
}

// Register enrols the configured identity as an oracle.
func (a *App) Register(ctx context.Context, stake decimal.Decimal) error {
	return a.withCaller(ctx, func(ctx context.Context, eng *engine) error {
		tx, rec, err := eng.svc.Register(ctx, stake)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "tx: %s\noracle: %s\nstake: %s\nreputation: %d\n", tx, rec.Address, rec.Stake, rec.Reputation)
		return nil
	})
}

// Submit records one price observation for pair.
func (a *App) Submit(ctx context.Context, pair string, price decimal.Decimal) error {
	return a.withCaller(ctx, func(ctx context.Context, eng *engine) error {
		tx, sub, err := eng.svc.SubmitPrice(ctx, pair, price)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "tx: %s\npair: %s\nprice: %s\nepoch: %d\n", tx, sub.Pair, sub.Price, eng.svc.EpochStatus().Epoch)
		return nil
	})
}

// Aggregate triggers aggregation of the current epoch for pair.
func (a *App) Aggregate(ctx context.Context, pair string) error {
	return a.withCaller(ctx, func(ctx context.Context, eng *engine) error {
		tx, res, err := eng.svc.TriggerAggregation(ctx, pair)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "tx: %s\npair: %s\nvalue: %s\nconfidence: %d%%\nsources: %d\nepoch: %d\n",
			tx, res.Pair, res.Value, res.Confidence, res.SourceCount, res.Epoch)
		return nil
	})
}

// Withdraw pays out the accumulated rewards of the configured identity.
func (a *App) Withdraw(ctx context.Context) error {
	return a.withCaller(ctx, func(ctx context.Context, eng *engine) error {
		tx, amount, err := eng.svc.WithdrawRewards(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "tx: %s\namount: %s\n", tx, amount)
		return nil
	})
}

// Dispute files a challenge against a past epoch.
func (a *App) Dispute(ctx context.Context, epochRef, reason string, bond decimal.Decimal) error {
	return a.withCaller(ctx, func(ctx context.Context, eng *engine) error {
		tx, rec, err := eng.svc.SubmitDispute(ctx, epochRef, reason, bond)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "tx: %s\ndispute: %s\nepoch: %d\nbond: %s\nstatus: %s\n", tx, rec.ID, rec.Epoch, rec.Bond, rec.Outcome)
		return nil
	})
}
