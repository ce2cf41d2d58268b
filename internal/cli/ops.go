package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	registerStake string
	submitPair    string
	submitPrice   string
	aggregatePair string
	disputeEpoch  string
	disputeReason string
	disputeBond   string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the wallet as an oracle",
	RunE: func(cmd *cobra.Command, args []string) error {
		stake, err := parseDecimal("stake", registerStake)
		if err != nil {
			return err
		}
		return getApp().Register(cmd.Context(), stake)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a price observation for the current epoch",
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitPair == "" {
			return errors.New("--pair must be provided")
		}
		price, err := parseDecimal("price", submitPrice)
		if err != nil {
			return err
		}
		return getApp().Submit(cmd.Context(), submitPair, price)
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate the current epoch for a pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if aggregatePair == "" {
			return errors.New("--pair must be provided")
		}
		return getApp().Aggregate(cmd.Context(), aggregatePair)
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "Withdraw accumulated rewards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Withdraw(cmd.Context())
	},
}

var disputeCmd = &cobra.Command{
	Use:   "dispute",
	Short: "Challenge the result of a past epoch",
	RunE: func(cmd *cobra.Command, args []string) error {
		bond, err := parseDecimal("bond", disputeBond)
		if err != nil {
			return err
		}
		return getApp().Dispute(cmd.Context(), disputeEpoch, disputeReason, bond)
	},
}

func parseDecimal(flag, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("--%s must be provided", flag)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid --%s value: %w", flag, err)
	}
	return d, nil
}

func init() {
	registerCmd.Flags().StringVar(&registerStake, "stake", "0", "Stake to lock")

	submitCmd.Flags().StringVar(&submitPair, "pair", "", "Pair symbol, e.g. BTC/USD")
	submitCmd.Flags().StringVar(&submitPrice, "price", "", "Observed price")

	aggregateCmd.Flags().StringVar(&aggregatePair, "pair", "", "Pair symbol, e.g. BTC/USD")

	disputeCmd.Flags().StringVar(&disputeEpoch, "epoch", "", "Epoch reference, e.g. #5678901")
	disputeCmd.Flags().StringVar(&disputeReason, "reason", "", "Why the result is wrong")
	disputeCmd.Flags().StringVar(&disputeBond, "bond", "", "Bond to post (at least the minimum bond)")
}
