package oracle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Params holds the engine constants.
type Params struct {
	EpochDuration       time.Duration
	RewardPool          decimal.Decimal
	MinBond             decimal.Decimal
	Confidence          int
	ParticipationBoost  int64
	InitialReputation   int64
	InitialAccuracy     float64
	AccuracyFloor       float64
	OutlierTolerancePct float64
}

// DefaultParams returns the reference network constants.
func DefaultParams() Params {
	return Params{
		EpochDuration:      5 * time.Minute,
		RewardPool:         decimal.NewFromInt(100),
		MinBond:            decimal.NewFromInt(10),
		Confidence:         95,
		ParticipationBoost: 2,
		InitialReputation:  100,
		InitialAccuracy:    100,
		AccuracyFloor:      50,
	}
}

// Validate rejects parameter sets the engine cannot run with.
func (p Params) Validate() error {
	if p.EpochDuration < time.Millisecond {
		return fmt.Errorf("epoch duration must be at least 1ms, got %s", p.EpochDuration)
	}
	if !p.RewardPool.IsPositive() {
		return fmt.Errorf("reward pool must be greater than zero")
	}
	if p.MinBond.IsNegative() {
		return fmt.Errorf("min bond cannot be negative")
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("confidence must be within [0, 100], got %d", p.Confidence)
	}
	if p.ParticipationBoost < 0 {
		return fmt.Errorf("participation boost cannot be negative")
	}
	if p.InitialReputation < 0 {
		return fmt.Errorf("initial reputation cannot be negative, got %d", p.InitialReputation)
	}
	if p.AccuracyFloor < 0 || p.AccuracyFloor > p.InitialAccuracy {
		return fmt.Errorf("accuracy floor must be within [0, %v]", p.InitialAccuracy)
	}
	if p.OutlierTolerancePct < 0 {
		return fmt.Errorf("outlier tolerance cannot be negative")
	}
	return nil
}
