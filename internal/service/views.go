package service

import (
	"time"

	"github.com/shopspring/decimal"

	"keen-oracle/internal/oracle"
)

// TxID identifies one accepted write.
type TxID string

// Transaction kinds.
const (
	KindRegistration = "registration"
	KindSubmission   = "submission"
	KindWithdrawal   = "withdrawal"
	KindAggregation  = "aggregation"
	KindDispute      = "dispute"
)

// OracleSummary is the registration view of one address.
type OracleSummary struct {
	Address    oracle.Address  `json:"address"`
	Reputation int64           `json:"reputation"`
	Stake      decimal.Decimal `json:"stake"`
	Registered bool            `json:"registered"`
}

// Stats is the performance view of one address.
type Stats struct {
	Reputation       int64           `json:"reputation"`
	TotalSubmissions int64           `json:"totalSubmissions"`
	RewardsEarned    decimal.Decimal `json:"rewardsEarned"`
	Accuracy         float64         `json:"accuracy"`
}

// SubmissionView is one row of the current-epoch submission table.
type SubmissionView struct {
	ShortID   string                  `json:"oracle"`
	Oracle    oracle.Address          `json:"address"`
	Price     decimal.Decimal         `json:"price"`
	Weight    int64                   `json:"weight"`
	Status    oracle.SubmissionStatus `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
}

// EpochStatus describes the running epoch for countdown displays.
type EpochStatus struct {
	Epoch         int64         `json:"epoch"`
	Start         time.Time     `json:"start"`
	NextEpochAt   time.Time     `json:"nextEpochAt"`
	Remaining     time.Duration `json:"-"`
	RemainingSecs float64       `json:"remainingSeconds"`
}

// AggregationReport is what a successful aggregation produced.
type AggregationReport struct {
	TxID     TxID                        `json:"txId"`
	Result   oracle.AggregationResult    `json:"result"`
	Entries  []oracle.WeightedSubmission `json:"entries"`
	Outcomes []oracle.Outcome            `json:"outcomes"`
}
