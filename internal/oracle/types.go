package oracle

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotRegistered indicates the address has no registered oracle record.
	ErrNotRegistered = errors.New("oracle: address not registered")
	// ErrAlreadyRegistered indicates a second registration for the same address.
	ErrAlreadyRegistered = errors.New("oracle: address already registered")
	// ErrNoSubmissions indicates the epoch has nothing to aggregate.
	ErrNoSubmissions = errors.New("oracle: no submissions available for aggregation")
	// ErrNoEligibleSubmissions indicates every submission carries zero weight.
	ErrNoEligibleSubmissions = errors.New("oracle: no eligible submissions (total weight is zero)")
	// ErrNoRewardsAvailable indicates a withdrawal against an empty balance.
	ErrNoRewardsAvailable = errors.New("oracle: no rewards available to withdraw")
	// ErrInvalidBond indicates a dispute bond below the minimum.
	ErrInvalidBond = errors.New("oracle: dispute bond below minimum")
	// ErrInvalidEpochReference indicates a blank, malformed or future epoch reference.
	ErrInvalidEpochReference = errors.New("oracle: invalid epoch reference")

	ErrInvalidPrice   = errors.New("oracle: price must be greater than zero")
	ErrInvalidPair    = errors.New("oracle: pair is required")
	ErrInvalidStake   = errors.New("oracle: stake cannot be negative")
	ErrInvalidAddress = errors.New("oracle: address is required")
)

// Address identifies an oracle. Logic is always keyed by the full value.
type Address string

// Short renders the truncated display form used by dashboards.
func (a Address) Short() string {
	s := string(a)
	if len(s) <= 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

// OracleRecord is the registry entry for one address.
type OracleRecord struct {
	Address          Address         `json:"address"`
	Registered       bool            `json:"registered"`
	Stake            decimal.Decimal `json:"stake"`
	Reputation       int64           `json:"reputation"`
	Accuracy         float64         `json:"accuracy"`
	RewardsBalance   decimal.Decimal `json:"rewardsEarned"`
	TotalSubmissions int64           `json:"totalSubmissions"`
	RegisteredAt     time.Time       `json:"registeredAt"`
}

// Submission is an immutable price observation.
type Submission struct {
	Seq       uint64          `json:"seq"`
	Oracle    Address         `json:"oracle"`
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// SubmissionStatus tells whether a submission took part in the median.
type SubmissionStatus string

const (
	StatusIncluded SubmissionStatus = "included"
	StatusOutlier  SubmissionStatus = "outlier"
)

// WeightedSubmission annotates a submission with its submitter's reputation.
type WeightedSubmission struct {
	Submission
	Weight int64            `json:"weight"`
	Status SubmissionStatus `json:"status"`
}

// AggregationResult is the current trusted price for a pair.
type AggregationResult struct {
	Pair        string          `json:"pair"`
	Value       decimal.Decimal `json:"value"`
	Timestamp   time.Time       `json:"timestamp"`
	Confidence  int             `json:"confidence"`
	SourceCount int             `json:"sources"`
	Epoch       int64           `json:"epoch"`
}

// DisputeOutcome tracks adjudication state. Only pending is ever assigned here.
type DisputeOutcome string

const (
	OutcomePending DisputeOutcome = "pending"
	OutcomeValid   DisputeOutcome = "valid"
	OutcomeInvalid DisputeOutcome = "invalid"
)

// DisputeRecord is an append-only challenge against a past epoch.
type DisputeRecord struct {
	ID             string          `json:"id"`
	EpochReference string          `json:"epochReference"`
	Epoch          int64           `json:"epoch"`
	Reason         string          `json:"reason"`
	Bond           decimal.Decimal `json:"bondAmount"`
	Submitter      Address         `json:"submitter"`
	Outcome        DisputeOutcome  `json:"outcome"`
	CreatedAt      time.Time       `json:"createdAt"`
}
