package oracle

import (
	"sort"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
)

// Registry owns every OracleRecord. Mutations run inside xsync Compute so a
// read-modify-write on one key never interleaves with another on the same key.
type Registry struct {
	records *xsync.Map[Address, OracleRecord]
	params  Params
}

// NewRegistry constructs an empty registry.
func NewRegistry(params Params) *Registry {
	return &Registry{
		records: xsync.NewMap[Address, OracleRecord](),
		params:  params,
	}
}

// Register creates the record for addr. An existing registration is left untouched.
func (r *Registry) Register(addr Address, stake decimal.Decimal, now time.Time) (OracleRecord, error) {
	if strings.TrimSpace(string(addr)) == "" {
		return OracleRecord{}, ErrInvalidAddress
	}
	if stake.IsNegative() {
		return OracleRecord{}, ErrInvalidStake
	}

	var regErr error
	rec, _ := r.records.Compute(addr, func(old OracleRecord, loaded bool) (OracleRecord, xsync.ComputeOp) {
		if loaded && old.Registered {
			regErr = ErrAlreadyRegistered
			return old, xsync.CancelOp
		}
		return OracleRecord{
			Address:        addr,
			Registered:     true,
			Stake:          stake,
			Reputation:     r.params.InitialReputation,
			Accuracy:       r.params.InitialAccuracy,
			RewardsBalance: decimal.Zero,
			RegisteredAt:   now.UTC(),
		}, xsync.UpdateOp
	})
	if regErr != nil {
		return OracleRecord{}, regErr
	}
	return rec, nil
}

// Get looks up a record without blocking writers.
func (r *Registry) Get(addr Address) (OracleRecord, bool) {
	return r.records.Load(addr)
}

// IsRegistered reports whether addr may submit.
func (r *Registry) IsRegistered(addr Address) bool {
	rec, ok := r.records.Load(addr)
	return ok && rec.Registered
}

// ApplyUpdate atomically mutates one record.
func (r *Registry) ApplyUpdate(addr Address, mutate func(rec *OracleRecord)) (OracleRecord, error) {
	var found bool
	rec, _ := r.records.Compute(addr, func(old OracleRecord, loaded bool) (OracleRecord, xsync.ComputeOp) {
		if !loaded || !old.Registered {
			return old, xsync.CancelOp
		}
		found = true
		mutate(&old)
		return old, xsync.UpdateOp
	})
	if !found {
		return OracleRecord{}, ErrNotRegistered
	}
	return rec, nil
}

// Withdraw zeroes the reward balance and returns the prior amount.
func (r *Registry) Withdraw(addr Address) (decimal.Decimal, error) {
	var (
		amount decimal.Decimal
		opErr  error
	)
	r.records.Compute(addr, func(old OracleRecord, loaded bool) (OracleRecord, xsync.ComputeOp) {
		if !loaded || !old.Registered {
			opErr = ErrNotRegistered
			return old, xsync.CancelOp
		}
		if !old.RewardsBalance.IsPositive() {
			opErr = ErrNoRewardsAvailable
			return old, xsync.CancelOp
		}
		amount = old.RewardsBalance
		old.RewardsBalance = decimal.Zero
		return old, xsync.UpdateOp
	})
	if opErr != nil {
		return decimal.Zero, opErr
	}
	return amount, nil
}

// Snapshot copies every record, sorted by address.
func (r *Registry) Snapshot() []OracleRecord {
	out := make([]OracleRecord, 0, r.records.Size())
	r.records.Range(func(_ Address, rec OracleRecord) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Restore replaces the registry contents, typically from a persisted blob.
func (r *Registry) Restore(records []OracleRecord) {
	r.records.Clear()
	for _, rec := range records {
		r.records.Store(rec.Address, rec)
	}
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return r.records.Size()
}
