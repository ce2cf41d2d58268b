package oracle

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DisputeLedger records dispute requests. Adjudication is not modelled.
type DisputeLedger struct {
	params Params

	mu      sync.RWMutex
	records []DisputeRecord
}

// NewDisputeLedger constructs an empty ledger.
func NewDisputeLedger(params Params) *DisputeLedger {
	return &DisputeLedger{params: params}
}

// ParseEpochReference accepts "1245" or "#1245" naming an epoch no later than now's.
func ParseEpochReference(ref string, now time.Time, d time.Duration) (int64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: reference is empty", ErrInvalidEpochReference)
	}
	epoch, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || trimmed[0] < '0' || trimmed[0] > '9' {
		return 0, fmt.Errorf("%w: %q is not an epoch number", ErrInvalidEpochReference, ref)
	}
	if current := EpochOf(now, d); epoch > current {
		return 0, fmt.Errorf("%w: epoch %d is after current epoch %d", ErrInvalidEpochReference, epoch, current)
	}
	return epoch, nil
}

// Submit validates and appends a pending dispute. No bond is escrowed.
func (l *DisputeLedger) Submit(ref, reason string, bond decimal.Decimal, submitter Address, now time.Time) (DisputeRecord, error) {
	if bond.LessThan(l.params.MinBond) {
		return DisputeRecord{}, fmt.Errorf("%w: %s < %s", ErrInvalidBond, bond.String(), l.params.MinBond.String())
	}
	epoch, err := ParseEpochReference(ref, now, l.params.EpochDuration)
	if err != nil {
		return DisputeRecord{}, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fmt.Sprintf("Dispute for epoch %d", epoch)
	}

	rec := DisputeRecord{
		ID:             uuid.NewString(),
		EpochReference: strings.TrimSpace(ref),
		Epoch:          epoch,
		Reason:         reason,
		Bond:           bond,
		Submitter:      submitter,
		Outcome:        OutcomePending,
		CreatedAt:      now.UTC(),
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return rec, nil
}

// List copies the ledger, oldest first.
func (l *DisputeLedger) List() []DisputeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]DisputeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Restore replaces the ledger contents.
func (l *DisputeLedger) Restore(records []DisputeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make([]DisputeRecord, len(records))
	copy(l.records, records)
}
