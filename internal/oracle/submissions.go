package oracle

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionLog is the append-only record of price observations.
type SubmissionLog struct {
	registry *Registry
	params   Params

	mu       sync.RWMutex
	entries  []Submission
	byOracle map[Address][]int
	seq      uint64
}

// NewSubmissionLog constructs a log validating submitters against registry.
func NewSubmissionLog(registry *Registry, params Params) *SubmissionLog {
	return &SubmissionLog{
		registry: registry,
		params:   params,
		byOracle: make(map[Address][]int),
	}
}

// NormalizePair canonicalises a pair symbol such as " btc/usd " to "BTC/USD".
func NormalizePair(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// Record appends an observation and credits the participation boost.
func (l *SubmissionLog) Record(addr Address, pair string, price decimal.Decimal, ts time.Time) (Submission, error) {
	pair = NormalizePair(pair)
	if pair == "" {
		return Submission{}, ErrInvalidPair
	}
	if !price.IsPositive() {
		return Submission{}, ErrInvalidPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.registry.ApplyUpdate(addr, func(rec *OracleRecord) {
		rec.TotalSubmissions++
		rec.Reputation += l.params.ParticipationBoost
	}); err != nil {
		return Submission{}, err
	}

	l.seq++
	sub := Submission{
		Seq:       l.seq,
		Oracle:    addr,
		Pair:      pair,
		Price:     price,
		Timestamp: ts.UTC(),
	}
	l.byOracle[addr] = append(l.byOracle[addr], len(l.entries))
	l.entries = append(l.entries, sub)
	return sub, nil
}

// CurrentEpochSubmissions returns the pair's submissions in the epoch containing now.
func (l *SubmissionLog) CurrentEpochSubmissions(pair string, now time.Time) []Submission {
	return l.EpochSubmissions(pair, EpochOf(now, l.params.EpochDuration))
}

// EpochSubmissions returns the pair's submissions for one epoch in submission order.
func (l *SubmissionLog) EpochSubmissions(pair string, epoch int64) []Submission {
	pair = NormalizePair(pair)

	l.mu.RLock()
	defer l.mu.RUnlock()

	group := GroupByEpoch(l.entries, l.params.EpochDuration)[EpochKey{Pair: pair, Epoch: epoch}]
	return append(make([]Submission, 0, len(group)), group...)
}

// ByOracle lists one oracle's submissions, oldest first.
func (l *SubmissionLog) ByOracle(addr Address) []Submission {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byOracle[addr]
	out := make([]Submission, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.entries[i])
	}
	return out
}

// All copies the full log.
func (l *SubmissionLog) All() []Submission {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Submission, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of stored submissions.
func (l *SubmissionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Restore replaces the log. Entries must be in submission order; missing
// sequence numbers are assigned from their position.
func (l *SubmissionLog) Restore(subs []Submission) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make([]Submission, 0, len(subs))
	l.byOracle = make(map[Address][]int)
	l.seq = 0
	for _, sub := range subs {
		if sub.Seq <= l.seq {
			sub.Seq = l.seq + 1
		}
		l.seq = sub.Seq
		l.byOracle[sub.Oracle] = append(l.byOracle[sub.Oracle], len(l.entries))
		l.entries = append(l.entries, sub)
	}
}
