package oracle

import "time"

// EpochKey groups submissions for one aggregation round.
type EpochKey struct {
	Pair  string
	Epoch int64
}

// EpochOf maps a timestamp to floor(ts / d) in milliseconds.
func EpochOf(ts time.Time, d time.Duration) int64 {
	ms := ts.UnixMilli()
	width := d.Milliseconds()
	epoch := ms / width
	if ms%width != 0 && ms < 0 {
		epoch--
	}
	return epoch
}

// EpochStart returns the first instant of an epoch.
func EpochStart(epoch int64, d time.Duration) time.Time {
	return time.UnixMilli(epoch * d.Milliseconds()).UTC()
}

// GroupByEpoch buckets submissions by (pair, epoch), preserving input order inside each bucket.
func GroupByEpoch(subs []Submission, d time.Duration) map[EpochKey][]Submission {
	groups := make(map[EpochKey][]Submission)
	for _, sub := range subs {
		key := EpochKey{Pair: sub.Pair, Epoch: EpochOf(sub.Timestamp, d)}
		groups[key] = append(groups[key], sub)
	}
	return groups
}
