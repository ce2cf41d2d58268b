package service

import (
	"context"
	"sort"

	"keen-oracle/internal/oracle"
	"keen-oracle/internal/storage"
)

// Load restores the engine from the repository. It must run before the
// service starts taking writes.
func (s *Service) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	state, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	s.restore(state)

	s.metrics.RegisteredOracles.Set(float64(s.registry.Len()))
	s.logger.Info().
		Str("key", s.repo.Key()).
		Int("oracles", s.registry.Len()).
		Int("submissions", s.log.Len()).
		Int("aggregations", s.aggregations.Size()).
		Int("disputes", len(state.Disputes)).
		Msg("state loaded")
	return nil
}

func (s *Service) restore(state *storage.State) {
	s.batch.Lock()
	defer s.batch.Unlock()

	records := make([]oracle.OracleRecord, 0, len(state.Stats)+len(state.Registered))
	seen := make(map[oracle.Address]bool, len(state.Stats))
	for addr, rec := range state.Stats {
		rec.Address = addr
		if state.Registered[addr] {
			rec.Registered = true
		}
		records = append(records, rec)
		seen[addr] = true
	}
	// registered without stats: start from the initial record
	for addr, registered := range state.Registered {
		if !registered || seen[addr] {
			continue
		}
		records = append(records, oracle.OracleRecord{
			Address:    addr,
			Registered: true,
			Reputation: s.params.InitialReputation,
			Accuracy:   s.params.InitialAccuracy,
		})
	}
	s.registry.Restore(records)

	var subs []oracle.Submission
	for addr, list := range state.Submissions {
		for _, sub := range list {
			sub.Oracle = addr
			subs = append(subs, sub)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Seq != subs[j].Seq {
			return subs[i].Seq < subs[j].Seq
		}
		return subs[i].Timestamp.Before(subs[j].Timestamp)
	})
	s.log.Restore(subs)

	s.aggregations.Clear()
	for pair, res := range state.Aggregations {
		s.aggregations.Store(oracle.NormalizePair(pair), res)
	}

	s.shortMap.Clear()
	for short, addr := range state.AddressToShortMap {
		s.shortMap.Store(short, addr)
	}

	s.ledger.Restore(state.Disputes)
}

// Snapshot copies the engine into the persisted layout.
func (s *Service) Snapshot() *storage.State {
	state := storage.NewState()

	for _, rec := range s.registry.Snapshot() {
		state.Stats[rec.Address] = rec
		if rec.Registered {
			state.Registered[rec.Address] = true
		}
	}
	for _, sub := range s.log.All() {
		state.Submissions[sub.Oracle] = append(state.Submissions[sub.Oracle], sub)
	}
	s.aggregations.Range(func(pair string, res oracle.AggregationResult) bool {
		state.Aggregations[pair] = res
		return true
	})
	s.shortMap.Range(func(short string, addr oracle.Address) bool {
		state.AddressToShortMap[short] = addr
		return true
	})
	state.Disputes = s.ledger.List()
	return state
}

// flush writes the current snapshot. Failures are logged; the in-memory
// state stays authoritative.
func (s *Service) flush(ctx context.Context) {
	if s.repo == nil {
		return
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.repo.Save(ctx, s.Snapshot()); err != nil {
		s.metrics.PersistFailures.Inc()
		s.logger.Error().Err(err).Str("key", s.repo.Key()).Msg("failed to persist state")
	}
}
