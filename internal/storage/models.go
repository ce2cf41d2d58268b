package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"keen-oracle/internal/oracle"
)

// StateVersion is bumped whenever the blob layout changes incompatibly.
const StateVersion = 1

// State is the persisted engine blob.
type State struct {
	Version           int                                    `json:"version"`
	SavedAt           time.Time                              `json:"savedAt"`
	Registered        map[oracle.Address]bool                `json:"registered"`
	Stats             map[oracle.Address]oracle.OracleRecord `json:"stats"`
	Submissions       map[oracle.Address][]oracle.Submission `json:"submissions"`
	Aggregations      map[string]oracle.AggregationResult    `json:"aggregations"`
	AddressToShortMap map[string]oracle.Address              `json:"addressToShortMap"`
	Disputes          []oracle.DisputeRecord                 `json:"disputes"`
}

// NewState returns an empty, initialised blob.
func NewState() *State {
	return &State{
		Version:           StateVersion,
		Registered:        make(map[oracle.Address]bool),
		Stats:             make(map[oracle.Address]oracle.OracleRecord),
		Submissions:       make(map[oracle.Address][]oracle.Submission),
		Aggregations:      make(map[string]oracle.AggregationResult),
		AddressToShortMap: make(map[string]oracle.Address),
	}
}

// EncodeState serialises the blob.
func EncodeState(state *State) ([]byte, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return payload, nil
}

// DecodeState parses a blob, filling nil maps so callers can range freely.
func DecodeState(payload []byte) (*State, error) {
	state := NewState()
	if err := json.Unmarshal(payload, state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("decode state: unsupported version %d", state.Version)
	}
	if state.Registered == nil {
		state.Registered = make(map[oracle.Address]bool)
	}
	if state.Stats == nil {
		state.Stats = make(map[oracle.Address]oracle.OracleRecord)
	}
	if state.Submissions == nil {
		state.Submissions = make(map[oracle.Address][]oracle.Submission)
	}
	if state.Aggregations == nil {
		state.Aggregations = make(map[string]oracle.AggregationResult)
	}
	if state.AddressToShortMap == nil {
		state.AddressToShortMap = make(map[string]oracle.Address)
	}
	return state, nil
}
