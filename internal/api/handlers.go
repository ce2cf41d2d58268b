package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"keen-oracle/internal/oracle"
	"keen-oracle/internal/version"
	"keen-oracle/internal/wallet"
)

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/epoch", s.epoch).Methods(http.MethodGet)

	api.HandleFunc("/oracles", s.listOracles).Methods(http.MethodGet)
	api.HandleFunc("/oracles/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/oracles/{address}", s.oracleInfo).Methods(http.MethodGet)
	api.HandleFunc("/oracles/{address}/stats", s.oracleStats).Methods(http.MethodGet)
	api.HandleFunc("/oracles/{address}/submissions", s.oracleSubmissions).Methods(http.MethodGet)

	api.HandleFunc("/rewards/withdraw", s.withdraw).Methods(http.MethodPost)

	api.HandleFunc("/submissions", s.currentSubmissions).Methods(http.MethodGet)
	api.HandleFunc("/submissions", s.submitPrice).Methods(http.MethodPost)

	api.HandleFunc("/aggregations", s.listAggregations).Methods(http.MethodGet)
	api.HandleFunc("/aggregations/latest", s.latestAggregation).Methods(http.MethodGet)
	api.HandleFunc("/aggregations", s.triggerAggregation).Methods(http.MethodPost)

	api.HandleFunc("/disputes", s.listDisputes).Methods(http.MethodGet)
	api.HandleFunc("/disputes", s.submitDispute).Methods(http.MethodPost)
}

type registerRequest struct {
	Stake decimal.Decimal `json:"stake"`
}

type submitRequest struct {
	Pair  string          `json:"pair"`
	Price decimal.Decimal `json:"price"`
}

type aggregateRequest struct {
	Pair string `json:"pair"`
}

type disputeRequest struct {
	Epoch  string          `json:"epoch"`
	Reason string          `json:"reason"`
	Bond   decimal.Decimal `json:"bond"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"commit":  version.Commit,
	})
}

func (s *Server) epoch(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.EpochStatus())
}

func (s *Server) listOracles(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"oracles": s.engine.ListOracles()})
}

func (s *Server) oracleInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.GetOracleInfo(s.addressVar(r)))
}

func (s *Server) oracleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.GetOracleStats(s.addressVar(r)))
}

func (s *Server) oracleSubmissions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"submissions": s.engine.SubmissionsByOracle(s.addressVar(r))})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, rec, err := s.engine.Register(r.Context(), req.Stake)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"txId": tx, "oracle": rec})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	tx, amount, err := s.engine.WithdrawRewards(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"txId": tx, "amount": amount})
}

func (s *Server) currentSubmissions(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"pair":        oracle.NormalizePair(pair),
		"epoch":       s.engine.EpochStatus().Epoch,
		"submissions": s.engine.GetCurrentSubmissions(pair),
	})
}

func (s *Server) submitPrice(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, sub, err := s.engine.SubmitPrice(r.Context(), req.Pair, req.Price)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"txId": tx, "submission": sub})
}

func (s *Server) listAggregations(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"aggregations": s.engine.ListAggregations()})
}

func (s *Server) latestAggregation(w http.ResponseWriter, r *http.Request) {
	pair, ok := s.pairParam(w, r)
	if !ok {
		return
	}
	res, found := s.engine.GetAggregatedPrice(pair)
	if !found {
		s.respondJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no aggregation for %s", oracle.NormalizePair(pair))})
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) triggerAggregation(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, res, err := s.engine.TriggerAggregation(r.Context(), req.Pair)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"txId": tx, "result": res})
}

func (s *Server) listDisputes(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"disputes": s.engine.ListDisputes()})
}

func (s *Server) submitDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, rec, err := s.engine.SubmitDispute(r.Context(), req.Epoch, req.Reason, req.Bond)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"txId": tx, "dispute": rec})
}

// addressVar accepts either a full address or its short display form.
func (s *Server) addressVar(r *http.Request) oracle.Address {
	raw := mux.Vars(r)["address"]
	if full, ok := s.engine.ResolveShort(raw); ok {
		return full
	}
	return wallet.Normalize(raw)
}

func (s *Server) pairParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	pair := strings.TrimSpace(r.URL.Query().Get("pair"))
	if pair == "" {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "pair query parameter is required"})
		return "", false
	}
	return pair, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrUnavailable):
		return http.StatusUnauthorized
	case errors.Is(err, oracle.ErrNotRegistered):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrAlreadyRegistered),
		errors.Is(err, oracle.ErrNoRewardsAvailable),
		errors.Is(err, oracle.ErrNoSubmissions),
		errors.Is(err, oracle.ErrNoEligibleSubmissions):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrInvalidBond),
		errors.Is(err, oracle.ErrInvalidEpochReference),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, oracle.ErrInvalidPair),
		errors.Is(err, oracle.ErrInvalidStake),
		errors.Is(err, oracle.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.respondJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode response")
	}
}
