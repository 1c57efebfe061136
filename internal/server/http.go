package server

import (
	"PoolCore/internal/ingestion"
	"PoolCore/internal/observability"
	"PoolCore/internal/persistence"
	"PoolCore/internal/projection"
	"PoolCore/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves the read API over projections plus health, metrics,
// and the admin endpoints. Every read handler returns as_of_sequence so
// callers can reason about projection freshness.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	deps       *HTTPDeps
}

// HTTPDeps holds the collaborators the HTTP handlers need.
type HTTPDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func NewHTTPServer(addr string, deps *HTTPDeps) *HTTPServer {
	s := &HTTPServer{addr: addr, deps: deps}

	mux := http.NewServeMux()

	// Pool reads
	mux.HandleFunc("GET /v1/pools", s.handleListPools)
	mux.HandleFunc("GET /v1/pools/{pool}", s.handleGetPool)
	mux.HandleFunc("GET /v1/pools/{pool}/positions", s.handleGetPositions)
	mux.HandleFunc("GET /v1/pools/{pool}/lp/{account}", s.handleGetLPBalance)
	mux.HandleFunc("GET /v1/pools/{pool}/commissions", s.handleGetCommissions)

	// Governance reads
	mux.HandleFunc("GET /v1/gov/stakes/{account}", s.handleGetGovStake)
	mux.HandleFunc("GET /v1/gov/delegations/{account}", s.handleGetDelegations)

	// Command log reads
	mux.HandleFunc("GET /v1/commands", s.handleGetCommands)

	// Admin
	mux.HandleFunc("GET /v1/admin/log", s.handleLogInfo)
	mux.HandleFunc("GET /v1/admin/integrity", s.handleVerifyIntegrity)
	mux.HandleFunc("POST /v1/admin/rebuild", s.handleRebuildProjections)
	mux.HandleFunc("POST /v1/admin/inject/invest", s.handleInjectInvest)
	mux.HandleFunc("POST /v1/admin/inject/sweep", s.handleInjectSweep)

	// Operational endpoints
	if deps.HealthChecker != nil {
		mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start starts the HTTP server (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Pool handlers ---

func (s *HTTPServer) handleListPools(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 200)
	var after *uuid.UUID
	if v := r.URL.Query().Get("after"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = &id
	}

	pools, err := s.deps.QueryService.ListPools(r.Context(), limit, after)
	if err != nil {
		s.queryError(w, "list_pools", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

func (s *HTTPServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID, ok := pathUUID(w, r, "pool")
	if !ok {
		return
	}

	pool, err := s.deps.QueryService.GetPool(r.Context(), poolID)
	if err != nil {
		s.queryError(w, "get_pool", err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *HTTPServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	poolID, ok := pathUUID(w, r, "pool")
	if !ok {
		return
	}

	positions, err := s.deps.QueryService.GetPoolPositions(r.Context(), poolID)
	if err != nil {
		s.queryError(w, "get_positions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *HTTPServer) handleGetLPBalance(w http.ResponseWriter, r *http.Request) {
	poolID, ok := pathUUID(w, r, "pool")
	if !ok {
		return
	}
	account, ok := pathUUID(w, r, "account")
	if !ok {
		return
	}

	balance, err := s.deps.QueryService.GetLPBalance(r.Context(), poolID, account)
	if err != nil {
		s.queryError(w, "get_lp_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *HTTPServer) handleGetCommissions(w http.ResponseWriter, r *http.Request) {
	poolID, ok := pathUUID(w, r, "pool")
	if !ok {
		return
	}
	limit := queryLimit(r, 50, 500)
	after := queryCursor(r, "after_sequence")

	history, err := s.deps.QueryService.GetCommissionHistory(r.Context(), poolID, limit, after)
	if err != nil {
		s.queryError(w, "get_commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commissions": history})
}

// --- Governance handlers ---

func (s *HTTPServer) handleGetGovStake(w http.ResponseWriter, r *http.Request) {
	account, ok := pathUUID(w, r, "account")
	if !ok {
		return
	}

	stake, err := s.deps.QueryService.GetGovStake(r.Context(), account)
	if err != nil {
		s.queryError(w, "get_gov_stake", err)
		return
	}
	writeJSON(w, http.StatusOK, stake)
}

func (s *HTTPServer) handleGetDelegations(w http.ResponseWriter, r *http.Request) {
	account, ok := pathUUID(w, r, "account")
	if !ok {
		return
	}

	edges, err := s.deps.QueryService.GetDelegations(r.Context(), account)
	if err != nil {
		s.queryError(w, "get_delegations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"delegations": edges})
}

// --- Command log handlers ---

func (s *HTTPServer) handleGetCommands(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 500)
	after := queryCursor(r, "after_sequence")

	var poolID *uuid.UUID
	if v := r.URL.Query().Get("pool_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pool_id")
			return
		}
		poolID = &id
	}

	entries, err := s.deps.QueryService.GetCommandHistory(r.Context(), poolID, limit, after)
	if err != nil {
		s.queryError(w, "get_commands", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": entries})
}

// --- Admin handlers ---

func (s *HTTPServer) handleLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"last_sequence": latestSeq})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.queryError(w, "verify_integrity", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (s *HTTPServer) handleInjectInvest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PoolID   string `json:"pool_id"`
		Investor string `json:"investor"`
		Amount   string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	poolID, err := uuid.Parse(req.PoolID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool_id")
		return
	}
	investor, err := uuid.Parse(req.Investor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid investor")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := s.deps.IngestService.InjectInvest(r.Context(), poolID, investor, amount); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (s *HTTPServer) handleInjectSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PoolID string `json:"pool_id"`
		Caller string `json:"caller"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	poolID, err := uuid.Parse(req.PoolID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool_id")
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller")
		return
	}

	if err := s.deps.IngestService.InjectCommissionSweep(r.Context(), poolID, caller, req.Offset, req.Limit); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

// --- helpers ---

func (s *HTTPServer) queryError(w http.ResponseWriter, endpoint string, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.UUID{}, false
	}
	return id, true
}

func queryLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func queryCursor(r *http.Request, name string) *int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
