// api.go - REST API for the settlement daemon
package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"notevm/internal/account"
	"notevm/internal/errkind"
	"notevm/internal/settle"
	"notevm/internal/word"
)

// API serves the settlement daemon's REST surface.
type API struct {
	accounts *account.Store
	ledger   *settle.Ledger
	metrics  *MetricsCollector
	health   *HealthChecker
	limiter  *PeerRateLimiter
	logger   zerolog.Logger
}

// NewAPI wires the REST API over the daemon's components.
func NewAPI(accounts *account.Store, ledger *settle.Ledger, metrics *MetricsCollector,
	health *HealthChecker, limiter *PeerRateLimiter, logger zerolog.Logger) *API {
	return &API{
		accounts: accounts,
		ledger:   ledger,
		metrics:  metrics,
		health:   health,
		limiter:  limiter,
		logger:   logger,
	}
}

// Router builds the HTTP route table.
func (api *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(api.rateLimitMiddleware)
	r.HandleFunc("/tx", api.SubmitTx).Methods(http.MethodPost)
	r.HandleFunc("/block", api.ProduceBlock).Methods(http.MethodPost)
	r.HandleFunc("/sync", api.Sync).Methods(http.MethodGet)
	r.HandleFunc("/account/{id}", api.GetAccount).Methods(http.MethodGet)
	r.HandleFunc("/note/{id}", api.GetNote).Methods(http.MethodGet)
	r.HandleFunc("/healthz", api.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", api.Metrics).Methods(http.MethodGet)
	return r
}

func (api *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			peer = r.RemoteAddr
		}
		cost := readCost
		if r.Method == http.MethodPost {
			cost = submitCost
		}
		if !api.limiter.Allow(peer, cost) {
			api.writeJSONResponse(w, http.StatusTooManyRequests,
				map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *API) writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error().Err(err).Msg("failed to write JSON response")
	}
}

func (api *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errkind.IsNotFound(err):
		status = http.StatusNotFound
	case errkind.IsBuild(err):
		status = http.StatusBadRequest
	case errkind.IsConflict(err):
		status = http.StatusConflict
	case errkind.IsProving(err):
		status = http.StatusUnprocessableEntity
	}
	api.metrics.RecordError(errkind.KindOf(err).String())
	api.writeJSONResponse(w, status, map[string]string{"error": err.Error()})
}

// SubmitTx accepts a wire-encoded proven transaction and queues it.
func (api *API) SubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	pt, err := settle.DecodeProvenTx(body)
	if err != nil {
		api.writeError(w, err)
		return
	}
	if err := api.ledger.SubmitTransaction(pt); err != nil {
		api.writeError(w, err)
		return
	}
	api.metrics.RecordSubmission()
	api.writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"tx_id":  pt.ID().Hex(),
		"status": settle.StatusPending.String(),
	})
}

// ProduceBlock commits the pending pool into a block.
func (api *API) ProduceBlock(w http.ResponseWriter, r *http.Request) {
	block, results, err := api.ledger.ProduceBlock()
	if err != nil {
		api.writeError(w, err)
		return
	}

	committed := len(block.TxIDs)
	api.metrics.RecordBlock(block.Num, committed, len(results)-committed, api.ledger.PendingCount())

	type txOutcome struct {
		TxID   string `json:"tx_id"`
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
	}
	outcomes := make([]txOutcome, 0, len(results))
	for _, res := range results {
		o := txOutcome{TxID: res.TxID.Hex(), Status: res.Status.String()}
		if res.Err != nil {
			o.Reason = res.Err.Error()
		}
		outcomes = append(outcomes, o)
	}
	api.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"block":   block,
		"results": outcomes,
	})
}

// Sync reports changes since the queried block number.
func (api *API) Sync(w http.ResponseWriter, r *http.Request) {
	since := uint64(0)
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			api.writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid 'since' parameter"})
			return
		}
		since = v
	}
	api.writeJSONResponse(w, http.StatusOK, api.ledger.SyncState(since))
}

// GetAccount returns the public view of an account.
func (api *API) GetAccount(w http.ResponseWriter, r *http.Request) {
	idHex := mux.Vars(r)["id"]
	id, err := word.WordFromHex(idHex)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid account id"})
		return
	}
	a, err := api.accounts.Get(account.ID(id))
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"id":               a.ID.Hex(),
		"type":             a.Type.String(),
		"nonce":            a.Nonce,
		"state_commitment": a.StateCommitment().Hex(),
		"assets":           a.Vault.Assets(),
	})
}

// GetNote returns the ledger's record for a note.
func (api *API) GetNote(w http.ResponseWriter, r *http.Request) {
	idHex := mux.Vars(r)["id"]
	id, err := word.WordFromHex(idHex)
	if err != nil {
		api.writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid note id"})
		return
	}
	rec, err := api.ledger.Note(id)
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSONResponse(w, http.StatusOK, rec)
}

// Healthz runs the registered component checks.
func (api *API) Healthz(w http.ResponseWriter, r *http.Request) {
	health := api.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	api.writeJSONResponse(w, status, CreateHealthResponse(health))
}

// Metrics dumps the metrics summary.
func (api *API) Metrics(w http.ResponseWriter, r *http.Request) {
	api.writeJSONResponse(w, http.StatusOK, api.metrics.GetMetricsSummary())
}
