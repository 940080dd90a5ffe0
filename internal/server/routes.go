package server

import (
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/ledger"
	"OriumLedger/internal/observability"
	"OriumLedger/internal/query"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxOpBodyBytes  = 64 << 10
)

// Deps holds everything the HTTP routes need.
type Deps struct {
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	// AdminToken must be presented as a bearer token to submit ops.
	// Submission is refused outright while it is empty.
	AdminToken string
}

// NewHTTPHandler registers every REST route on a gateway mux and wraps
// it with the health and metrics endpoints.
func NewHTTPHandler(deps *Deps) (http.Handler, error) {
	h := &handlers{deps: deps}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern, endpoint string
		fn                        runtime.HandlerFunc
	}{
		{"GET", "/v1/cdps/{owner}", "get_cdp", h.getCdp},
		{"GET", "/v1/balances/{asset}/{account}", "get_balance", h.getBalance},
		{"GET", "/v1/prices", "get_prices", h.getPrices},
		{"GET", "/v1/totals", "get_totals", h.getTotals},
		{"GET", "/v1/status", "get_status", h.getStatus},
		{"GET", "/v1/ops", "list_ops", h.listOps},
		{"GET", "/v1/liquidations", "list_liquidations", h.listLiquidations},
		{"GET", "/v1/admin/integrity", "verify_integrity", h.verifyIntegrity},
		{"POST", "/v1/ops", "submit_op", h.submitOp},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, h.instrument(r.endpoint, r.fn)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	}
	if deps.Gatherer != nil {
		httpMux.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

type handlers struct {
	deps *Deps
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *handlers) instrument(endpoint string, fn runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r, params)
		if m := h.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// ============================================================================
// Query routes
// ============================================================================

func (h *handlers) getCdp(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := ledger.ParseAccountID(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := h.deps.QueryService.GetCdp(r.Context(), owner)
	respond(w, resp, err)
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	asset, ok := ledger.ParseAsset(params["asset"])
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown asset %q", params["asset"]))
		return
	}
	account, err := ledger.ParseAccountID(params["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := h.deps.QueryService.GetBalance(r.Context(), asset, account)
	respond(w, resp, err)
}

func (h *handlers) getPrices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.QueryService.GetPrices(r.Context())
	respond(w, resp, err)
}

func (h *handlers) getTotals(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.QueryService.GetTotals(r.Context())
	respond(w, resp, err)
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.deps.QueryService.GetStatus(r.Context())
	respond(w, resp, err)
}

func (h *handlers) listOps(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	account, err := ledger.ParseAccountID(q.Get("account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("account: %w", err))
		return
	}
	limit, err := pageSize(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var before *int64
	if s := q.Get("before"); s != "" {
		seq, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("before: %w", err))
			return
		}
		before = &seq
	}

	entries, err := h.deps.QueryService.GetOpHistory(r.Context(), account, limit, before)
	respond(w, map[string]any{"ops": entries}, err)
}

func (h *handlers) listLiquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	limit, err := pageSize(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var owner *ledger.AccountID
	if s := q.Get("owner"); s != "" {
		id, err := ledger.ParseAccountID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("owner: %w", err))
			return
		}
		owner = &id
	}
	writeJSON(w, http.StatusOK, h.deps.QueryService.GetLiquidations(owner, limit))
}

// ============================================================================
// Admin routes
// ============================================================================

func (h *handlers) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := h.deps.QueryService.VerifyIntegrity(r.Context())
	respond(w, report, err)
}

// SubmitOpResponse acknowledges a queued operation. The outcome is
// visible in the op log once the core has applied it.
type SubmitOpResponse struct {
	Accepted bool   `json:"accepted"`
	OpID     string `json:"op_id"`
	OpType   string `json:"op_type"`
}

// submitOp queues an op exactly as if it came from NATS, including root
// origins, so it is only open to holders of the admin token.
func (h *handlers) submitOp(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if status, err := h.authorizeAdmin(r); err != nil {
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer realm="oriumledger"`)
		}
		writeError(w, status, err)
		return
	}
	if h.deps.IngestService == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("ingest disabled"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOpBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	op, err := h.deps.IngestService.Submit(r.Context(), body)
	switch {
	case errors.Is(err, ingestion.ErrInvalidOp):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitOpResponse{
		Accepted: true,
		OpID:     op.IdempotencyKey(),
		OpType:   op.OpType().String(),
	})
}

// ============================================================================
// Helpers
// ============================================================================

func pageSize(s string) (int, error) {
	if s == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}

func respond(w http.ResponseWriter, body any, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, body)
	}
}

func (h *handlers) authorizeAdmin(r *http.Request) (int, error) {
	if h.deps.AdminToken == "" {
		return http.StatusForbidden, errors.New("admin submission disabled: ORIUM_ADMIN_TOKEN not set")
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return http.StatusUnauthorized, errors.New("admin token required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.AdminToken)) != 1 {
		return http.StatusForbidden, errors.New("invalid admin token")
	}
	return 0, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
