package server_test

import (
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/observability"
	"OriumLedger/internal/projection"
	"OriumLedger/internal/query"
	"OriumLedger/internal/server"
	"OriumLedger/internal/state"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	opID       = "550e8400-e29b-41d4-a716-446655440000"
	adminToken = "test-admin-token-0123456789"
)

type fixture struct {
	handler http.Handler
	inbound chan ingestion.Inbound
	health  *observability.HealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithToken(t, adminToken)
}

func newFixtureWithToken(t *testing.T, token string) *fixture {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	inbound := make(chan ingestion.Inbound, 4)

	history := projection.NewLiquidationHistory(10)
	history.Add(projection.LiquidationEntry{Sequence: 3, Owner: 1, Liquidator: 2, Collateral: "5000"})
	history.Add(projection.LiquidationEntry{Sequence: 9, Owner: 7, Liquidator: 2, Collateral: "10"})

	health := observability.NewHealthChecker()
	h, err := server.NewHTTPHandler(&server.Deps{
		// nil DB: only routes that fail validation or never touch Postgres are exercised
		QueryService:  query.NewQueryService(nil, state.DefaultParams(), history),
		IngestService: ingestion.NewAdminIngestService(inbound, metrics),
		HealthChecker: health,
		Metrics:       metrics,
		Gatherer:      reg,
		AdminToken:    token,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &fixture{handler: h, inbound: inbound, health: health}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	return f.doWithAuth(method, path, body, "Bearer "+adminToken)
}

func (f *fixture) doWithAuth(method, path, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Test: op submission
// ============================================================================

func TestSubmitOp_Accepted(t *testing.T) {
	f := newFixture(t)

	body := `{"op_type":"create_cdp","op_id":"` + opID + `","origin":"signed:1","height":5,"sequence":1,"collateral":"5000"}`
	rec := f.do("POST", "/v1/ops", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}

	var resp server.SubmitOpResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Accepted || resp.OpID != opID || resp.OpType != "create_cdp" {
		t.Errorf("response: %+v", resp)
	}

	select {
	case in := <-f.inbound:
		if in.Source != ingestion.SourceAdmin {
			t.Errorf("source: got %s", in.Source)
		}
	default:
		t.Fatal("op was not queued")
	}
}

func TestSubmitOp_Invalid(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`not json`,
		`{"op_type":"create_cdp"}`,
		`{"op_type":"nope","op_id":"` + opID + `"}`,
	} {
		if rec := f.do("POST", "/v1/ops", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", body, rec.Code)
		}
	}
	if len(f.inbound) != 0 {
		t.Fatalf("invalid ops must not be queued, got %d", len(f.inbound))
	}
}

func TestSubmitOp_RequiresAdminToken(t *testing.T) {
	f := newFixture(t)
	rootMint := `{"op_type":"mint","op_id":"` + opID + `","origin":"root","sequence":0,"asset":"ORM","to":9,"amount":"1000000"}`

	for _, tc := range []struct {
		name          string
		authorization string
		want          int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + adminToken, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"wrong token", "Bearer not-the-admin-token", http.StatusForbidden},
		{"token prefix", "Bearer " + adminToken[:10], http.StatusForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.doWithAuth("POST", "/v1/ops", rootMint, tc.authorization)
			if rec.Code != tc.want {
				t.Errorf("status: got %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
			if tc.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate")
			}
		})
	}
	if len(f.inbound) != 0 {
		t.Fatalf("unauthorized root op was queued: %d", len(f.inbound))
	}

	if rec := f.do("POST", "/v1/ops", rootMint); rec.Code != http.StatusAccepted {
		t.Errorf("with token: got %d, want 202", rec.Code)
	}
}

func TestSubmitOp_DisabledWithoutConfiguredToken(t *testing.T) {
	f := newFixtureWithToken(t, "")
	body := `{"op_type":"mint","op_id":"` + opID + `","origin":"root","asset":"ORM","to":9,"amount":"1"}`

	for _, authorization := range []string{"", "Bearer ", "Bearer anything"} {
		if rec := f.doWithAuth("POST", "/v1/ops", body, authorization); rec.Code != http.StatusForbidden {
			t.Errorf("%q: got %d, want 403", authorization, rec.Code)
		}
	}
	if len(f.inbound) != 0 {
		t.Fatal("op queued while submission is disabled")
	}

	// Read routes stay open
	if rec := f.doWithAuth("GET", "/v1/liquidations", "", ""); rec.Code != http.StatusOK {
		t.Errorf("liquidations: got %d, want 200", rec.Code)
	}
}

// ============================================================================
// Test: parameter validation
// ============================================================================

func TestQueryRoutes_BadParams(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name, path string
	}{
		{"cdp owner not numeric", "/v1/cdps/alice"},
		{"unknown asset", "/v1/balances/BTC/1"},
		{"balance account not numeric", "/v1/balances/dUSD/x"},
		{"ops without account", "/v1/ops"},
		{"ops bad limit", "/v1/ops?account=1&limit=-3"},
		{"ops bad cursor", "/v1/ops?account=1&before=abc"},
		{"liquidations bad owner", "/v1/liquidations?owner=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do("GET", tt.path, ""); rec.Code != http.StatusBadRequest {
				t.Errorf("got %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListLiquidations(t *testing.T) {
	f := newFixture(t)

	rec := f.do("GET", "/v1/liquidations?owner=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var resp query.LiquidationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Liquidations) != 1 || resp.Liquidations[0].Sequence != 9 {
		t.Fatalf("liquidations: %+v", resp.Liquidations)
	}

	rec = f.do("GET", "/v1/liquidations?limit=1", "")
	resp = query.LiquidationsResponse{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Liquidations) != 1 || resp.Liquidations[0].Sequence != 9 {
		t.Fatalf("recent: %+v", resp.Liquidations)
	}
}

// ============================================================================
// Test: health and metrics
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	if rec := f.do("GET", "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d", rec.Code)
	}
	if rec := f.do("GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before recovery: got %d, want 503", rec.Code)
	}

	f.health.SetReady(true)
	if rec := f.do("GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz after recovery: got %d", rec.Code)
	}

	f.health.SetDependency("postgres", false)
	if rec := f.do("GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failed dependency: got %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint_CountsRequests(t *testing.T) {
	f := newFixture(t)
	f.do("GET", "/v1/cdps/alice", "")

	rec := f.do("GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `orium_query_requests_total{endpoint="get_cdp",status="400"} 1`) {
		t.Errorf("request counter missing from:\n%s", rec.Body.String())
	}
}
