package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridian-capital/fund-engine/internal/api"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// idleData is exhausted from the start, so a run completes immediately.
type idleData struct {
	queue *fund.Queue
}

func (d *idleData) Events() *fund.Queue { return d.queue }

func (d *idleData) RequestPrices(ctx context.Context) error { return nil }

func (d *idleData) ContinueTrading() bool { return false }

func (d *idleData) Update() error { return nil }

// pacedData keeps a run alive for a fixed number of periods.
type pacedData struct {
	queue   *fund.Queue
	periods int
	cursor  int
	done    bool
}

func (d *pacedData) Events() *fund.Queue { return d.queue }

func (d *pacedData) RequestPrices(ctx context.Context) error {
	if d.cursor >= d.periods {
		d.done = true
	}
	return nil
}

func (d *pacedData) ContinueTrading() bool { return !d.done }

func (d *pacedData) Update() error {
	d.cursor++
	return nil
}

type idleController struct{}

func (idleController) Portfolios() []fund.Portfolio { return nil }

func (idleController) Strategies() []fund.Strategy { return nil }

func (idleController) ProcessMarketEvent(*fund.MarketEvent) error { return nil }

func (idleController) Rebalance() error { return nil }

func (idleController) Manage() error { return nil }

type idleExecution struct{}

func (idleExecution) ExecuteOrder(*fund.OrderEvent) error { return nil }

func newIdleFund(t *testing.T, emitter fund.Emitter) (*fund.Fund, error) {
	t.Helper()
	f, err := fund.New(zap.NewNop(), &idleData{queue: fund.NewQueue()}, idleExecution{}, idleController{}, types.FundConfig{})
	if err != nil {
		return nil, err
	}
	f.SetEmitter(emitter)
	return f, nil
}

func newTestServer(t *testing.T, builder api.Builder) *api.Server {
	t.Helper()
	hub := api.NewHub(zap.NewNop())
	go hub.Run()
	cfg := &types.ServerConfig{Host: "localhost", Port: 0, WebSocketPath: "/ws"}
	return api.NewServer(zap.NewNop(), cfg, hub, builder)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestRunLifecycleEndpoints(t *testing.T) {
	builder := func(emitter fund.Emitter) (*fund.Fund, error) {
		return newIdleFund(t, emitter)
	}
	s := newTestServer(t, builder)

	// Start a run.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var started api.RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if started.ID == "" || started.Status != "running" {
		t.Errorf("Unexpected run status %+v", started)
	}

	// The idle run finishes immediately; the status should flip to completed.
	deadline := time.Now().Add(2 * time.Second)
	for {
		req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+started.ID, nil)
		w = httptest.NewRecorder()
		s.Router().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var run api.RunStatus
		if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
			t.Fatalf("Invalid JSON response: %v", err)
		}
		if run.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Run never completed, status %q", run.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The run list includes it.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	var runs []api.RunStatus
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != started.ID {
		t.Errorf("Expected the started run in the list, got %v", runs)
	}
}

func TestRunOutlivesStartRequest(t *testing.T) {
	builder := func(emitter fund.Emitter) (*fund.Fund, error) {
		data := &pacedData{queue: fund.NewQueue(), periods: 10}
		f, err := fund.New(zap.NewNop(), data, idleExecution{}, idleController{}, types.FundConfig{
			Delay: 10 * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		f.SetEmitter(emitter)
		return f, nil
	}
	s := newTestServer(t, builder)

	// A real HTTP server cancels the request context when the handler
	// returns; the run must not inherit it.
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", resp.StatusCode)
	}
	var started api.RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		getResp, err := http.Get(srv.URL + "/api/v1/runs/" + started.ID)
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		var run api.RunStatus
		err = json.NewDecoder(getResp.Body).Decode(&run)
		getResp.Body.Close()
		if err != nil {
			t.Fatalf("Invalid JSON response: %v", err)
		}
		if run.Status == "failed" {
			t.Fatalf("Run failed after the start request returned: %s", run.Error)
		}
		if run.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Run never completed, status %q", run.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGetUnknownRun(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestPortfoliosEndpointServesCachedStates(t *testing.T) {
	hub := api.NewHub(zap.NewNop())
	go hub.Run()
	cfg := &types.ServerConfig{Host: "localhost", Port: 0, WebSocketPath: "/ws"}
	s := api.NewServer(zap.NewNop(), cfg, hub, nil)

	hub.EmitPortfolio(types.PortfolioState{
		PortfolioID: "p1",
		Cash:        decimal.NewFromInt(1000),
		Equity:      decimal.NewFromInt(1500),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolios", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var states map[string]types.PortfolioState
	if err := json.Unmarshal(w.Body.Bytes(), &states); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	state, ok := states["p1"]
	if !ok {
		t.Fatalf("Expected portfolio p1 in %v", states)
	}
	if !state.Equity.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("Expected equity 1500, got %s", state.Equity)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 from /metrics, got %d", w.Code)
	}
}
