package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/insightagent/internal/config"
	"github.com/seenimoa/insightagent/internal/edgar"
	"github.com/seenimoa/insightagent/internal/intent"
	"github.com/seenimoa/insightagent/internal/pipeline"
	"github.com/seenimoa/insightagent/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

const testFiling = `<html><body>
<ix:nonFraction name="us-gaap:NetIncomeLoss" contextRef="FY2022" unitRef="usd" decimals="-6">99803000000</ix:nonFraction>
<ix:nonFraction name="us-gaap:RevenueFromContractWithCustomerExcludingAssessedTax" contextRef="FY2022" unitRef="usd">394328000000</ix:nonFraction>
</body></html>`

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubRetriever returns testFiling, or err when set.
type stubRetriever struct {
	err error
}

func (s stubRetriever) Retrieve(_ context.Context, id string, year int, form string) (*edgar.FilingDocument, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &edgar.FilingDocument{Identifier: id, Year: year, Form: form, Text: testFiling}, nil
}

// keywordParser understands "<TICKER> <metric> <year>" and rejects anything else.
var keywordParser = intent.ParserFunc(func(_ context.Context, q string) (models.Intent, error) {
	var in models.Intent
	if _, err := fmt.Sscanf(q, "%s %s %d", &in.CompanyIdentifier, &in.MetricName, &in.Year); err != nil {
		return models.Intent{}, &intent.ParseError{Query: q, Reason: "could not find ticker, metric and year"}
	}
	return in, nil
})

// stubFeed serves a fixed entry list.
type stubFeed struct {
	err     error
	gotCIK  string
	gotForm string
	gotN    int
}

func (f *stubFeed) RecentFilings(_ context.Context, cik, form string, limit int) ([]edgar.FeedEntry, error) {
	f.gotCIK, f.gotForm, f.gotN = cik, form, limit
	if f.err != nil {
		return nil, f.err
	}
	return []edgar.FeedEntry{{Title: "10-K - Annual report", Form: "10-K", Link: "https://www.sec.gov/x"}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		LLM:      config.LLMConfig{OpenAIKey: "sk-test-secret-value"},
		EDGAR:    config.EDGARConfig{UserAgent: "InsightAgent test@example.com"},
		Pipeline: config.PipelineConfig{BatchConcurrency: 2},
		API:      config.APIConfig{RequestTimeoutSec: 5},
	}
}

func testServer(t *testing.T, retriever pipeline.Retriever, opts ...Option) *Server {
	t.Helper()
	orch := pipeline.New(pipeline.Config{
		Parser:    keywordParser,
		Retriever: retriever,
		Logger:    quietLog,
	})
	srv := NewServer(testConfig(), orch, append([]Option{WithLogger(quietLog)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.StartHub(ctx)
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// resultResponse is APIResponse with the pipeline result decoded.
type resultResponse struct {
	Success   bool                  `json:"success"`
	Data      models.PipelineResult `json:"data"`
	Error     string                `json:"error"`
	ErrorKind string                `json:"error_kind"`
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) resultResponse {
	t.Helper()
	var resp resultResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// ════════════════════════════════════════════════════════════════════
// Health
// ════════════════════════════════════════════════════════════════════

func TestHandleHealth(t *testing.T) {
	srv := testServer(t, stubRetriever{}, WithVersion("1.2.3"))

	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := do(t, srv, "GET", path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status: got %d, want %d", path, rec.Code, http.StatusOK)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type: got %q", ct)
		}
		resp := decodeResponse(t, rec)
		data, ok := resp.Data.(map[string]any)
		if !ok {
			t.Fatal("data should be a map")
		}
		if data["status"] != "ok" {
			t.Errorf("status: got %v", data["status"])
		}
		if data["version"] != "1.2.3" {
			t.Errorf("version: got %v", data["version"])
		}
		if data["companies"] != float64(8) {
			t.Errorf("companies: got %v", data["companies"])
		}
	}
}

type stubHealth map[string]error

func (h stubHealth) HealthCheck(context.Context) map[string]error { return h }

func TestHandleHealth_Deep(t *testing.T) {
	srv := testServer(t, stubRetriever{}, WithHealthChecker(stubHealth{
		"openai": nil,
		"ollama": fmt.Errorf("connection refused"),
	}))

	resp := decodeResponse(t, do(t, srv, "GET", "/health?deep=true", ""))
	data := resp.Data.(map[string]any)
	if data["status"] != "degraded" {
		t.Errorf("status: got %v, want degraded", data["status"])
	}
	providers := data["llm"].(map[string]any)
	if providers["openai"] != "ok" {
		t.Errorf("openai: got %v", providers["openai"])
	}
	if providers["ollama"] != "connection refused" {
		t.Errorf("ollama: got %v", providers["ollama"])
	}
}

// ════════════════════════════════════════════════════════════════════
// Queries
// ════════════════════════════════════════════════════════════════════

func TestHandleQuery_Success(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "POST", "/api/v1/query",
		`{"company_identifier":"aapl","metric_name":"NetIncome","year":2022}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	resp := decodeResult(t, rec)
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	ev := resp.Data.ExtractedValue
	if ev == nil {
		t.Fatal("missing extracted_value")
	}
	if ev.Ticker != "AAPL" || ev.Value != "99803000000" || ev.Unit != "usd" || ev.TagUsed != "us-gaap:NetIncomeLoss" {
		t.Errorf("extracted_value: %+v", ev)
	}
	if resp.Data.ParsedIntent == nil || resp.Data.ParsedIntent.FilingType != "10-K" {
		t.Errorf("parsed_intent: %+v", resp.Data.ParsedIntent)
	}
}

func TestHandleQuery_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		retriever stubRetriever
		body      string
		status    int
		kind      string
	}{
		{
			name:   "unsupported company",
			body:   `{"company_identifier":"IBM","metric_name":"Revenue","year":2023}`,
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "missing metric",
			body:   `{"company_identifier":"AAPL","year":2023}`,
			status: http.StatusBadRequest,
			kind:   "bad_request",
		},
		{
			name:   "unsupported form",
			body:   `{"company_identifier":"AAPL","metric_name":"Revenue","year":2023,"filing_type":"8-K"}`,
			status: http.StatusBadRequest,
			kind:   "bad_request",
		},
		{
			name:   "metric absent from filing",
			body:   `{"company_identifier":"AAPL","metric_name":"TotalAssets","year":2022}`,
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:      "filing not found",
			retriever: stubRetriever{err: &edgar.NotFoundError{Identifier: "AAPL", Year: 1995, Form: "10-K"}},
			body:      `{"company_identifier":"AAPL","metric_name":"Revenue","year":1995}`,
			status:    http.StatusNotFound,
			kind:      "not_found",
		},
		{
			name:      "sec unavailable",
			retriever: stubRetriever{err: &edgar.RemoteFetchError{URL: "https://data.sec.gov/x", StatusCode: 503}},
			body:      `{"company_identifier":"AAPL","metric_name":"Revenue","year":2022}`,
			status:    http.StatusBadGateway,
			kind:      "upstream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, tt.retriever)
			rec := do(t, srv, "POST", "/api/v1/query", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status: got %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			resp := decodeResult(t, rec)
			if resp.Success {
				t.Error("expected success=false")
			}
			if resp.ErrorKind != tt.kind {
				t.Errorf("error_kind: got %q, want %q", resp.ErrorKind, tt.kind)
			}
			if resp.Error == "" || resp.Error != resp.Data.Error {
				t.Errorf("error: envelope %q, result %q", resp.Error, resp.Data.Error)
			}
		})
	}
}

func TestHandleQuery_InvalidJSON(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "POST", "/api/v1/query", "{invalid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
	resp := decodeResponse(t, rec)
	if resp.Success || resp.ErrorKind != "bad_request" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleAsk(t *testing.T) {
	srv := testServer(t, stubRetriever{})

	rec := do(t, srv, "POST", "/api/v1/ask", `{"query":"MSFT Revenue 2022"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResult(t, rec)
	if resp.Data.Query != "MSFT Revenue 2022" {
		t.Errorf("query: got %q", resp.Data.Query)
	}
	if resp.Data.ExtractedValue == nil || resp.Data.ExtractedValue.Value != "394328000000" {
		t.Errorf("extracted_value: %+v", resp.Data.ExtractedValue)
	}
}

func TestHandleAsk_NotUnderstood(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "POST", "/api/v1/ask", `{"query":"how is the weather"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	resp := decodeResult(t, rec)
	if resp.ErrorKind != "unprocessable" {
		t.Errorf("error_kind: got %q", resp.ErrorKind)
	}
	if resp.Data.ParsedIntent != nil {
		t.Error("parsed_intent should be null")
	}
}

func TestHandleAsk_MissingQuery(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	for _, body := range []string{`{}`, `{"query":""}`, `nope`} {
		rec := do(t, srv, "POST", "/api/v1/ask", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: got %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Batch
// ════════════════════════════════════════════════════════════════════

func TestHandleBatch(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	body := `{"queries":[
		{"query":"AAPL NetIncome 2022"},
		{"company_identifier":"IBM","metric_name":"Revenue","year":2022},
		{"query":"gibberish"},
		{"company_identifier":"NVDA","metric_name":"Revenue","year":2022}
	]}`
	rec := do(t, srv, "POST", "/api/v1/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool          `json:"success"`
		Data    BatchResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Total != 4 || resp.Data.Succeeded != 2 || resp.Data.Failed != 2 {
		t.Errorf("counts: %+v", resp.Data)
	}
	wantOK := []bool{true, false, false, true}
	for i, res := range resp.Data.Results {
		if res.Success != wantOK[i] {
			t.Errorf("result[%d].Success: got %v, want %v (%s)", i, res.Success, wantOK[i], res.Error)
		}
	}
	if resp.Data.Results[1].ErrorKind != "not_found" {
		t.Errorf("result[1].ErrorKind: got %q", resp.Data.Results[1].ErrorKind)
	}
	if resp.Data.Results[2].ErrorKind != "unprocessable" {
		t.Errorf("result[2].ErrorKind: got %q", resp.Data.Results[2].ErrorKind)
	}
}

func TestHandleBatch_Limits(t *testing.T) {
	srv := testServer(t, stubRetriever{})

	rec := do(t, srv, "POST", "/api/v1/batch", `{"queries":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch: got %d", rec.Code)
	}

	items := make([]string, MaxBatchSize+1)
	for i := range items {
		items[i] = `{"query":"AAPL Revenue 2022"}`
	}
	rec = do(t, srv, "POST", "/api/v1/batch", `{"queries":[`+strings.Join(items, ",")+`]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized batch: got %d", rec.Code)
	}
}

func TestBatchItemRequest(t *testing.T) {
	var item BatchItem
	if err := json.Unmarshal([]byte(`{"company_identifier":"AAPL","metric_name":"Revenue","year":2022,"filing_type":"10-Q"}`), &item); err != nil {
		t.Fatal(err)
	}
	req := item.Request()
	if req.Intent == nil {
		t.Fatal("structured item should produce an intent")
	}
	if req.Intent.FilingType != "10-Q" || req.Intent.Year != 2022 {
		t.Errorf("intent: %+v", req.Intent)
	}

	item = BatchItem{Query: "apple revenue"}
	if req := item.Request(); req.Intent != nil || req.Query != "apple revenue" {
		t.Errorf("free text item: %+v", req)
	}
}

// ════════════════════════════════════════════════════════════════════
// Reference data
// ════════════════════════════════════════════════════════════════════

func TestHandleRegistry(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "GET", "/api/v1/registry", "")

	var resp struct {
		Data []CompanyInfo `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 8 {
		t.Fatalf("got %d companies, want 8", len(resp.Data))
	}
	if resp.Data[0].Identifier != "AAPL" || resp.Data[0].CIK != "0000320193" {
		t.Errorf("first entry: %+v", resp.Data[0])
	}
	for i := 1; i < len(resp.Data); i++ {
		if resp.Data[i-1].Identifier > resp.Data[i].Identifier {
			t.Errorf("not sorted at %d", i)
		}
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "GET", "/api/v1/metrics", "")

	var resp struct {
		Data []MetricInfo `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, m := range resp.Data {
		if m.Name == "NetIncome" {
			found = true
			if len(m.Tags) != 1 || m.Tags[0] != "us-gaap:NetIncomeLoss" {
				t.Errorf("NetIncome tags: %v", m.Tags)
			}
		}
	}
	if !found {
		t.Error("NetIncome missing from metrics")
	}
}

func TestHandleRecentFilings(t *testing.T) {
	feed := &stubFeed{}
	srv := testServer(t, stubRetriever{}, WithFeed(feed))

	rec := do(t, srv, "GET", "/api/v1/filings/aapl/recent?form=10-K&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	if feed.gotCIK != "0000320193" || feed.gotForm != "10-K" || feed.gotN != 5 {
		t.Errorf("feed called with %q %q %d", feed.gotCIK, feed.gotForm, feed.gotN)
	}
	var resp struct {
		Data []edgar.FeedEntry `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Form != "10-K" {
		t.Errorf("entries: %+v", resp.Data)
	}
}

func TestHandleRecentFilings_Errors(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		path   string
		status int
	}{
		{"no feed", nil, "/api/v1/filings/AAPL/recent", http.StatusNotImplemented},
		{"unsupported company", []Option{WithFeed(&stubFeed{})}, "/api/v1/filings/IBM/recent", http.StatusNotFound},
		{"bad limit", []Option{WithFeed(&stubFeed{})}, "/api/v1/filings/AAPL/recent?limit=abc", http.StatusBadRequest},
		{"feed down", []Option{WithFeed(&stubFeed{err: &edgar.RemoteFetchError{StatusCode: 503}})}, "/api/v1/filings/AAPL/recent", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, stubRetriever{}, tt.opts...)
			rec := do(t, srv, "GET", tt.path, "")
			if rec.Code != tt.status {
				t.Errorf("status: got %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Configuration
// ════════════════════════════════════════════════════════════════════

func TestHandleGetConfig_HidesSecrets(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "GET", "/api/v1/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "sk-test-secret-value") {
		t.Error("config response leaks the API key")
	}
	if !strings.Contains(body, "InsightAgent test@example.com") {
		t.Error("config response should include the SEC user agent")
	}
}

func TestHandleGetConfigKeys(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	rec := do(t, srv, "GET", "/api/v1/config/keys", "")

	var resp struct {
		Data []config.KeyStatus `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d keys, want 2", len(resp.Data))
	}
	for _, k := range resp.Data {
		if !k.IsSet {
			t.Errorf("%s should be set", k.Name)
		}
		if strings.Contains(k.Masked, "secret-value") {
			t.Errorf("%s not masked: %q", k.Name, k.Masked)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadGateway, pipeline.CategoryUpstream, "sec down")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Success || resp.Error != "sec down" || resp.ErrorKind != "upstream" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestErrorResponsesAreValidJSON(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	paths := []struct{ method, path, body string }{
		{"POST", "/api/v1/query", "{"},
		{"POST", "/api/v1/ask", "{"},
		{"POST", "/api/v1/batch", "{"},
		{"GET", "/api/v1/filings/AAPL/recent", ""},
	}
	for _, p := range paths {
		rec := do(t, srv, p.method, p.path, p.body)
		var resp APIResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("%s %s: invalid JSON: %v", p.method, p.path, err)
			continue
		}
		if resp.Success {
			t.Errorf("%s %s: expected success=false", p.method, p.path)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// WebSocket
// ════════════════════════════════════════════════════════════════════

func TestWebSocket_UnavailableUntilHubStarts(t *testing.T) {
	orch := pipeline.New(pipeline.Config{Parser: keywordParser, Retriever: stubRetriever{}, Logger: quietLog})
	srv := NewServer(testConfig(), orch, WithLogger(quietLog))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	done := make(chan struct{})
	var resp *http.Response
	var err error
	go func() {
		defer close(done)
		_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dial blocked without a running hub")
	}
	if err == nil {
		t.Fatal("expected dial to fail without a running hub")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", resp)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.StartHub(ctx)
	srv.StartHub(ctx) // second call is a no-op

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial after StartHub: %v", err)
	}
	conn.Close()
}

func TestWebSocket_StreamsStagesThenResult(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := `{"type":"query","intent":{"company_identifier":"AAPL","metric_name":"NetIncome","year":2022}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatal(err)
	}

	var stages []string
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == msgStage {
			var e pipeline.Event
			if err := json.Unmarshal(msg.Data, &e); err != nil {
				t.Fatal(err)
			}
			stages = append(stages, fmt.Sprintf("%s:%s", e.Stage, e.Status))
			continue
		}
		if msg.Type != msgResult {
			t.Fatalf("unexpected message type %q", msg.Type)
		}
		var res models.PipelineResult
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			t.Fatal(err)
		}
		if !res.Success || res.ExtractedValue == nil || res.ExtractedValue.Value != "99803000000" {
			t.Errorf("result: %+v", res)
		}
		break
	}

	if len(stages) != 7 || stages[len(stages)-1] != "done:completed" {
		t.Errorf("stages: %v", stages)
	}
}

func TestWebSocket_PingAndBadMessages(t *testing.T) {
	srv := testServer(t, stubRetriever{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	exchanges := []struct{ send, want string }{
		{`{"type":"ping"}`, msgPong},
		{`not json`, msgError},
		{`{"type":"ask"}`, msgError},
		{`{"type":"subscribe"}`, msgError},
	}
	for _, ex := range exchanges {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ex.send)); err != nil {
			t.Fatal(err)
		}
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != ex.want {
			t.Errorf("send %s: got %q, want %q", ex.send, msg.Type, ex.want)
		}
	}
}

// ════════════════════════════════════════════════════════════════════
// WebSocket Hub tests
// ════════════════════════════════════════════════════════════════════

func startHub(t *testing.T) *WSHub {
	t.Helper()
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestWSHub_RegisterAndUnregister(t *testing.T) {
	hub := startHub(t)
	client := newWSClient(hub)

	hub.Register(client)
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("after register: ClientCount=%d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister: ClientCount=%d, want 0", hub.ClientCount())
	}
	select {
	case <-client.done:
	default:
		t.Error("unregistered client should be closed")
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := startHub(t)
	client1 := newWSClient(hub)
	client2 := newWSClient(hub)
	hub.Register(client1)
	hub.Register(client2)
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(WSMessage{Type: "test", Data: "hello"})

	for i, c := range []*WSClient{client1, client2} {
		select {
		case got := <-c.send:
			if got.Type != "test" {
				t.Errorf("client%d got type=%q, want 'test'", i+1, got.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client%d did not receive message", i+1)
		}
	}
}

func TestWSHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewWSHub() // not running, so the broadcast buffer fills

	done := make(chan bool)
	go func() {
		for i := 0; i < 300; i++ {
			hub.Broadcast(WSMessage{Type: "test"})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked when buffer was full")
	}
}

func TestWSHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := startHub(t)

	var wg sync.WaitGroup
	clients := make([]*WSClient, 50)
	for i := range clients {
		clients[i] = newWSClient(hub)
	}
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Register(c)
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	if got := hub.ClientCount(); got != len(clients) {
		t.Errorf("after all registered: ClientCount=%d, want %d", got, len(clients))
	}

	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("after all unregistered: ClientCount=%d, want 0", got)
	}
}

func TestWSHub_StopClosesClients(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := newWSClient(hub)
	hub.Register(client)
	cancel()

	select {
	case <-client.done:
	case <-time.After(time.Second):
		t.Fatal("client not closed when hub stopped")
	}

	late := newWSClient(hub)
	hub.Register(late) // must not block once stopped
	select {
	case <-late.done:
	case <-time.After(time.Second):
		t.Fatal("late client not closed")
	}
}
