package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AskBaseAI/askbase/engine/domain"
	"github.com/AskBaseAI/askbase/engine/qa"
	"github.com/AskBaseAI/askbase/engine/semantic"
	"github.com/AskBaseAI/askbase/pkg/resilience"
)

// --- Fakes ---

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

type fakeStore struct {
	records       []semantic.VectorRecord
	searchResults []semantic.SearchResult
	err           error
}

func (s *fakeStore) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeStore) Search(context.Context, []float32, int, float32) ([]semantic.SearchResult, error) {
	return s.searchResults, s.err
}

func (s *fakeStore) Scroll(context.Context, string, int) ([]semantic.StoredRecord, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.stored(), "", nil
}

func (s *fakeStore) ScrollAll(context.Context) ([]semantic.StoredRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stored(), nil
}

func (s *fakeStore) stored() []semantic.StoredRecord {
	out := make([]semantic.StoredRecord, len(s.records))
	for i, r := range s.records {
		out[i] = semantic.StoredRecord{ID: r.ID, Question: r.Question, Answer: r.Answer}
	}
	return out
}

func (s *fakeStore) DeleteByPayload(_ context.Context, fields map[string]string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	var kept []semantic.VectorRecord
	removed := 0
	for _, r := range s.records {
		if r.Question == fields[domain.PayloadQuestion] && r.Answer == fields[domain.PayloadAnswer] {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func testService(store *fakeStore, embed qa.Embedder) *qa.Service {
	opts := qa.DefaultOptions()
	opts.Retry.InitialWait = time.Millisecond
	opts.Retry.MaxWait = time.Millisecond
	return qa.New(embed, store, nil, opts, nil)
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	h(rec, req)
	return rec
}

// --- Handlers ---

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestAdd_Success(t *testing.T) {
	store := &fakeStore{}
	h := handleAdd(testService(store, &fakeEmbedder{}))

	rec := doJSON(t, h, "POST", "/add", `{"question":"What is 2+2?","answer":"4"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp AddResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.ID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(store.records) != 1 {
		t.Fatal("record not stored")
	}
}

func TestAdd_EmptyQuestionIs400(t *testing.T) {
	h := handleAdd(testService(&fakeStore{}, &fakeEmbedder{}))
	rec := doJSON(t, h, "POST", "/add", `{"question":"","answer":"4"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "detail") {
		t.Fatalf("expected detail in body: %s", rec.Body.String())
	}
}

func TestAdd_InvalidJSONIs400(t *testing.T) {
	h := handleAdd(testService(&fakeStore{}, &fakeEmbedder{}))
	rec := doJSON(t, h, "POST", "/add", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdd_BackendFailureIs500WithDetail(t *testing.T) {
	h := handleAdd(testService(&fakeStore{}, &fakeEmbedder{err: errors.New("model not loaded")}))
	rec := doJSON(t, h, "POST", "/add", `{"question":"q","answer":"a"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model not loaded") {
		t.Fatalf("expected underlying message in detail: %s", rec.Body.String())
	}
}

func TestSearch_ReturnsMatches(t *testing.T) {
	store := &fakeStore{searchResults: []semantic.SearchResult{
		{ID: "p1", Score: 0.9, Question: "What is 2+2?", Answer: "4"},
	}}
	h := handleSearch(testService(store, &fakeEmbedder{}))

	rec := doJSON(t, h, "POST", "/search", `{"query":"2+2","top":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var matches []qa.Match
	if err := json.NewDecoder(rec.Body).Decode(&matches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(matches) != 1 || matches[0].Question != "What is 2+2?" || matches[0].Answer != "4" {
		t.Fatalf("unexpected matches: %+v", matches)
	}
	// Vectors and ids must not leak into the response.
	if strings.Contains(rec.Body.String(), "p1") || strings.Contains(rec.Body.String(), "score") {
		t.Fatalf("internal fields leaked: %s", rec.Body.String())
	}
}

func TestSearch_EmptyResultIsJSONArray(t *testing.T) {
	h := handleSearch(testService(&fakeStore{}, &fakeEmbedder{}))
	rec := doJSON(t, h, "POST", "/search", `{"query":"nothing similar"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected [], got %s", rec.Body.String())
	}
}

func TestSearch_EmptyQueryIs400(t *testing.T) {
	h := handleSearch(testService(&fakeStore{}, &fakeEmbedder{}))
	rec := doJSON(t, h, "POST", "/search", `{"query":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAll_FullScan(t *testing.T) {
	store := &fakeStore{records: []semantic.VectorRecord{
		{ID: "1", Question: "q1", Answer: "a1"},
		{ID: "2", Question: "q2", Answer: "a2"},
	}}
	h := handleAll(testService(store, &fakeEmbedder{}))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/all", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var matches []qa.Match
	if err := json.NewDecoder(rec.Body).Decode(&matches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2, got %d", len(matches))
	}
}

func TestAll_Paged(t *testing.T) {
	store := &fakeStore{records: []semantic.VectorRecord{
		{ID: "1", Question: "q1", Answer: "a1"},
	}}
	h := handleAll(testService(store, &fakeEmbedder{}))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/all?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var page qa.Page
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestAll_BadLimitIs400(t *testing.T) {
	h := handleAll(testService(&fakeStore{}, &fakeEmbedder{}))
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/all?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDelete_ReportsCount(t *testing.T) {
	store := &fakeStore{records: []semantic.VectorRecord{
		{ID: "1", Question: "q", Answer: "a"},
		{ID: "2", Question: "q", Answer: "a"},
		{ID: "3", Question: "other", Answer: "a"},
	}}
	h := handleDelete(testService(store, &fakeEmbedder{}))

	rec := doJSON(t, h, "POST", "/delete", `{"question":"q","answer":"a"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp DeleteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", resp.Deleted)
	}
	if len(store.records) != 1 {
		t.Fatal("unmatched record must survive")
	}
}

func TestDelete_NoMatchStill200(t *testing.T) {
	h := handleDelete(testService(&fakeStore{}, &fakeEmbedder{}))
	rec := doJSON(t, h, "POST", "/delete", `{"question":"never","answer":"added"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"deleted":0}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

// --- Wiring ---

func TestBreakerEmbedder_PassThrough(t *testing.T) {
	be := &breakerEmbedder{
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		inner:   &fakeEmbedder{},
	}
	vec, err := be.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("wrong vector: %v", vec)
	}
}

func TestBreakerEmbedder_OpensAfterFailures(t *testing.T) {
	be := &breakerEmbedder{
		breaker: resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Cooldown: time.Minute}),
		inner:   &fakeEmbedder{err: errors.New("down")},
	}
	be.Embed(context.Background(), "x")
	_, err := be.Embed(context.Background(), "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

// --- Config ---

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Collection != "qa_collection" {
		t.Fatalf("expected default collection qa_collection, got %s", cfg.Collection)
	}
	if cfg.MinScore != 0.31 {
		t.Fatalf("expected default threshold 0.31, got %f", cfg.MinScore)
	}
	if cfg.RedisURL != "" || cfg.NATSURL != "" {
		t.Fatal("cache and events must be disabled by default")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "0.5")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_BAD_INT", "nope")

	if v := envOr("TEST_STR", "d"); v != "custom" {
		t.Fatalf("envOr: %s", v)
	}
	if v := envOr("MISSING_VAR_XYZ", "d"); v != "d" {
		t.Fatalf("envOr fallback: %s", v)
	}
	if v := envInt("TEST_INT", 1); v != 42 {
		t.Fatalf("envInt: %d", v)
	}
	if v := envInt("TEST_BAD_INT", 7); v != 7 {
		t.Fatalf("envInt bad value: %d", v)
	}
	if v := envFloat("TEST_FLOAT", 1); v != 0.5 {
		t.Fatalf("envFloat: %f", v)
	}
	if v := envDuration("TEST_DUR", time.Second); v != 90*time.Second {
		t.Fatalf("envDuration: %v", v)
	}
}
