package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"votewatch/internal/calibrate"
	"votewatch/internal/config"
	"votewatch/internal/metrics"
	"votewatch/internal/poller"
	"votewatch/internal/store"
)

func testMux(t *testing.T) (*http.ServeMux, *store.History) {
	t.Helper()
	h, err := store.OpenHistory(filepath.Join(t.TempDir(), "votewatch.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	cfg := config.Config{PollInterval: time.Minute, LogPath: "vote_log.csv"}
	m := metrics.New()
	p := poller.New(cfg, nil, calibrate.NewState(1000), store.NewLog(cfg.LogPath), h, m, nil)
	mux := http.NewServeMux()
	NewRouter(cfg, h, m, p).Register(mux)
	return mux, h
}

func TestHealth(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["phase"] != "idle" {
		t.Fatalf("expected idle phase, got %v", payload["phase"])
	}
}

func TestStandings(t *testing.T) {
	mux, h := testMux(t)
	results := []calibrate.Result{
		{Rank: 1, Name: "Linh", Percent: 41.2, Votes: 420000},
		{Rank: 2, Name: "Minh", Percent: 33.1, Votes: 336800},
	}
	if err := h.RecordCycle(context.Background(), "c1", time.Now(), 1017428, results); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/standings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []calibrate.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Linh" {
		t.Fatalf("unexpected standings %+v", got)
	}
}

func TestStandingsEmpty(t *testing.T) {
	mux, _ := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/standings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestCyclesLimit(t *testing.T) {
	mux, h := testMux(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		id := "c" + string(rune('0'+i))
		if err := h.RecordCycle(context.Background(), id, base.Add(time.Duration(i)*time.Minute), 1000+int64(i), nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/cycles?limit=3", nil))
	var got []store.CycleSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 cycles, got %d", len(got))
	}
	if got[0].Total != 1004 {
		t.Fatalf("expected newest cycle first, got %+v", got[0])
	}
}
