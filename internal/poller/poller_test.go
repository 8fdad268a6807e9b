package poller

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"votewatch/internal/config"
	"votewatch/internal/events"
	"votewatch/internal/metrics"
	"votewatch/internal/store"
)

// scriptedFetcher returns one canned body per call.
type scriptedFetcher struct {
	bodies []string
	calls  int
}

func (f *scriptedFetcher) Fetch(ctx context.Context) (string, error) {
	if f.calls >= len(f.bodies) {
		return "", errors.New("script exhausted")
	}
	body := f.bodies[f.calls]
	f.calls++
	return body, nil
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context) (string, error) {
	return "", errors.New("both endpoints down")
}

func cycleBody(shares map[string]float64) string {
	body := `{"data":{"nominations":[`
	first := true
	for name, pct := range shares {
		if !first {
			body += ","
		}
		first = false
		body += fmt.Sprintf(`{"name":%q,"ratioVotes":%f}`, name, pct)
	}
	return body + `]}}`
}

func testPoller(t *testing.T, fetcher Fetcher) (*Poller, config.Config, *store.History) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		PollInterval: 10 * time.Millisecond,
		InitialTotal: 1000,
		LogPath:      filepath.Join(dir, "vote_log.csv"),
		SnapshotPath: filepath.Join(dir, "state.json"),
		DBPath:       filepath.Join(dir, "votewatch.db"),
	}
	history, err := store.OpenHistory(cfg.DBPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { history.Close() })
	state := store.LoadSnapshot(cfg.SnapshotPath, cfg.InitialTotal)
	p := New(cfg, fetcher, state, store.NewLog(cfg.LogPath), history, metrics.New(), events.NewBus())
	return p, cfg, history
}

func TestThreeCycleEndToEnd(t *testing.T) {
	fetcher := &scriptedFetcher{bodies: []string{
		cycleBody(map[string]float64{"Linh": 50.0, "Minh": 30.0, "Trang": 20.0}),
		cycleBody(map[string]float64{"Linh": 45.0, "Minh": 33.0, "Trang": 22.0}),
		cycleBody(map[string]float64{"Linh": 42.0, "Minh": 35.0, "Trang": 23.0}),
	}}
	p, cfg, _ := testPoller(t, fetcher)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.RunOnce(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
	}

	f, err := os.Open(cfg.LogPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected header + 9 rows, got %d", len(rows))
	}

	// Monotonic per-candidate votes and non-decreasing totals.
	prevVotes := map[string]int64{}
	var prevTotal int64
	for _, row := range rows[1:] {
		total, _ := strconv.ParseInt(row[1], 10, 64)
		votes, _ := strconv.ParseInt(row[5], 10, 64)
		name := row[3]
		if total < prevTotal {
			t.Fatalf("total column decreased: %d -> %d", prevTotal, total)
		}
		prevTotal = total
		if votes < prevVotes[name] {
			t.Fatalf("%s votes decreased: %d -> %d", name, prevVotes[name], votes)
		}
		prevVotes[name] = votes
	}
}

func TestFetchFailureIsSoft(t *testing.T) {
	p, cfg, _ := testPoller(t, failingFetcher{})
	err := p.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if _, statErr := os.Stat(cfg.LogPath); !os.IsNotExist(statErr) {
		t.Fatal("failed cycle must not persist anything")
	}
	if _, statErr := os.Stat(cfg.SnapshotPath); !os.IsNotExist(statErr) {
		t.Fatal("failed cycle must not write a snapshot")
	}
}

func TestEmptyExtractionIsSoft(t *testing.T) {
	fetcher := &scriptedFetcher{bodies: []string{"nothing useful here"}}
	p, cfg, _ := testPoller(t, fetcher)
	err := p.RunOnce(context.Background())
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
	if _, statErr := os.Stat(cfg.SnapshotPath); !os.IsNotExist(statErr) {
		t.Fatal("no-op cycle must not write a snapshot")
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	fetcher := &scriptedFetcher{bodies: []string{
		cycleBody(map[string]float64{"Linh": 50.0, "Minh": 50.0}),
	}}
	p, cfg, _ := testPoller(t, fetcher)
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	total := p.Total()

	restored := store.LoadSnapshot(cfg.SnapshotPath, cfg.InitialTotal)
	if restored.Total != total {
		t.Fatalf("restored total %d != live total %d", restored.Total, total)
	}
	if len(restored.Candidates) != 2 {
		t.Fatalf("expected 2 restored candidates, got %d", len(restored.Candidates))
	}
}

func TestRunStopsOnCancelWithFinalSnapshot(t *testing.T) {
	fetcher := &scriptedFetcher{bodies: []string{
		cycleBody(map[string]float64{"Linh": 60.0, "Minh": 40.0}),
	}}
	p, cfg, _ := testPoller(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	if p.Phase() != StateStopped {
		t.Fatalf("expected stopped phase, got %s", p.Phase())
	}
	if _, err := os.Stat(cfg.SnapshotPath); err != nil {
		t.Fatalf("expected final snapshot: %v", err)
	}
}

func TestHistoryRowsPerCycle(t *testing.T) {
	fetcher := &scriptedFetcher{bodies: []string{
		cycleBody(map[string]float64{"Linh": 50.0, "Minh": 50.0}),
		cycleBody(map[string]float64{"Linh": 51.0, "Minh": 49.0}),
	}}
	p, _, history := testPoller(t, fetcher)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := p.RunOnce(ctx); err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	cycles, err := history.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 recorded cycles, got %d", len(cycles))
	}
	standings, err := history.LatestStandings(ctx)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if len(standings) != 2 {
		t.Fatalf("expected 2 standings rows, got %d", len(standings))
	}
}
