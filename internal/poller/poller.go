package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"votewatch/internal/calibrate"
	"votewatch/internal/config"
	"votewatch/internal/events"
	"votewatch/internal/extract"
	"votewatch/internal/metrics"
	"votewatch/internal/store"
)

// Poller states, exposed via the ops API.
const (
	StateIdle        = "idle"
	StateFetching    = "fetching"
	StateExtracting  = "extracting"
	StateCalibrating = "calibrating"
	StatePersisting  = "persisting"
	StateSleeping    = "sleeping"
	StateStopped     = "stopped"
)

// ErrNoCandidates marks a cycle whose response parsed to zero candidates.
// It is a soft failure: the cycle is skipped, nothing is persisted.
var ErrNoCandidates = errors.New("no candidates extracted")

// Fetcher retrieves the raw standings payload.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Poller drives fetch -> extract -> calibrate -> persist on a fixed
// interval. It is strictly sequential: one cycle at a time, and it is the
// sole mutator of the calibration state.
type Poller struct {
	cfg     config.Config
	fetcher Fetcher
	state   *calibrate.State
	log     *store.Log
	history *store.History
	metrics *metrics.Metrics
	bus     *events.Bus

	phase atomic.Value // current state-machine phase
}

func New(cfg config.Config, fetcher Fetcher, state *calibrate.State, csvLog *store.Log, history *store.History, m *metrics.Metrics, bus *events.Bus) *Poller {
	p := &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		state:   state,
		log:     csvLog,
		history: history,
		metrics: m,
		bus:     bus,
	}
	p.phase.Store(StateIdle)
	return p
}

// Phase reports the current state-machine phase.
func (p *Poller) Phase() string {
	return p.phase.Load().(string)
}

// Total reports the current contest total. Safe only for logging/status use;
// the poll goroutine remains the sole mutator.
func (p *Poller) Total() int64 {
	return p.state.Total
}

// Run loops until the context is cancelled. Cycle failures are logged and
// never terminate the loop. Cancellation is honored at cycle boundaries; a
// final snapshot is saved before returning.
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("poller: starting, interval=%s total=%s", p.cfg.PollInterval, humanize.Comma(p.state.Total))
	for {
		if err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("poller: cycle failed: %v", err)
		}
		p.metricsAfterCycle()

		p.phase.Store(StateSleeping)
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.PollInterval):
			continue
		}
		break
	}

	p.phase.Store(StateStopped)
	if err := store.SaveSnapshot(p.cfg.SnapshotPath, p.state); err != nil {
		log.Printf("poller: final snapshot failed: %v", err)
	} else {
		log.Printf("poller: final snapshot saved, total=%s", humanize.Comma(p.state.Total))
	}
	return nil
}

// RunOnce executes a single poll cycle. No partial persistence occurs on
// failure: the snapshot and log are only written once calibration succeeded.
func (p *Poller) RunOnce(ctx context.Context) (err error) {
	defer func() { p.metrics.RecordCycle(err) }()
	ts := config.Now()

	p.phase.Store(StateFetching)
	raw, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	p.phase.Store(StateExtracting)
	observations := extract.Extract(raw)
	if len(observations) == 0 {
		return ErrNoCandidates
	}

	p.phase.Store(StateCalibrating)
	results := p.state.Calibrate(observations)

	p.phase.Store(StatePersisting)
	cycleID := uuid.NewString()
	if logErr := p.log.Append(results, p.state.Total, ts); logErr != nil {
		// Persistence failures lose this cycle's durability but must not
		// block the next attempt.
		log.Printf("poller: csv append failed: %v", logErr)
	}
	if p.history != nil {
		if dbErr := p.history.RecordCycle(ctx, cycleID, ts, p.state.Total, results); dbErr != nil {
			log.Printf("poller: history insert failed: %v", dbErr)
		}
	}
	if snapErr := store.SaveSnapshot(p.cfg.SnapshotPath, p.state); snapErr != nil {
		log.Printf("poller: snapshot failed: %v", snapErr)
	}

	p.metrics.SetLast(p.state.Total, ts.Unix())
	if p.bus != nil {
		p.bus.Publish(events.CycleEvent{CycleID: cycleID, Timestamp: ts, Total: p.state.Total, Results: results})
	}
	p.logStandings(ts, results)
	return nil
}

func (p *Poller) logStandings(ts time.Time, results []calibrate.Result) {
	log.Printf("[%s] total: %s votes, tracked sum: %s (%d candidates)",
		ts.Format("15:04:05"), humanize.Comma(p.state.Total), humanize.Comma(p.state.SumVotes()), len(results))
	for _, r := range results {
		log.Printf("  %2d. %-20s %6.2f%% = %s votes", r.Rank, r.Name, r.Percent, humanize.Comma(r.Votes))
	}
}

func (p *Poller) metricsAfterCycle() {
	snap := p.metrics.Snapshot()
	if snap.CyclesFailed > 0 && snap.CyclesFailed%10 == 0 {
		log.Printf("poller: %d cycles failed so far (%d completed)", snap.CyclesFailed, snap.CyclesCompleted)
	}
}
