package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"votewatch/internal/calibrate"
)

// snapshot is the minimal recoverable state: the running total and the
// per-candidate vote floors, keyed by display name.
type snapshot struct {
	CurrentTotal   int64            `json:"current_total"`
	CandidateVotes map[string]int64 `json:"candidate_votes"`
}

// SaveSnapshot overwrites the recoverable-state artifact wholesale.
func SaveSnapshot(path string, state *calibrate.State) error {
	snap := snapshot{
		CurrentTotal:   state.Total,
		CandidateVotes: make(map[string]int64, len(state.Candidates)),
	}
	for _, c := range state.Candidates {
		snap.CandidateVotes[c.Name] = c.Votes
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	// Write-then-rename so a crash mid-write cannot corrupt the artifact.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot seeds calibration state from a prior snapshot. A missing or
// malformed snapshot is not fatal: it is logged and the configured initial
// estimate is used instead.
func LoadSnapshot(path string, initialTotal int64) *calibrate.State {
	state := calibrate.NewState(initialTotal)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("snapshot: read %s: %v, starting fresh", path, err)
		}
		return state
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("snapshot: malformed %s: %v, starting fresh", path, err)
		return state
	}
	if snap.CurrentTotal > 0 {
		state.Total = snap.CurrentTotal
	}
	for name, votes := range snap.CandidateVotes {
		if votes < 0 {
			log.Printf("snapshot: negative votes for %q, ignoring entry", name)
			continue
		}
		state.Candidates[calibrate.Key(name)] = &calibrate.Candidate{Name: name, Votes: votes}
	}
	log.Printf("snapshot: restored total=%d candidates=%d", state.Total, len(state.Candidates))
	return state
}
