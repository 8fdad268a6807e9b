package calibrate

import (
	"math"
	"sort"
	"strings"

	"votewatch/internal/extract"
)

// Candidate is the durable record of one nominee across the contest.
// Votes only ever increases.
type Candidate struct {
	Name  string
	Votes int64
}

// State is the cross-cycle memory of the calibration engine: the running
// contest total and the per-candidate vote floors. It is owned by the poll
// loop and mutated only there, once per cycle.
type State struct {
	Total      int64
	Candidates map[string]*Candidate
}

// Result is one ranked standings row emitted per observed candidate.
type Result struct {
	Rank    int     `json:"rank"`
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
	Votes   int64   `json:"votes"`
}

// NewState seeds an empty state with the configured initial total estimate.
func NewState(initialTotal int64) *State {
	return &State{Total: initialTotal, Candidates: make(map[string]*Candidate)}
}

// Key normalizes a candidate name to its map identity. Upstream casing
// drifts between cycles; the display name keeps the latest casing.
func Key(name string) string {
	return strings.ToUpper(name)
}

// Calibrate converts observed percentage shares into vote estimates under
// two monotonic floors: a candidate's votes never decrease, and the contest
// total never decreases.
//
// Votes are first derived naively from the current total and floored at the
// candidate's previous count. The vote sum then back-solves an implied
// total; if it exceeds the current total it is adopted, otherwise the
// retained (higher) total is authoritative and votes are re-derived against
// it so candidates are not under-counted when shares merely redistribute.
func (s *State) Calibrate(observations []extract.Observation) []Result {
	if len(observations) == 0 {
		return nil
	}

	results := make([]Result, len(observations))
	for i, obs := range observations {
		results[i] = Result{
			Rank:    obs.Rank,
			Name:    obs.Name,
			Percent: obs.Percent,
			Votes:   s.flooredVotes(obs.Name, obs.Percent, s.Total),
		}
	}
	s.commit(results)

	var sumVotes int64
	var sumPercent float64
	for _, r := range results {
		sumVotes += r.Votes
		sumPercent += r.Percent
	}

	// A degenerate response with a zero percentage sum cannot imply a total.
	if sumPercent > 0 {
		implied := int64(math.Round(float64(sumVotes) / sumPercent * 100))
		if implied > s.Total {
			s.Total = implied
		} else {
			// Keep the higher total and re-derive every candidate against
			// it, still respecting the per-candidate floors.
			for i, obs := range observations {
				results[i].Votes = s.flooredVotes(obs.Name, obs.Percent, s.Total)
			}
			s.commit(results)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Rank < results[j].Rank })
	return results
}

func (s *State) flooredVotes(name string, percent float64, total int64) int64 {
	naive := int64(math.Round(percent / 100 * float64(total)))
	if prev, ok := s.Candidates[Key(name)]; ok && prev.Votes > naive {
		return prev.Votes
	}
	return naive
}

func (s *State) commit(results []Result) {
	for _, r := range results {
		key := Key(r.Name)
		if c, ok := s.Candidates[key]; ok {
			c.Name = r.Name
			c.Votes = r.Votes
			continue
		}
		s.Candidates[key] = &Candidate{Name: r.Name, Votes: r.Votes}
	}
}

// Leader returns the rank-1 row, or a zero Result when results are empty.
func Leader(results []Result) Result {
	for _, r := range results {
		if r.Rank == 1 {
			return r
		}
	}
	return Result{}
}

// SumVotes reports the current per-candidate vote sum, used for sanity logging.
func (s *State) SumVotes() int64 {
	var sum int64
	for _, c := range s.Candidates {
		sum += c.Votes
	}
	return sum
}
