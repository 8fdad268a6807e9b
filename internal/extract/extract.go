package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Observation is one candidate's reported share for a single poll cycle.
type Observation struct {
	Name    string
	Percent float64
	Rank    int
}

// ratioPattern tolerates the response being wrapped in markdown or other
// noise: it only requires that a name field is eventually followed by a
// ratioVotes field.
var ratioPattern = regexp.MustCompile(`(?s)"name"\s*:\s*"([^"]+)".*?"ratioVotes"\s*:\s*([0-9.]+)`)

// Extract parses raw upstream text into ranked candidate observations.
// It first walks the response as JSON; if that yields nothing (the fallback
// endpoint wraps the payload in a text envelope) it falls back to a pattern
// scan. Returns an empty slice, never an error, when no candidates are found.
func Extract(raw string) []Observation {
	pairs := fromJSON(raw)
	if len(pairs) == 0 {
		pairs = fromPattern(raw)
	}
	if len(pairs) == 0 {
		return nil
	}

	// Dedupe on uppercased name, keeping the highest percentage. Stray
	// partial matches tend to carry spuriously low values.
	type entry struct {
		obs   Observation
		order int
	}
	seen := map[string]*entry{}
	var keys []string
	for i, p := range pairs {
		key := strings.ToUpper(p.Name)
		if e, ok := seen[key]; ok {
			if p.Percent > e.obs.Percent {
				e.obs = Observation{Name: p.Name, Percent: p.Percent}
			}
			continue
		}
		seen[key] = &entry{obs: Observation{Name: p.Name, Percent: p.Percent}, order: i}
		keys = append(keys, key)
	}

	result := make([]Observation, 0, len(keys))
	for _, k := range keys {
		result = append(result, seen[k].obs)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Percent > result[j].Percent
	})
	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}

func fromJSON(raw string) []Observation {
	var root any
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return nil
	}
	var pairs []Observation
	walk(root, &pairs)
	return pairs
}

// walk collects any object carrying both a string "name" and a numeric
// "ratioVotes", at any depth.
func walk(node any, out *[]Observation) {
	switch v := node.(type) {
	case map[string]any:
		name, okName := v["name"].(string)
		ratio, okRatio := v["ratioVotes"].(float64)
		if okName && okRatio && strings.TrimSpace(name) != "" {
			*out = append(*out, Observation{Name: strings.TrimSpace(name), Percent: round6(ratio)})
		}
		for _, child := range v {
			walk(child, out)
		}
	case []any:
		for _, child := range v {
			walk(child, out)
		}
	}
}

func fromPattern(raw string) []Observation {
	// The proxy envelope escapes quotes; collapse them before matching.
	text := strings.ReplaceAll(raw, `\"`, `"`)
	matches := ratioPattern.FindAllStringSubmatch(text, -1)
	var pairs []Observation
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		pct, err := strconv.ParseFloat(strings.TrimRight(m[2], "."), 64)
		if err != nil || name == "" {
			continue
		}
		pairs = append(pairs, Observation{Name: name, Percent: round6(pct)})
	}
	return pairs
}

// round6 keeps six fractional digits; downstream estimation accumulates
// rounding error across many cycles.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
