package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"votewatch/internal/calibrate"
)

const timestampLayout = "2006-01-02 15:04:05"

var logHeader = []string{"timestamp", "total", "rank", "name", "percent", "votes"}

// Log is the append-only CSV record of every calibration cycle. Existing
// rows are never rewritten or truncated.
type Log struct {
	path string
}

func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append writes one row per candidate, creating the file with a header row
// on first use.
func (l *Log) Append(results []calibrate.Result, total int64, ts time.Time) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}
	_, statErr := os.Stat(l.path)
	newFile := os.IsNotExist(statErr)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if newFile {
		if err := w.Write(logHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	tsStr := ts.Format(timestampLayout)
	for _, r := range results {
		row := []string{
			tsStr,
			strconv.FormatInt(total, 10),
			strconv.Itoa(r.Rank),
			r.Name,
			strconv.FormatFloat(r.Percent, 'f', 6, 64),
			strconv.FormatInt(r.Votes, 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush log: %w", err)
	}
	return f.Close()
}

// Path reports where the log lives, for status endpoints.
func (l *Log) Path() string { return l.path }
