package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// dayKeyFormat is the ledger's day bucket layout.
const dayKeyFormat = "2006-01-02"

// DayStats aggregates one day of pipeline runs.
type DayStats struct {
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
	Runs        int     `json:"runs"`
}

// Ledger is the cross-run usage counter interface. Implementations are
// best-effort: callers must tolerate lost updates under concurrent external
// processes.
type Ledger interface {
	// RecordRun adds one run's tokens and cost to today's bucket
	RecordRun(tokens int, costUSD float64) error

	// DailyTotal returns today's accumulated stats
	DailyTotal() (DayStats, error)
}

// NopLedger discards all updates. Selected when accounting is disabled.
type NopLedger struct{}

// RecordRun discards the update
func (NopLedger) RecordRun(tokens int, costUSD float64) error { return nil }

// DailyTotal reports empty stats
func (NopLedger) DailyTotal() (DayStats, error) { return DayStats{}, nil }

// ledgerFile is the on-disk shape: {"days": {"2026-08-31": {...}}}.
type ledgerFile struct {
	Days map[string]DayStats `json:"days"`
}

// FileLedger persists day-bucketed usage in a JSON file. The mutex guards
// in-process callers only; cross-process writes are read-modify-write and
// may lose updates.
type FileLedger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time // injectable for tests
}

// NewFileLedger creates a ledger backed by the given JSON file.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{
		path: path,
		now:  time.Now,
	}
}

// RecordRun adds one run's tokens and cost to today's bucket.
func (l *FileLedger) RecordRun(tokens int, costUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.load()
	key := l.now().UTC().Format(dayKeyFormat)
	day := data.Days[key]
	day.TotalTokens += tokens
	day.CostUSD += costUSD
	day.Runs++
	data.Days[key] = day

	return l.store(data)
}

// DailyTotal returns today's accumulated stats.
func (l *FileLedger) DailyTotal() (DayStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.load()
	return data.Days[l.now().UTC().Format(dayKeyFormat)], nil
}

// Window returns (day, stats) pairs for the last `days` days sorted by day,
// or every recorded day when days <= 0.
func (l *FileLedger) Window(days int) []WindowEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	data := l.load()

	keys := make([]string, 0, len(data.Days))
	for key := range data.Days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var cutoff string
	if days > 0 {
		cutoff = l.now().UTC().AddDate(0, 0, -(days - 1)).Format(dayKeyFormat)
	}

	var entries []WindowEntry
	for _, key := range keys {
		if cutoff != "" && key < cutoff {
			continue
		}
		entries = append(entries, WindowEntry{Day: key, Stats: data.Days[key]})
	}
	return entries
}

// WindowEntry is one day of a ledger report.
type WindowEntry struct {
	Day   string
	Stats DayStats
}

// load reads the ledger file, tolerating a missing or corrupt file by
// starting fresh.
func (l *FileLedger) load() ledgerFile {
	data := ledgerFile{Days: map[string]DayStats{}}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return data
	}

	var parsed ledgerFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return data
	}
	if parsed.Days == nil {
		parsed.Days = map[string]DayStats{}
	}
	return parsed
}

func (l *FileLedger) store(data ledgerFile) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	if err := os.WriteFile(l.path, raw, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
