// Package execlog implements the run-level execution logger: one JSON-lines
// file per pipeline run recording every agent call's prompt, output, and
// metrics, plus a RunAnalyzer for listing and comparing past runs.
//
// Ported near 1:1 from original_source/src/core/logger.py — this is the
// spec's L1 "Execution Logger" component, distinct from the ambient
// operational logging in internal/logging.
package execlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// maxInlineBytes is the prompt/output length above which the field is
// truncated in the stored entry (head + marker + tail), matching the
// original's exact 10000/5000/1000 formula.
const (
	maxInlineBytes  = 10000
	truncHeadBytes  = 5000
	truncTailBytes  = 1000
	flushBufferSize = 10
)

// Metrics carries the numeric measurements attached to one log entry.
type Metrics struct {
	TotalTokens int     `json:"total_tokens,omitempty"`
	PromptTokens int    `json:"input_tokens,omitempty"`
	CompletionTokens int `json:"output_tokens,omitempty"`
	CostUSD     float64 `json:"cost,omitempty"`
	DurationMS  int64   `json:"duration_ms,omitempty"`
}

// Entry is one execution log record, one JSON object per line on disk.
type Entry struct {
	Timestamp    time.Time      `json:"timestamp"`
	RunID        string         `json:"run_id"`
	Agent        string         `json:"agent"`
	Operation    string         `json:"operation"`
	PromptLength int            `json:"prompt_length,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	OutputLength int            `json:"output_length,omitempty"`
	Output       string         `json:"output,omitempty"`
	Metrics      Metrics        `json:"metrics"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
	Status       string         `json:"status"`
}

// LogParams are the optional fields of one Log call; HasPrompt/HasOutput
// mark Prompt/Output as provided, so an empty value is distinguishable from
// an absent one. An empty Error means the step succeeded.
type LogParams struct {
	Prompt   string
	HasPrompt bool
	Output   string
	HasOutput bool
	Metrics  Metrics
	Metadata map[string]any
	Error    string
}

// truncate applies the original's exact truncation formula: strings over
// maxInlineBytes keep only their first truncHeadBytes and last
// truncTailBytes, joined by a literal marker.
func truncate(s string) string {
	if len(s) <= maxInlineBytes {
		return s
	}
	return s[:truncHeadBytes] + "... [truncated] ..." + s[len(s)-truncTailBytes:]
}

// Logger buffers execution log entries in memory and flushes them as
// JSON-lines to one file per run, named "<runID>.jsonl" under runsDir.
type Logger struct {
	mu      sync.Mutex
	runsDir string
	runID   string
	logFile string
	buffer  []Entry
}

// New creates a Logger for a fresh run under runsDir (created if absent).
// runID should be a sortable, collision-resistant identifier — callers
// typically use a timestamp prefix plus a short random suffix.
func New(runsDir, runID string) (*Logger, error) {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("execlog: create runs dir: %w", err)
	}
	return &Logger{
		runsDir: runsDir,
		runID:   runID,
		logFile: filepath.Join(runsDir, runID+".jsonl"),
	}, nil
}

// RunID returns this logger's run identifier.
func (l *Logger) RunID() string { return l.runID }

// Log records one execution step, truncating oversized prompt/output
// fields and flushing the buffer once it reaches flushBufferSize entries.
func (l *Logger) Log(agent, operation string, p LogParams) {
	entry := Entry{
		Timestamp: time.Now(),
		RunID:     l.runID,
		Agent:     agent,
		Operation: operation,
		Metrics:   p.Metrics,
		Metadata:  p.Metadata,
		Status:    "success",
	}
	if p.HasPrompt {
		entry.PromptLength = len(p.Prompt)
		entry.Prompt = truncate(p.Prompt)
	}
	if p.HasOutput {
		entry.OutputLength = len(p.Output)
		entry.Output = truncate(p.Output)
	}
	if p.Error != "" {
		entry.Error = p.Error
		entry.Status = "error"
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, entry)
	shouldFlush := len(l.buffer) >= flushBufferSize
	l.mu.Unlock()

	if shouldFlush {
		_ = l.Flush()
	}
}

// Flush appends the buffered entries to disk and clears the buffer.
func (l *Logger) Flush() error {
	l.mu.Lock()
	pending := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	f, err := os.OpenFile(l.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("execlog: open log file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range pending {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("execlog: marshal entry: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("execlog: write entry: %w", err)
		}
	}
	return w.Flush()
}

// Close flushes any remaining buffered entries.
func (l *Logger) Close() error { return l.Flush() }

// Stats summarizes one agent's contribution to a run in RunStats.
type Stats struct {
	Calls  int `json:"calls"`
	Tokens int `json:"tokens"`
	Errors int `json:"errors"`
}

// RunStats is the rolled-up view returned by Logger.Stats, mirroring
// ExecutionLogger.get_stats.
type RunStats struct {
	RunID        string           `json:"run_id"`
	TotalEntries int              `json:"total_entries"`
	TotalTokens  int              `json:"total_tokens"`
	TotalCostUSD float64          `json:"total_cost"`
	TotalTimeMS  int64            `json:"total_time_ms"`
	ByAgent      map[string]Stats `json:"by_agent"`
}

// Stats flushes pending entries and computes run statistics by re-reading
// the on-disk log.
func (l *Logger) Stats() (RunStats, error) {
	if err := l.Flush(); err != nil {
		return RunStats{}, err
	}
	entries, err := readEntries(l.logFile)
	if err != nil {
		return RunStats{}, err
	}
	return computeStats(l.runID, entries), nil
}

func computeStats(runID string, entries []Entry) RunStats {
	stats := RunStats{RunID: runID, ByAgent: make(map[string]Stats)}
	if len(entries) == 0 {
		return stats
	}
	stats.TotalEntries = len(entries)
	for _, e := range entries {
		stats.TotalTokens += e.Metrics.TotalTokens
		stats.TotalCostUSD += e.Metrics.CostUSD
		stats.TotalTimeMS += e.Metrics.DurationMS

		agent := e.Agent
		if agent == "" {
			agent = "unknown"
		}
		a := stats.ByAgent[agent]
		a.Calls++
		a.Tokens += e.Metrics.TotalTokens
		if e.Status == "error" {
			a.Errors++
		}
		stats.ByAgent[agent] = a
	}
	return stats
}

func readEntries(logFile string) ([]Entry, error) {
	f, err := os.Open(logFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("execlog: open log file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// RunSummary is the metadata RunAnalyzer.ListRuns returns for one run.
type RunSummary struct {
	RunID     string
	Timestamp time.Time
	File      string
}

// Analyzer inspects past runs' JSON-lines logs under runsDir, mirroring
// original_source/src/core/logger.py RunAnalyzer.
type Analyzer struct {
	runsDir string
}

// NewAnalyzer constructs an Analyzer over runsDir.
func NewAnalyzer(runsDir string) *Analyzer {
	return &Analyzer{runsDir: runsDir}
}

// ListRuns returns every run under runsDir, newest first by first-entry
// timestamp.
func (a *Analyzer) ListRuns() ([]RunSummary, error) {
	matches, err := filepath.Glob(filepath.Join(a.runsDir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("execlog: glob runs dir: %w", err)
	}

	var runs []RunSummary
	for _, path := range matches {
		entries, err := readFirstEntry(path)
		if err != nil || entries == nil {
			continue
		}
		runID := entries.RunID
		if runID == "" {
			runID = filenameStem(path)
		}
		runs = append(runs, RunSummary{RunID: runID, Timestamp: entries.Timestamp, File: path})
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func readFirstEntry(path string) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	if !scanner.Scan() {
		return nil, scanner.Err()
	}
	var e Entry
	if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func filenameStem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// RunComparison is the result of Analyzer.CompareRuns.
type RunComparison struct {
	Run1         RunStats
	Run2         RunStats
	TokenDelta   int
	CostDeltaUSD float64
	TimeDeltaMS  int64
}

// CompareRuns loads both runs (by exact id or, failing that, by substring
// match against files under runsDir) and diffs their aggregate stats.
func (a *Analyzer) CompareRuns(runID1, runID2 string) (RunComparison, error) {
	entries1, err := a.loadRun(runID1)
	if err != nil {
		return RunComparison{}, err
	}
	entries2, err := a.loadRun(runID2)
	if err != nil {
		return RunComparison{}, err
	}

	stats1 := computeStats(runID1, entries1)
	stats2 := computeStats(runID2, entries2)

	return RunComparison{
		Run1:         stats1,
		Run2:         stats2,
		TokenDelta:   stats2.TotalTokens - stats1.TotalTokens,
		CostDeltaUSD: stats2.TotalCostUSD - stats1.TotalCostUSD,
		TimeDeltaMS:  stats2.TotalTimeMS - stats1.TotalTimeMS,
	}, nil
}

func (a *Analyzer) loadRun(runID string) ([]Entry, error) {
	path := filepath.Join(a.runsDir, runID+".jsonl")
	if _, err := os.Stat(path); err != nil {
		matches, globErr := filepath.Glob(filepath.Join(a.runsDir, "*"+runID+"*.jsonl"))
		if globErr != nil || len(matches) == 0 {
			return nil, nil
		}
		path = matches[0]
	}
	return readEntries(path)
}
