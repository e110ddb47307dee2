// Package report aggregates job runtimes per rule and renders the runtime
// statistics file written after a successful run.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Timing is the measured wall time of one completed job.
type Timing struct {
	Rule     string
	JobID    string
	Duration time.Duration
}

// RuleStats summarizes the runtimes of all jobs of one rule.
type RuleStats struct {
	Rule  string
	Count int
	Min   time.Duration
	Max   time.Duration
	Sum   time.Duration
	Mean  time.Duration
}

// Summary is the per-rule runtime table plus the overall runtime, which is
// the sum of every rule's total.
type Summary struct {
	Rules   []RuleStats
	Overall time.Duration
}

// Aggregate groups timings by rule. Rules are ordered by name.
func Aggregate(timings []Timing) Summary {
	byRule := make(map[string]*RuleStats)
	for _, t := range timings {
		rs, ok := byRule[t.Rule]
		if !ok {
			rs = &RuleStats{Rule: t.Rule, Min: t.Duration, Max: t.Duration}
			byRule[t.Rule] = rs
		}
		rs.Count++
		rs.Sum += t.Duration
		if t.Duration < rs.Min {
			rs.Min = t.Duration
		}
		if t.Duration > rs.Max {
			rs.Max = t.Duration
		}
	}

	var s Summary
	for _, rs := range byRule {
		rs.Mean = rs.Sum / time.Duration(rs.Count)
		s.Rules = append(s.Rules, *rs)
		s.Overall += rs.Sum
	}
	sort.Slice(s.Rules, func(i, j int) bool { return s.Rules[i].Rule < s.Rules[j].Rule })
	return s
}

// WriteTSV renders the summary as tab separated values with durations in
// seconds.
func (s Summary) WriteTSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	rows := [][]string{{"rule", "minimum", "maximum", "sum", "mean"}}
	for _, rs := range s.Rules {
		rows = append(rows, []string{rs.Rule, seconds(rs.Min), seconds(rs.Max), seconds(rs.Sum), seconds(rs.Mean)})
	}
	rows = append(rows, []string{}, []string{"Overall runtime", seconds(s.Overall)})

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

// WriteFile writes the TSV rendering to path, creating parent directories.
func (s Summary) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create stats directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	if err := s.WriteTSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
