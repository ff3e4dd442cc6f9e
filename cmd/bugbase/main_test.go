package main

import (
	"errors"
	"fmt"
	"testing"

	"bugbase/internal/orchestrator"
)

func TestExitStatus(t *testing.T) {
	ok := orchestrator.PairResult{Program: "pbzip", Plugin: "success"}
	failed := orchestrator.PairResult{Program: "pbzip", Plugin: "fail", Err: errors.New("boom")}
	skipped := orchestrator.PairResult{
		Program: "memcached",
		Plugin:  "fail",
		Err:     fmt.Errorf("memcached: %w", orchestrator.ErrNotInstalled),
	}

	tests := []struct {
		name  string
		pairs []orchestrator.PairResult
		want  int
	}{
		{"all clean", []orchestrator.PairResult{ok, ok}, ExitSuccess},
		{"pair failed", []orchestrator.PairResult{ok, failed}, ExitPairFailed},
		{"program not installed", []orchestrator.PairResult{ok, skipped}, ExitNotInstalled},
		{"only skips", []orchestrator.PairResult{skipped}, ExitNotInstalled},
		{"failure outranks skip", []orchestrator.PairResult{skipped, failed}, ExitPairFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := &orchestrator.Summary{Pairs: tt.pairs}
			if got := exitStatus(sum); got != tt.want {
				t.Errorf("expected exit %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"fail", []string{"fail"}},
		{"success, fail", []string{"success", "fail"}},
		{",,benchmark,", []string{"benchmark"}},
	}
	for _, tt := range tests {
		got := split(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("split(%q): expected %v, got %v", tt.in, tt.want, got)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("split(%q): expected %v, got %v", tt.in, tt.want, got)
			}
		}
	}
}
