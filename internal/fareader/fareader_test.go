package fareader_test

import (
	"strings"
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/fareader"
	"github.com/kurenai-lab/lvcsr/internal/lm"
)

func TestReadStandardFormat(t *testing.T) {
	// state 0 --cat0--> state 1 --cat1--> state 2 (terminal, accepting)
	src := strings.Join([]string{
		"0 0 1 0 1",
		"1 1 2 1 0",
		"2 -1 -1 1 0",
	}, "\n") + "\n"

	g, err := fareader.Read(strings.NewReader(src), fareader.Standard)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(g.States) != 3 {
		t.Fatalf("len(States) = %d, want 3", len(g.States))
	}
	if len(g.States[0].Transitions) != 1 || g.States[0].Transitions[0].Category != 0 {
		t.Fatalf("state 0 transitions = %+v", g.States[0].Transitions)
	}
	if !g.Begin[0] {
		t.Fatalf("category 0 should be a begin category")
	}
	if !g.End[1] {
		t.Fatalf("category 1 should be an end category")
	}
	if !g.CanFollow(0, 1) {
		t.Fatalf("category 1 should be able to follow category 0")
	}
	if g.CanFollow(1, 0) {
		t.Fatalf("category 0 should not be able to follow category 1")
	}
}

func TestReadCompatFormat(t *testing.T) {
	src := "0 0 1 1\n1 -1 -1 1\n"
	g, err := fareader.Read(strings.NewReader(src), fareader.Compat)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(g.States) != 2 {
		t.Fatalf("len(States) = %d, want 2", len(g.States))
	}
	// Compat format has no start field, so Begin must stay empty.
	if len(g.Begin) != 0 {
		t.Fatalf("Begin = %v, want empty (compat format has no start field)", g.Begin)
	}
	if !g.End[0] {
		t.Fatalf("category 0 should be an end category")
	}
}

func TestReadRejectsWrongFieldCount(t *testing.T) {
	_, err := fareader.Read(strings.NewReader("0 0 1 1\n"), fareader.Standard)
	if err == nil {
		t.Fatalf("expected error for 4-field line in Standard mode")
	}
}

func TestTerminalsAndShortPauseLeftUnset(t *testing.T) {
	g, err := fareader.Read(strings.NewReader("0 -1 -1 0 0\n"), fareader.Standard)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if g.Terminals != nil {
		t.Fatalf("Terminals should be left nil for the dictionary loader to fill in")
	}
	if g.ShortPauseCategory != lm.CategoryID(-1) {
		t.Fatalf("ShortPauseCategory = %v, want -1", g.ShortPauseCategory)
	}
}
