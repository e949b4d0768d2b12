// Package fareader parses the finite-state grammar transition table (the
// ".dfa" format) into an [lm.DfaGrammar]. The format is a flat triplet list,
// one line per transition arc or per terminal (no-arc) state, produced by
// the grammar compiler's state-by-state dump — see
// original_source/gramtools/mkdfa/mkfa-1.44-flex/triplet.c's r_makeTriplet
// and original_source/libsent/include/sent/dfa.h's DFA_STATE/DFA_ARC shapes.
//
// Two line layouts exist:
//
//	standard (5 fields): <from> <category> <to> <accept-hex> <start-hex>
//	compat   (4 fields): <from> <category> <to> <accept-hex>
//
// category and to are -1 on a line describing a state with no outgoing arc
// (a pure accept/reject state); accept-hex and start-hex are bitmasks (any
// nonzero value means true — the original supports per-subgrammar class
// bits when multiple grammars are unioned, but this reader only needs the
// single yes/no fact).
//
// Word lists (TERM_INFO) and the short-pause category are not recoverable
// from the transition table alone — they come from the dictionary, which is
// out of scope here; callers fill [lm.DfaGrammar.Terminals] and
// ShortPauseCategory after Read returns.
package fareader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kurenai-lab/lvcsr/internal/lm"
)

// Format selects the on-disk line layout.
type Format int

const (
	// Standard is the 5-field layout: from category to accept start.
	Standard Format = iota
	// Compat is the 4-field "-c" layout: from category to accept.
	Compat
)

type arc struct {
	from, category, to int
	accept, start      bool
}

// Read parses a .dfa transition table in the given layout and returns the
// derived grammar: states with category-labeled transitions, the
// category-pair constraint matrix, and the begin/end category sets. It does
// not populate Terminals or ShortPauseCategory — fill those in from the
// dictionary after Read returns.
func Read(r io.Reader, format Format) (*lm.DfaGrammar, error) {
	sc := bufio.NewScanner(r)
	var arcs []arc
	maxState := -1
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		a, err := parseLine(line, format)
		if err != nil {
			return nil, fmt.Errorf("fareader: line %d: %w", lineNo, err)
		}
		if a.from > maxState {
			maxState = a.from
		}
		if a.to > maxState {
			maxState = a.to
		}
		arcs = append(arcs, a)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fareader: %w", err)
	}
	return buildGrammar(arcs, maxState), nil
}

func parseLine(line string, format Format) (arc, error) {
	fields := strings.Fields(line)
	want := 5
	if format == Compat {
		want = 4
	}
	if len(fields) != want {
		return arc{}, fmt.Errorf("expected %d fields, got %d", want, len(fields))
	}
	from, err := strconv.Atoi(fields[0])
	if err != nil {
		return arc{}, fmt.Errorf("from state: %w", err)
	}
	category, err := strconv.Atoi(fields[1])
	if err != nil {
		return arc{}, fmt.Errorf("category: %w", err)
	}
	to, err := strconv.Atoi(fields[2])
	if err != nil {
		return arc{}, fmt.Errorf("to state: %w", err)
	}
	acceptBits, err := strconv.ParseUint(fields[3], 16, 64)
	if err != nil {
		return arc{}, fmt.Errorf("accept flags: %w", err)
	}
	startBits := uint64(0)
	if format == Standard {
		startBits, err = strconv.ParseUint(fields[4], 16, 64)
		if err != nil {
			return arc{}, fmt.Errorf("start flags: %w", err)
		}
	}
	return arc{
		from:     from,
		category: category,
		to:       to,
		accept:   acceptBits != 0,
		start:    startBits != 0,
	}, nil
}

// buildGrammar turns the flat arc list into states plus the derived
// category-pair/begin/end constraint sets extract_cpair produces in the
// original: CategoryPair[a][b] holds whenever some arc labeled b leaves a
// state that an arc labeled a enters.
func buildGrammar(arcs []arc, maxState int) *lm.DfaGrammar {
	// Terminals is left nil: it is filled in by the dictionary loader, not here.
	g := &lm.DfaGrammar{
		States:             make([]lm.DfaState, maxState+1),
		CategoryPair:       map[lm.CategoryID]map[lm.CategoryID]bool{},
		Begin:              map[lm.CategoryID]bool{},
		End:                map[lm.CategoryID]bool{},
		ShortPauseCategory: -1,
	}

	for _, a := range arcs {
		if a.category < 0 || a.to < 0 {
			// Terminal state: no outgoing arc, accept/start describe the
			// state itself rather than a category.
			continue
		}
		cat := lm.CategoryID(a.category)
		g.States[a.from].Transitions = append(g.States[a.from].Transitions, lm.DfaTransition{
			Category: cat,
			To:       a.to,
			Accept:   a.accept,
		})
		if a.start {
			g.Begin[cat] = true
		}
		if a.accept {
			g.End[cat] = true
		}
	}

	// Every arc labeled a lands on some state s; category b can follow a
	// whenever s has an outgoing arc labeled b.
	for _, st := range g.States {
		for _, tr := range st.Transitions {
			dst, ok := g.CategoryPair[tr.Category]
			if !ok {
				dst = map[lm.CategoryID]bool{}
				g.CategoryPair[tr.Category] = dst
			}
			for _, next := range g.States[tr.To].Transitions {
				dst[next.Category] = true
			}
		}
	}

	return g
}
