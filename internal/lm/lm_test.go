package lm_test

import (
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func TestNgramBigramFallsBackToUnigram(t *testing.T) {
	unigram := map[types.WordID]float64{1: -2, 2: -3}
	forward := map[types.WordID]map[types.WordID]float64{
		1: {2: -1}, // p(2|1) explicitly trained
	}
	n := lm.NewNgram(2, unigram, forward, nil, nil, types.WordID(-2), -0.5)

	if got := n.Bigram(1, 2); got != -1 {
		t.Errorf("Bigram(1,2) = %v, want trained -1", got)
	}
	// word 2 following an untrained context backs off to unigram+backoff.
	if got, want := n.Bigram(99, 2), unigram[2]+(-0.5); got != want {
		t.Errorf("Bigram(99,2) = %v, want backoff %v", got, want)
	}
}

func TestNgramScoreBackwardUsesNearestFollower(t *testing.T) {
	unigram := map[types.WordID]float64{5: -4}
	backward := map[types.WordID]map[types.WordID]float64{
		5: {7: -0.25},
	}
	n := lm.NewNgram(2, unigram, nil, backward, nil, types.WordID(-1), -1)

	if got := n.ScoreBackward(5, []types.WordID{7, 99}); got != -0.25 {
		t.Errorf("ScoreBackward with trained nearest follower = %v, want -0.25", got)
	}
	if got, want := n.ScoreBackward(5, []types.WordID{8}), unigram[5]-1; got != want {
		t.Errorf("ScoreBackward with untrained follower = %v, want backoff %v", got, want)
	}
	if got := n.ScoreBackward(5, nil); got != unigram[5] {
		t.Errorf("ScoreBackward with empty history = %v, want bare unigram %v", got, unigram[5])
	}
}

func TestNgramIsUnknown(t *testing.T) {
	n := lm.NewNgram(2, map[types.WordID]float64{}, nil, nil, nil, types.WordID(3), 0)
	if !n.IsUnknown(3) {
		t.Error("word 3 should be the configured unknown id")
	}
	if n.IsUnknown(4) {
		t.Error("word 4 should not be unknown")
	}
}

func buildTwoWordGrammar(wordA, wordB types.WordID) *lm.DfaGrammar {
	return &lm.DfaGrammar{
		States: []lm.DfaState{
			{Transitions: []lm.DfaTransition{{Category: 0, To: 1, Accept: false}}},
			{Transitions: []lm.DfaTransition{{Category: 1, To: 2, Accept: true}}},
			{},
		},
		Terminals: map[lm.CategoryID][]types.WordID{
			0: {wordA},
			1: {wordB},
		},
		CategoryPair:       map[lm.CategoryID]map[lm.CategoryID]bool{0: {1: true}},
		Begin:              map[lm.CategoryID]bool{0: true},
		End:                map[lm.CategoryID]bool{1: true},
		ShortPauseCategory: -1,
	}
}

func TestDfaGrammarCanFollow(t *testing.T) {
	g := buildTwoWordGrammar(10, 11)
	if !g.CanFollow(0, 1) {
		t.Error("category 1 should be reachable after category 0")
	}
	if g.CanFollow(1, 0) {
		t.Error("category 0 should not be reachable after category 1")
	}
	if g.CanFollow(5, 9) {
		t.Error("an unregistered source category must report false, not panic")
	}
}

// TestUnionRenumbersCategoriesAndStates verifies that Union keeps each
// grammar's categories and state indices disjoint by shifting the second
// grammar's ids past the first's highest terminal category, rather than
// merging them into a shared namespace where an accidental collision would
// silently let one grammar's words satisfy another's category-pair check.
func TestUnionRenumbersCategoriesAndStates(t *testing.T) {
	g1 := buildTwoWordGrammar(10, 11)
	g2 := buildTwoWordGrammar(20, 21)

	u := lm.Union(g1, g2)

	if len(u.States) != len(g1.States)+len(g2.States) {
		t.Fatalf("Union States length = %d, want %d", len(u.States), len(g1.States)+len(g2.States))
	}

	// g1's own constraint (category 0 -> category 1) must still hold.
	if !u.CanFollow(0, 1) {
		t.Error("g1's category-pair constraint did not survive the union")
	}

	// g2's categories must have been shifted past g1's (g1 used categories
	// 0 and 1, so g2's category 0 becomes category 2, category 1 becomes 3).
	if !u.CanFollow(2, 3) {
		t.Error("g2's category-pair constraint was not renumbered past g1's categories")
	}
	if u.CanFollow(0, 3) {
		t.Error("categories from different unioned grammars must not cross-satisfy CanFollow")
	}

	if words := u.Terminals[2]; len(words) != 1 || words[0] != 20 {
		t.Errorf("Terminals[2] = %v, want [20] (g2's first word under its shifted category)", words)
	}
}

func TestNewDfaModelScoresReachableWordsAsCertain(t *testing.T) {
	g := buildTwoWordGrammar(10, 11)
	m := lm.NewDfaModel(g)

	if m.Kind() != lm.KindDfa {
		t.Errorf("Kind() = %v, want KindDfa", m.Kind())
	}
	if got := m.Unigram(10); got != 0 {
		t.Errorf("Unigram(10) = %v, want 0 (certain)", got)
	}
	if got := m.Unigram(999); got != types.LogZero {
		t.Errorf("Unigram(999) = %v, want LogZero for a word outside every terminal list", got)
	}
	if got := m.Bigram(10, 11); got != 0 {
		t.Errorf("Bigram ignores context and should also report 0 for a reachable word, got %v", got)
	}
	if m.IsUnknown(10) {
		t.Error("a grammar LM has no unknown-word concept")
	}
}
