package lexicon

import (
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func monoState(name string) *am.State {
	return &am.State{Style: am.StyleState, Shared: am.MixturePDF{
		Components: []am.Gaussian{{Mean: []float64{0}, Var: []float64{1}, Weight: 1}},
	}}
}

func testAM(phones ...string) *am.AcousticModel {
	m := &am.AcousticModel{Phones: map[string]*am.PhoneHMM{}}
	for _, p := range phones {
		h := &am.PhoneHMM{
			Name:  p,
			Trans: [][]float64{{types.LogZero, 0, types.LogZero}, {types.LogZero, 0, 0}, {types.LogZero, types.LogZero, types.LogZero}},
			States: []*am.State{monoState(p)},
		}
		m.Phones[p] = h
	}
	return m
}

func testDict() *Dictionary {
	words := []Word{
		{Surface: "cat", Phones: []string{"k", "ae", "t"}},
		{Surface: "cap", Phones: []string{"k", "ae", "p"}},
		{Surface: "a", Phones: []string{"ah"}},
	}
	return NewDictionary(words, "", "")
}

func TestBuild_SharesPrefix(t *testing.T) {
	dict := testDict()
	acoustic := testAM("k", "ae", "t", "p", "ah")
	w, err := (&Builder{Dict: dict, AM: acoustic, Mode: TwoGramFactoring}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cat := dict.Words[0].ID
	cap := dict.Words[1].ID
	if w.Offset[cat][0] != w.Offset[cap][0] {
		t.Fatalf("expected cat/cap to share their first (k) node")
	}
	if w.Offset[cat][1] != w.Offset[cap][1] {
		t.Fatalf("expected cat/cap to share their second (ae) node")
	}
	if w.Offset[cat][2] == w.Offset[cap][2] {
		t.Fatalf("expected cat/cap word-end nodes to be distinct")
	}
}

func TestBuild_WordEndIsUnique(t *testing.T) {
	dict := testDict()
	acoustic := testAM("k", "ae", "t", "p", "ah")
	w, err := (&Builder{Dict: dict, AM: acoustic, Mode: TwoGramFactoring}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, word := range dict.Words {
		end := w.WordEnd[word.ID]
		got, ok := w.WordAt(end)
		if !ok || got != word.ID {
			t.Fatalf("word %q: WordAt(WordEnd) = (%v, %v), want (%v, true)", word.Surface, got, ok, word.ID)
		}
	}
}

func TestBuild_BranchPointGetsScid(t *testing.T) {
	dict := testDict()
	acoustic := testAM("k", "ae", "t", "p", "ah")
	w, err := (&Builder{Dict: dict, AM: acoustic, Mode: TwoGramFactoring}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	aeNode := w.Offset[dict.Words[0].ID][1]
	words, ok := w.SuccessorsAt(aeNode)
	if !ok {
		t.Fatalf("expected the shared (ae) branch node to carry a successor list")
	}
	if len(words) != 2 {
		t.Fatalf("expected 2 successors at the cat/cap branch point, got %d", len(words))
	}
}

func TestBuild_OneGramFactoringCompresses(t *testing.T) {
	dict := testDict()
	acoustic := testAM("k", "ae", "t", "p", "ah")
	unigram := map[types.WordID]float64{
		dict.Words[0].ID: -1,
		dict.Words[1].ID: -2,
		dict.Words[2].ID: -0.5,
	}
	model := lm.NewNgram(1, unigram, nil, nil, nil, types.NoWord, -5)
	w, err := (&Builder{Dict: dict, AM: acoustic, Mode: OneGramFactoring, LM: model}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	aeNode := w.Offset[dict.Words[0].ID][1]
	if w.Nodes[aeNode].Scid >= 0 {
		t.Fatalf("expected 1-gram factoring to collapse a 2-word branch into a negative (score) scid")
	}
	if got := w.FactoringScore(aeNode); got != -1 {
		t.Fatalf("FactoringScore = %v, want max unigram -1", got)
	}
}

func TestBuild_SinglePhoneWordGetsLRSet(t *testing.T) {
	dict := testDict()
	acoustic := testAM("k", "ae", "t", "p", "ah")
	w, err := (&Builder{Dict: dict, AM: acoustic, Mode: TwoGramFactoring}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	node := w.Offset[dict.Words[2].ID][0]
	if w.Nodes[node].State.Style != am.StyleLRSet {
		t.Fatalf("expected single-phone word node to use StyleLRSet, got %v", w.Nodes[node].State.Style)
	}
}

func TestBuild_MissingModelErrors(t *testing.T) {
	dict := testDict()
	acoustic := testAM("k", "ae") // missing "t", "p", "ah"
	if _, err := (&Builder{Dict: dict, AM: acoustic, Mode: TwoGramFactoring}).Build(); err == nil {
		t.Fatalf("expected Build to fail when a phone has no resolvable model")
	}
}
