package lm

import "github.com/kurenai-lab/lvcsr/pkg/types"

// CategoryID identifies a DFA grammar category (roughly: a part-of-speech
// class in the lexicon). On disk, terminal
// categories are represented on disk as negative ids (id = -(index+1));
// [DfaGrammar] stores them as plain non-negative indices internally and
// keeps terminality as a separate flag — see [internal/fareader].
type CategoryID int32

// DfaState is one state of the grammar automaton: its outgoing transitions,
// keyed by category.
type DfaState struct {
	Transitions []DfaTransition
}

// DfaTransition is one arc: consuming Category leads to state To. Accept
// marks this arc as a valid sentence-final transition.
type DfaTransition struct {
	Category CategoryID
	To       int
	Accept   bool
}

// DfaGrammar is a deterministic finite-state word grammar: states with
// category-labeled transitions, terminal info mapping each category to its
// word list, and the category-pair matrix / begin/end category sets derived
// from the automaton (CanFollow tests the category-pair matrix).
type DfaGrammar struct {
	States []DfaState

	// Terminals maps a terminal category to the words it admits.
	Terminals map[CategoryID][]types.WordID

	// CategoryPair[a][b] is true if category b may immediately follow
	// category a anywhere in the grammar (derived once from the automaton
	// so CanFollow can test it in O(1) instead of walking states).
	CategoryPair map[CategoryID]map[CategoryID]bool

	// Begin/End are the category sets that may legally start/end a
	// sentence.
	Begin map[CategoryID]bool
	End   map[CategoryID]bool

	// ShortPauseCategory is the category reserved for the short-pause word,
	// or -1 if the grammar has none.
	ShortPauseCategory CategoryID
}

// Union combines multiple DfaGrammar values into one by simply keeping them
// as independent reachable sub-automata rooted at per-grammar start states;
// the lexicon builder treats each grammar's tree as a separate root set
// the lexicon builder treats each grammar's tree as a separate root set
// when building one tree per syntactic category. Union concatenates state lists with
// offset renumbering and merges the derived constraint sets.
func Union(grammars ...*DfaGrammar) *DfaGrammar {
	out := &DfaGrammar{
		Terminals:    map[CategoryID][]types.WordID{},
		CategoryPair: map[CategoryID]map[CategoryID]bool{},
		Begin:        map[CategoryID]bool{},
		End:          map[CategoryID]bool{},
	}
	catOffset := CategoryID(0)
	for _, g := range grammars {
		stateOffset := len(out.States)
		for _, st := range g.States {
			shifted := DfaState{Transitions: make([]DfaTransition, len(st.Transitions))}
			for i, tr := range st.Transitions {
				shifted.Transitions[i] = DfaTransition{
					Category: tr.Category + catOffset,
					To:       tr.To + stateOffset,
					Accept:   tr.Accept,
				}
			}
			out.States = append(out.States, shifted)
		}
		for cat, words := range g.Terminals {
			out.Terminals[cat+catOffset] = append(out.Terminals[cat+catOffset], words...)
		}
		for a, bs := range g.CategoryPair {
			dst, ok := out.CategoryPair[a+catOffset]
			if !ok {
				dst = map[CategoryID]bool{}
				out.CategoryPair[a+catOffset] = dst
			}
			for b := range bs {
				dst[b+catOffset] = true
			}
		}
		for c := range g.Begin {
			out.Begin[c+catOffset] = true
		}
		for c := range g.End {
			out.End[c+catOffset] = true
		}
		if g.ShortPauseCategory >= 0 {
			out.ShortPauseCategory = g.ShortPauseCategory + catOffset
		}
		maxCat := CategoryID(0)
		for cat := range g.Terminals {
			if cat > maxCat {
				maxCat = cat
			}
		}
		catOffset += maxCat + 1
	}
	return out
}

// CanFollow reports whether category b may immediately follow category a.
// Neither the first nor the second pass calls it: in grammar mode, word
// sequences are scored only through the Model returned by NewDfaModel.
func (g *DfaGrammar) CanFollow(a, b CategoryID) bool {
	bs, ok := g.CategoryPair[a]
	if !ok {
		return false
	}
	return bs[b]
}

// dfaModel adapts a DfaGrammar to the [Model] interface so the rest of the
// engine can treat KindDfa and KindNgram uniformly wherever only
// word-probability (not category-constraint) queries are needed — e.g. a
// uniform unigram-like score for 1-gram-style factoring over a grammar's
// terminal word list.
type dfaModel struct {
	g *DfaGrammar
}

// NewDfaModel wraps g as a [FullContextModel]. Grammar LMs have no genuine
// probabilities; Unigram/Bigram/ScoreBackward return 0 (log-prob 0 =
// certainty) for any word reachable from a terminal category and
// types.LogZero otherwise, whatever the preceding words, so that factoring,
// first-pass LM addition, and the second pass's backward rescoring all
// degrade to "no LM pressure". The category-pair matrix is not consulted,
// so the automaton's word-order constraints are not applied through this
// Model.
func NewDfaModel(g *DfaGrammar) FullContextModel { return &dfaModel{g: g} }

func (m *dfaModel) Kind() Kind { return KindDfa }

func (m *dfaModel) Unigram(w types.WordID) float64 {
	for _, words := range m.g.Terminals {
		for _, ww := range words {
			if ww == w {
				return 0
			}
		}
	}
	return types.LogZero
}

func (m *dfaModel) Bigram(_, w types.WordID) float64 { return m.Unigram(w) }

// ScoreBackward ignores history: any reachable word scores as certain, and
// an ungrammatical continuation is not rejected here (the category-pair
// matrix is not consulted).
func (m *dfaModel) ScoreBackward(w types.WordID, _ []types.WordID) float64 { return m.Unigram(w) }

func (m *dfaModel) IsUnknown(types.WordID) bool { return false }
