// Package lexicon builds the tree-structured pronunciation lexicon (WCHMM)
// that the first pass searches: phone-HMM prefixes shared across words,
// factoring metadata at branch points, and cross-word context variants at
// word-initial/final nodes.
package lexicon

import (
	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// NodeID indexes a node in a [WCHMM]'s dense node array.
type NodeID int32

// Arc is an outgoing transition from one node to another with its log
// transition probability (copied from the owning phone's HMM transition
// matrix at build time).
type Arc struct {
	To      NodeID
	LogProb float64
}

// Node is one tree-lexicon node: the emitting output distribution at this
// position, its outgoing arcs, and its successor id used for LM factoring.
//
//   - Scid > 0: index (Scid-1) into WCHMM.SuccessorLists, the set of words
//     still reachable from here.
//   - Scid < 0: index (-Scid-1) into WCHMM.FactoringScores, a precomputed
//     1-gram upper bound for the reachable set.
//   - Scid == 0: no factoring information at this node.
type Node struct {
	State *am.State
	Arcs  []Arc
	Scid  int32

	// NeedsInterWordCache marks isolated, non-shared word-initial nodes
	// that require inter-word LM caching.
	NeedsInterWordCache bool
}

// WCHMM is the built tree lexicon: a dense node array plus per-word and
// aggregate indices.
type WCHMM struct {
	Nodes []Node

	// Offset[w][k] is the first node of the k-th phone of word w.
	Offset [][]NodeID

	// WordEnd[w] is the terminal node of word w.
	WordEnd []NodeID

	// WordBegin[w] is word w's begin node: the explicit ε word-begin node in
	// multi-path builds (a factoring anchor distinct from the first phone's
	// emitting state), otherwise the first phone's node Offset[w][0].
	WordBegin []NodeID

	// Stend maps a (unique) word-end node back to its word id.
	Stend map[NodeID]types.WordID

	// Roots lists the tree-root start nodes, one per distinct word-initial
	// phone/context class.
	Roots []NodeID

	// RootCategory maps a root node to its DFA category, for grammar-mode
	// lexicons built with one tree per syntactic category
	// built with one tree per syntactic category. Empty/nil in N-gram mode.
	RootCategory map[NodeID]int32

	// SuccessorLists holds the full word list for every positive Scid.
	SuccessorLists [][]types.WordID

	// FactoringScores holds the precomputed max-unigram score for every
	// negative Scid (1-gram factoring).
	FactoringScores []float64

	Dict *Dictionary
}

// WordAt returns the word id ending at node n, and whether n is in fact a
// (unique) word-end node.
func (w *WCHMM) WordAt(n NodeID) (types.WordID, bool) {
	id, ok := w.Stend[n]
	return id, ok
}

// SuccessorsAt returns the set of words still reachable from n, resolving
// through SuccessorLists/FactoringScores as appropriate. ok is false when
// Scid == 0 (no factoring info at this node).
func (w *WCHMM) SuccessorsAt(n NodeID) (words []types.WordID, ok bool) {
	scid := w.Nodes[n].Scid
	if scid == 0 {
		return nil, false
	}
	if scid > 0 {
		return w.SuccessorLists[scid-1], true
	}
	return nil, true // negative scid: only a score is available, not a list
}

// FactoringScore returns the precomputed 1-gram upper bound at node n. Only
// meaningful when Nodes[n].Scid < 0.
func (w *WCHMM) FactoringScore(n NodeID) float64 {
	scid := w.Nodes[n].Scid
	if scid >= 0 {
		return types.LogZero
	}
	return w.FactoringScores[-scid-1]
}
