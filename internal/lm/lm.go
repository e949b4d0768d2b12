// Package lm implements the two language-model kinds consumed by the
// lexicon builder and the two search passes: a word N-gram (forward LR and
// backward RL tables) and a union of deterministic finite-state word
// grammars with a category-pair constraint matrix. Both are modeled behind
// the single [Model] interface plus a [Kind] tag, rather than a class
// hierarchy.
package lm

import "github.com/kurenai-lab/lvcsr/pkg/types"

// Kind tags which concrete language model a [Model] wraps.
type Kind int

const (
	KindNgram Kind = iota
	KindDfa
)

func (k Kind) String() string {
	if k == KindDfa {
		return "dfa"
	}
	return "ngram"
}

// Model is the common interface the lexicon builder and both search passes
// use, regardless of the underlying Kind.
type Model interface {
	Kind() Kind

	// Unigram returns log p(w), used for 1-gram factoring in the tree
	// lexicon and as a fallback for out-of-context words.
	Unigram(w types.WordID) float64

	// Bigram returns log p(w|context) using the forward (LR) table, the
	// precise score the first pass needs when a scid resolves to a single
	// word.
	Bigram(context, w types.WordID) float64

	// IsUnknown reports whether w is the designated unknown/out-of-vocabulary
	// word id.
	IsUnknown(w types.WordID) bool
}

// FullContextModel is implemented by models that can score an arbitrary-length
// word history, used by the second pass's time-reversed search which walks
// backward through the full N-gram order rather than the first pass's
// 2-gram approximation.
type FullContextModel interface {
	Model

	// ScoreBackward returns log p(w | history…) using the backward (RL)
	// table, where history is ordered nearest-first (history[0] is the word
	// immediately following w in the sentence, since the second pass builds
	// hypotheses tail-first).
	ScoreBackward(w types.WordID, history []types.WordID) float64
}
