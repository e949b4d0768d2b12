package lm

import "github.com/kurenai-lab/lvcsr/pkg/types"

// Ngram is a word N-gram language model with separate forward (LR, used by
// the first pass's 2-gram factoring) and backward (RL, used by the second
// pass's full-order rescoring) tables, plus class-membership probabilities
// for class-N-gram vocabularies and a designated unknown-word id.
//
// Both tables must share the same word-id space and BOS/EOS corrections
// kept consistent.
type Ngram struct {
	order int

	unigram map[types.WordID]float64

	// forward[context] maps the next word to its log bigram probability.
	// context == types.NoWord is the sentence-initial (BOS) context.
	forward map[types.WordID]map[types.WordID]float64

	// backward maps a word to a function of its *following* history; for a
	// classic backward bigram table this is simply keyed by the one
	// immediately-following word. Stored the same shape as forward for a
	// bigram-order backward table; ScoreBackward generalizes to longer
	// histories by backing off through shorter ones.
	backward map[types.WordID]map[types.WordID]float64

	classProb map[types.WordID]float64 // p(word|class) for class-N-gram vocabularies
	unknown   types.WordID

	unigramBackoff float64 // log backoff weight applied when a bigram is absent
}

var _ Model = (*Ngram)(nil)
var _ FullContextModel = (*Ngram)(nil)

// NewNgram constructs an Ngram model. unigram must cover every word in the
// vocabulary; forward/backward may be sparse (absent entries back off to
// unigram + unigramBackoff).
func NewNgram(order int, unigram map[types.WordID]float64, forward, backward map[types.WordID]map[types.WordID]float64, classProb map[types.WordID]float64, unknown types.WordID, unigramBackoff float64) *Ngram {
	return &Ngram{
		order:          order,
		unigram:        unigram,
		forward:        forward,
		backward:       backward,
		classProb:      classProb,
		unknown:        unknown,
		unigramBackoff: unigramBackoff,
	}
}

func (n *Ngram) Kind() Kind { return KindNgram }

func (n *Ngram) Unigram(w types.WordID) float64 {
	if p, ok := n.unigram[w]; ok {
		return p
	}
	return types.LogZero
}

func (n *Ngram) Bigram(context, w types.WordID) float64 {
	if ctxTable, ok := n.forward[context]; ok {
		if p, ok := ctxTable[w]; ok {
			return p
		}
	}
	return n.Unigram(w) + n.unigramBackoff
}

func (n *Ngram) IsUnknown(w types.WordID) bool { return w == n.unknown }

// ScoreBackward scores w given the words that follow it (history[0] nearest),
// using the backward bigram table keyed by the single nearest follower and
// backing off to unigram+backoff exactly like Bigram. Longer histories are
// accepted for interface symmetry with higher-order backward models but this
// bigram implementation only consults history[0].
func (n *Ngram) ScoreBackward(w types.WordID, history []types.WordID) float64 {
	if len(history) == 0 {
		return n.Unigram(w)
	}
	next := history[0]
	if table, ok := n.backward[w]; ok {
		if p, ok := table[next]; ok {
			return p
		}
	}
	return n.Unigram(w) + n.unigramBackoff
}

// ClassProb returns p(w|class) for class-N-gram vocabularies, or 1.0 (log 0)
// if w has no class mapping (i.e. it is scored directly, not via a class).
func (n *Ngram) ClassProb(w types.WordID) float64 {
	if p, ok := n.classProb[w]; ok {
		return p
	}
	return 0
}
