// Package secondpass implements the time-reversed A*/stack search
// (StackDecode) over the first pass's word trellis, producing N-best
// sentence hypotheses with precise cross-word-context scores, plus optional
// forced alignment, lattice, and confusion-network outputs.
//
// The priority queue is grounded on the teacher's max-heap-over-
// container/heap idiom (priority field plus a monotonic sequence number for
// FIFO tie-breaking), generalized from audio-segment scheduling to
// hypothesis scoring.
package secondpass

import (
	"container/heap"

	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/internal/trellis"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// Variant selects when cross-word context is applied during hypothesis
// extension, per spec.md §4.5.
type Variant int

const (
	// Backscan applies no cross-word-context correction, neither at
	// expansion nor when a hypothesis is popped. Hypotheses tying on FScore
	// pop in insertion order (see pqueue.Less).
	Backscan Variant = iota
	// Nextscan applies the exact cross-word Viterbi correction immediately
	// at expansion time.
	Nextscan
)

// CrossWordRescorer computes the one-phone/last-word Viterbi correction
// applied when two words join across a boundary, honoring exact cross-word
// context (as opposed to the first pass's pseudo-monophone or IWCD
// approximation). Implementations typically re-evaluate the last phone of
// prev against the first phone of next using the acoustic model.
type CrossWordRescorer interface {
	Rescore(prev, next types.WordID) float64
}

// Config holds the tunables named in spec.md §4.5.
type Config struct {
	NBest           int
	StackSize       int
	HypoOverflow    int
	LookTrellis     bool // restrict candidate search to a window around the estimate
	LookWindow      int  // frames, used only when LookTrellis is true
	GraphRange      int  // passed to addEdge, which does not use it; lattice merges are exact-match only
	FallbackPass1   bool
	Variant         Variant
	Alphas          []float64 // CM_SEARCH scaling factors; BuildConfusionNetwork uses only Alphas[0]

	// Lattice controls whether Run's caller wants a word lattice built;
	// engine.Session reads this to decide the buildLattice argument passed
	// to New, rather than hardcoding it.
	Lattice bool
	// Confnet controls whether Run builds a confusion network from its
	// N-best list via BuildConfusionNetwork.
	Confnet bool
}

// Hypothesis is one partial (or, once ConnectFrame<=0, complete) sentence
// hypothesis: the committed word tail plus the A*-style bookkeeping fields
// from spec.md §3.
type Hypothesis struct {
	Words        []types.WordSpan // sentence order (oldest/earliest word first)
	TotalScore   float64          // precise score of the committed tail
	ConnectFrame int              // frame at which the next (earlier) word must begin
	FScore       float64          // TotalScore + admissible heuristic at ConnectFrame
	LastPhoneCtx string           // head phone context of the earliest committed word

	vertex *GraphVertex // non-nil when lattice output is enabled
	seq    uint64
}

// Complete reports whether this hypothesis has connected all the way back
// to the sentence-initial state.
func (h *Hypothesis) Complete() bool { return h.ConnectFrame <= 0 }

// Result is the outcome of a [Decoder.Run] call.
type Result struct {
	Sentences []types.Sentence
	Status    types.Status
	Lattice   *Graph // nil unless lattice output was requested
	ConfNet   []ConfusionBin
}

// Decoder runs the stack search over a completed [trellis.BackTrellis].
type Decoder struct {
	cfg      Config
	trellis  *trellis.BackTrellis
	lmod     lm.FullContextModel
	rescorer CrossWordRescorer
	wordOf   func(types.WordID) (surface string, headPhone, tailPhone string)

	lattice *Graph
	nextSeq uint64
}

// New creates a Decoder. wordOf resolves a word id to its surface form and
// boundary phones (used for lattice labels and cross-word rescoring
// context); rescorer may be nil, in which case no cross-word correction is
// applied beyond what the trellis already carries.
func New(cfg Config, tr *trellis.BackTrellis, lmod lm.FullContextModel, rescorer CrossWordRescorer, wordOf func(types.WordID) (string, string, string), buildLattice bool) *Decoder {
	d := &Decoder{cfg: cfg, trellis: tr, lmod: lmod, rescorer: rescorer, wordOf: wordOf}
	if buildLattice {
		d.lattice = newGraph()
	}
	return d
}

// pqueue is a max-heap over Hypothesis by FScore, with insertion-order
// tie-breaking — the same shape as the teacher's segment-scheduling heap,
// generalized to score instead of a fixed priority level.
type pqueue []*Hypothesis

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].FScore != q[j].FScore {
		return q[i].FScore > q[j].FScore
	}
	return q[i].seq < q[j].seq
}
func (q pqueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x any)        { *q = append(*q, x.(*Hypothesis)) }
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	*q = old[:n-1]
	return h
}

// Run executes the stack search to completion and returns up to NBest
// sentence hypotheses. lastFrame is the final frame index of the utterance
// (the trellis is searched backward from there).
func (d *Decoder) Run(lastFrame int) Result {
	q := &pqueue{}
	heap.Init(q)

	for _, a := range d.trellis.AtomsAt(lastFrame) {
		h := d.seed(a)
		heap.Push(q, h)
	}
	// A word may end a few frames before the nominal last frame (e.g. a
	// trailing pause already stripped by segmentation); widen the seed
	// search backward until something is found or we run out of trellis.
	for f := lastFrame - 1; q.Len() == 0 && f >= 0; f-- {
		for _, a := range d.trellis.AtomsAt(f) {
			heap.Push(q, d.seed(a))
		}
	}

	var complete []*Hypothesis
	popped := 0
	for q.Len() > 0 && len(complete) < d.cfg.NBest {
		if d.cfg.HypoOverflow > 0 && popped >= d.cfg.HypoOverflow {
			break
		}
		h := heap.Pop(q).(*Hypothesis)
		popped++

		if h.Complete() {
			complete = append(complete, h)
			continue
		}
		for _, next := range d.expand(h) {
			heap.Push(q, next)
			if d.cfg.StackSize > 0 && q.Len() > d.cfg.StackSize {
				d.dropWorst(q)
			}
		}
	}

	status := types.StatusSuccess
	if len(complete) == 0 {
		status = types.StatusSearchFail
	}
	sentences := make([]types.Sentence, 0, len(complete))
	for _, h := range complete {
		sentences = append(sentences, types.Sentence{Words: h.Words, TotalScore: h.TotalScore, Status: types.StatusSuccess})
	}
	res := Result{Sentences: sentences, Status: status}
	if d.lattice != nil {
		res.Lattice = d.lattice
	}
	if len(sentences) > 0 && d.cfg.Confnet {
		res.ConfNet = BuildConfusionNetwork(sentences, d.cfg.Alphas)
	}
	return res
}

// dropWorst removes the single lowest-FScore element to enforce StackSize,
// by definition of the Less ordering that is simply the last heap element
// after a full re-heapify; container/heap doesn't expose "peek worst"
// directly so this does a linear scan, acceptable since it only runs when
// the configured stack size is actually exceeded.
func (d *Decoder) dropWorst(q *pqueue) {
	worst := 0
	for i := 1; i < q.Len(); i++ {
		if (*q)[i].FScore < (*q)[worst].FScore {
			worst = i
		}
	}
	heap.Remove(q, worst)
}

// seed builds the initial single-word hypothesis from a trellis atom ending
// at (or near) the utterance's final frame.
func (d *Decoder) seed(a trellis.Atom) *Hypothesis {
	surface, head, tail := d.wordOf(a.Word)
	span := types.WordSpan{
		Word: a.Word, Surface: surface,
		BeginFrame: a.BeginFrame, EndFrame: a.EndFrame,
		AMScore: a.Backscore - d.predBackscore(a) - a.LMScore, LMScore: a.LMScore,
	}
	h := &Hypothesis{
		Words:        []types.WordSpan{span},
		TotalScore:   span.AMScore + d.lmod.ScoreBackward(a.Word, nil),
		ConnectFrame: a.BeginFrame,
		LastPhoneCtx: head,
		seq:          d.nextSeq,
	}
	h.FScore = h.TotalScore + d.heuristicAt(h.ConnectFrame)
	if d.lattice != nil {
		h.vertex = d.lattice.addVertex(a.Word, a.BeginFrame, a.EndFrame)
	}
	_ = tail
	d.nextSeq++
	return h
}

// expand pops candidate predecessor atoms for h and returns the resulting
// extended hypotheses.
func (d *Decoder) expand(h *Hypothesis) []*Hypothesis {
	candidates := d.candidatesBefore(h.ConnectFrame)
	out := make([]*Hypothesis, 0, len(candidates))
	for _, a := range candidates {
		out = append(out, d.extend(h, a))
	}
	return out
}

// candidatesBefore returns every trellis atom that could immediately
// precede a word currently beginning at connectFrame: atoms whose EndFrame
// is connectFrame-1 (contiguous join). When LookTrellis is false the search
// widens across every earlier frame down to 0 to tolerate gaps left by
// short-pause collapsing in the first pass.
func (d *Decoder) candidatesBefore(connectFrame int) []trellis.Atom {
	if connectFrame <= 0 {
		return nil
	}
	target := connectFrame - 1
	if atoms := d.trellis.AtomsAt(target); len(atoms) > 0 {
		return atoms
	}
	if d.cfg.LookTrellis {
		window := d.cfg.LookWindow
		if window <= 0 {
			window = 1
		}
		lo := target - window
		if lo < 0 {
			lo = 0
		}
		for f := target; f >= lo; f-- {
			if atoms := d.trellis.AtomsAt(f); len(atoms) > 0 {
				return atoms
			}
		}
		return nil
	}
	for f := target; f >= 0; f-- {
		if atoms := d.trellis.AtomsAt(f); len(atoms) > 0 {
			return atoms
		}
	}
	return nil
}

// extend builds the hypothesis formed by prepending atom a ahead of h's
// earliest committed word, rescoring the join with the full-context LM and
// (for Nextscan) the cross-word correction immediately.
func (d *Decoder) extend(h *Hypothesis, a trellis.Atom) *Hypothesis {
	surface, head, _ := d.wordOf(a.Word)

	history := make([]types.WordID, len(h.Words))
	for i, w := range h.Words {
		history[i] = w.Word
	}
	lmScore := d.lmod.ScoreBackward(a.Word, history)

	amScore := a.Backscore - d.predBackscore(a) - a.LMScore
	var crossWord float64
	if d.cfg.Variant == Nextscan && d.rescorer != nil {
		crossWord = d.rescorer.Rescore(a.Word, h.Words[0].Word)
	}

	span := types.WordSpan{
		Word: a.Word, Surface: surface,
		BeginFrame: a.BeginFrame, EndFrame: a.EndFrame,
		AMScore: amScore + crossWord, LMScore: lmScore,
	}
	words := make([]types.WordSpan, 0, len(h.Words)+1)
	words = append(words, span)
	words = append(words, h.Words...)

	h2 := &Hypothesis{
		Words:        words,
		TotalScore:   h.TotalScore + amScore + crossWord + lmScore,
		ConnectFrame: a.BeginFrame,
		LastPhoneCtx: head,
		seq:          d.nextSeq,
	}
	h2.FScore = h2.TotalScore + d.heuristicAt(h2.ConnectFrame)
	if d.lattice != nil {
		v := d.lattice.addVertex(a.Word, a.BeginFrame, a.EndFrame)
		d.lattice.addEdge(v, h.vertex, d.cfg.GraphRange)
		h2.vertex = v
	}
	d.nextSeq++
	return h2
}

// predBackscore returns the backscore of a's predecessor atom, or 0 if a has
// no predecessor (sentence start), so callers can isolate a's own marginal
// Viterbi contribution from the first pass's cumulative score.
func (d *Decoder) predBackscore(a trellis.Atom) float64 {
	if a.Back == trellis.NoBack {
		return 0
	}
	pred, ok := d.trellis.Get(a.Back)
	if !ok {
		return 0
	}
	return pred.Backscore
}

// heuristicAt returns the admissible A* heuristic for the remaining,
// not-yet-attached prefix [0, connectFrame): the best (max) first-pass
// Viterbi backscore among atoms ending at connectFrame-1, per spec.md §4.5
// ("f-score = g[best_t] + trellis.backscore[connection atom]"). Zero once
// connectFrame reaches the sentence start, since nothing remains to bound.
func (d *Decoder) heuristicAt(connectFrame int) float64 {
	if connectFrame <= 0 {
		return 0
	}
	best := types.LogZero
	for f := connectFrame - 1; f >= 0; f-- {
		atoms := d.trellis.AtomsAt(f)
		if len(atoms) == 0 {
			continue
		}
		for _, a := range atoms {
			if a.Backscore > best {
				best = a.Backscore
			}
		}
		break
	}
	if best <= types.LogZero {
		return 0
	}
	return best
}
