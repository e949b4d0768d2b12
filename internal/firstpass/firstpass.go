// Package firstpass implements the frame-synchronous Viterbi beam search
// (FSBeam) over the tree lexicon: token propagation, LM factoring, rank
// pruning, and word-end trellis accumulation. It is grounded on the
// frame-driven processLoop/session shape of a streaming provider session —
// one call advances exactly one frame and mutates only state owned by this
// session.
package firstpass

import (
	"sort"

	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/internal/trellis"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// Config holds the tunables named in spec.md §4.3.
type Config struct {
	// RankBeam is the maximum number of surviving tokens per frame (beam
	// width B).
	RankBeam int

	// ScorePruneDelta, if > 0, additionally drops any token scoring below
	// (frame max - ScorePruneDelta) even if RankBeam has not been reached.
	ScorePruneDelta float64

	// WordPairApprox enables keeping at most one token per distinct
	// predecessor context word at each destination node, instead of a single
	// 1-best token per node.
	WordPairApprox bool

	// KeepN caps the number of word-pair survivors per node when
	// WordPairApprox is set; 0 means unbounded (only RankBeam applies
	// globally afterward).
	KeepN int

	// WordInsertionPenalty is added (as a log score, typically negative)
	// every time a token crosses a word boundary.
	WordInsertionPenalty float64

	// EnableIWSP allows a single self-loop pause transition at a word
	// boundary for the configured short-pause word.
	EnableIWSP   bool
	IWSPPenalty  float64
	ShortPauseID types.WordID

	// ProgressiveEvery, if > 0, causes Step to additionally return the
	// current best in-beam word sequence every ProgressiveEvery frames.
	ProgressiveEvery int
}

// Token is a partial Viterbi path endpoint on the tree lexicon at a given
// frame: the lexicon node it occupies, its accumulated log score, a
// predecessor-token index into the previous frame's token slice, and the
// current LM context word.
type Token struct {
	Node    lexicon.NodeID
	Score   float64
	Pred    int // index into the previous frame's token slice, -1 if none
	Context types.WordID
}

// OutProb evaluates log p(x_t|state) for a lexicon node at a frame, normally
// backed by an [am.Cache].
type OutProb func(node *lexicon.Node, frame int, x []float64) float64

// FirstPass runs the frame-synchronous beam search over a built [lexicon.WCHMM].
// Tokens live in one slice per frame, indexed by frame number; history is
// kept by walking Pred links back through the recorded per-frame slices
// (retained for the lifetime of one utterance so the trellis's
// BeginFrame/back-link reconstruction and progressive output can trace a
// path).
type FirstPass struct {
	wc   *lexicon.WCHMM
	lmod lm.Model
	cfg  Config
	out  OutProb

	trellis *trellis.BackTrellis

	// history holds the per-frame token slices produced so far, one
	// slice per frame, indexed by frame number; needed so Pred links and
	// progressive best-path tracing can walk arbitrarily far back within an
	// utterance.
	history [][]Token

	frame int

	// interWordCache[contextWord][startNode] = LM score for entering
	// startNode with the given preceding context word.
	interWordCache map[types.WordID]map[lexicon.NodeID]float64

	// factorCache[scid][context] memoizes 2-gram factoring (max over the
	// successor list) for repeat contexts within an utterance.
	factorCache map[int32]map[types.WordID]float64
}

// New creates a FirstPass ready to process frame 0 of a new utterance.
func New(wc *lexicon.WCHMM, lmod lm.Model, cfg Config, out OutProb) *FirstPass {
	return &FirstPass{
		wc:             wc,
		lmod:           lmod,
		cfg:            cfg,
		out:            out,
		trellis:        trellis.New(),
		interWordCache: map[types.WordID]map[lexicon.NodeID]float64{},
		factorCache:    map[int32]map[types.WordID]float64{},
	}
}

// Trellis returns the word trellis accumulated so far.
func (f *FirstPass) Trellis() *trellis.BackTrellis { return f.trellis }

// Reset discards all per-utterance state and seeds the tree roots as the
// frame-0 active token set, ready for a fresh utterance (or a
// rewind-and-replay of the retained frame range starting at 0).
func (f *FirstPass) Reset() {
	f.frame = 0
	f.history = nil
	f.trellis = trellis.New()
	f.interWordCache = map[types.WordID]map[lexicon.NodeID]float64{}
	f.factorCache = map[int32]map[types.WordID]float64{}
}

// seedRoots returns the initial token set at the tree roots, with sentence-
// initial LM context.
func (f *FirstPass) seedRoots() []Token {
	toks := make([]Token, 0, len(f.wc.Roots))
	for _, r := range f.wc.Roots {
		toks = append(toks, Token{Node: r, Score: 0, Pred: -1, Context: types.NoWord})
	}
	return toks
}

// Step advances the search by exactly one frame, given the frame's feature
// vector x. It returns the surviving token count for diagnostics/metrics.
//
// Per-frame order (observationally atomic from the outside, per spec.md
// §5): token expansion → LM factoring → output-probability → prune.
func (f *FirstPass) Step(x []float64) int {
	var active []Token
	if f.frame == 0 {
		active = f.seedRoots()
	} else {
		active = f.history[f.frame-1]
	}

	byNode := map[lexicon.NodeID][]Token{}

	for i, t := range active {
		node := &f.wc.Nodes[t.Node]
		for _, arc := range node.Arcs {
			cand := Token{Node: arc.To, Score: t.Score + arc.LogProb, Pred: i, Context: t.Context}
			cand = f.applyFactoring(cand, arc.To)
			byNode[arc.To] = append(byNode[arc.To], cand)
		}
		// self-loop is represented among node.Arcs already (transition matrix
		// includes it); nothing special needed here.
	}

	survivors := f.collapse(byNode)

	// Output probability and word-end handling.
	next := make([]Token, 0, len(survivors))
	var wordEndTokens []Token
	for _, t := range survivors {
		node := &f.wc.Nodes[t.Node]
		op := f.out(node, f.frame, x)
		t.Score += op
		if t.Score <= types.LogZero {
			continue
		}
		if wid, ok := f.wc.WordAt(t.Node); ok {
			wordEndTokens = append(wordEndTokens, t)
			_ = wid
		}
		next = append(next, t)
	}

	// Emit trellis atoms and seed inter-word continuations for every word-end
	// token, using the begin frame recovered by walking Pred links back to
	// the frame this path entered its current word (one past the frame at
	// which the token's word-start seed was placed, since intra-word nodes
	// never reset Pred chains across word boundaries within a single Step).
	seeds := map[lexicon.NodeID]Token{}
	for _, t := range wordEndTokens {
		wid, _ := f.wc.WordAt(t.Node)
		begin := f.beginFrameOf(t)
		atom := trellis.Atom{
			Word:       wid,
			EndFrame:   f.frame,
			BeginFrame: begin,
			Backscore:  t.Score,
			LMScore:    f.lmScoreForContext(t.Context, wid),
			Back:       f.backAtomFor(t),
		}
		f.trellis.Add(atom)

		for _, root := range f.wc.Roots {
			lmScore := f.interWordScore(wid, root)
			score := t.Score + lmScore + f.cfg.WordInsertionPenalty
			if f.cfg.EnableIWSP && wid == f.cfg.ShortPauseID {
				score += f.cfg.IWSPPenalty
			}
			cand := Token{Node: root, Score: score, Pred: -1, Context: wid}
			if existing, ok := seeds[root]; !ok || cand.Score > existing.Score {
				seeds[root] = cand
			}
		}
	}
	for _, cand := range seeds {
		next = append(next, cand)
	}

	next = f.prune(next)

	if f.frame >= len(f.history) {
		f.history = append(f.history, next)
	} else {
		f.history[f.frame] = next
	}
	f.frame++
	return len(next)
}

// applyFactoring adds the LM factoring contribution at the destination node
// per spec.md §4.3: negative scid adds the precomputed 1-gram bound;
// positive scid with a singleton list adds the precise bigram; positive scid
// with 2+ words adds the max bigram over the list, memoized per (scid,
// context).
func (f *FirstPass) applyFactoring(t Token, node lexicon.NodeID) Token {
	scid := f.wc.Nodes[node].Scid
	if scid == 0 {
		return t
	}
	if scid < 0 {
		t.Score += f.wc.FactoringScore(node)
		return t
	}
	list := f.wc.SuccessorLists[scid-1]
	if len(list) == 1 {
		t.Score += f.lmScoreForContext(t.Context, list[0])
		return t
	}
	if cache, ok := f.factorCache[scid]; ok {
		if v, ok := cache[t.Context]; ok {
			t.Score += v
			return t
		}
	}
	best := types.LogZero
	for _, w := range list {
		if s := f.lmScoreForContext(t.Context, w); s > best {
			best = s
		}
	}
	if f.factorCache[scid] == nil {
		f.factorCache[scid] = map[types.WordID]float64{}
	}
	f.factorCache[scid][t.Context] = best
	t.Score += best
	return t
}

func (f *FirstPass) lmScoreForContext(context, w types.WordID) float64 {
	if context == types.NoWord {
		return f.lmod.Unigram(w)
	}
	return f.lmod.Bigram(context, w)
}

// interWordScore computes the inter-word LM score for entering startNode
// given the just-finished word wid, memoized per (context word, start node)
// as spec.md §4.3 describes.
func (f *FirstPass) interWordScore(wid types.WordID, startNode lexicon.NodeID) float64 {
	byNode, ok := f.interWordCache[wid]
	if !ok {
		byNode = map[lexicon.NodeID]float64{}
		f.interWordCache[wid] = byNode
	}
	if v, ok := byNode[startNode]; ok {
		return v
	}
	var score float64
	if next, ok := f.wc.WordAt(startNode); ok {
		score = f.lmScoreForContext(wid, next)
	} else if words, ok := f.wc.SuccessorsAt(startNode); ok && len(words) > 0 {
		best := types.LogZero
		for _, w := range words {
			if s := f.lmScoreForContext(wid, w); s > best {
				best = s
			}
		}
		score = best
	} else if f.wc.Nodes[startNode].Scid < 0 {
		score = f.wc.FactoringScore(startNode)
	}
	byNode[startNode] = score
	return score
}

// collapse applies the at-most-one-token-per-node rule (1-best, or
// word-pair-approximated with up to KeepN survivors per distinct context
// word when WordPairApprox is enabled).
func (f *FirstPass) collapse(byNode map[lexicon.NodeID][]Token) []Token {
	var out []Token
	for _, cands := range byNode {
		if !f.cfg.WordPairApprox {
			best := cands[0]
			for _, c := range cands[1:] {
				if c.Score > best.Score {
					best = c
				}
			}
			out = append(out, best)
			continue
		}
		byCtx := map[types.WordID]Token{}
		for _, c := range cands {
			if existing, ok := byCtx[c.Context]; !ok || c.Score > existing.Score {
				byCtx[c.Context] = c
			}
		}
		survivors := make([]Token, 0, len(byCtx))
		for _, t := range byCtx {
			survivors = append(survivors, t)
		}
		if f.cfg.KeepN > 0 && len(survivors) > f.cfg.KeepN {
			sort.Slice(survivors, func(i, j int) bool { return survivors[i].Score > survivors[j].Score })
			survivors = survivors[:f.cfg.KeepN]
		}
		out = append(out, survivors...)
	}
	return out
}

// prune applies the rank beam (keep top RankBeam by score) and, if
// configured, the score-envelope prune relative to the frame's max score.
func (f *FirstPass) prune(toks []Token) []Token {
	if len(toks) == 0 {
		return toks
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i].Score > toks[j].Score })
	if f.cfg.ScorePruneDelta > 0 {
		max := toks[0].Score
		cut := 0
		for cut < len(toks) && toks[cut].Score >= max-f.cfg.ScorePruneDelta {
			cut++
		}
		toks = toks[:cut]
	}
	if f.cfg.RankBeam > 0 && len(toks) > f.cfg.RankBeam {
		toks = toks[:f.cfg.RankBeam]
	}
	return toks
}

// beginFrameOf walks Pred links back through history to find the frame at
// which the current word's path was seeded (Pred == -1 marks a word-start
// seed token), reporting the frame one past that seed as the word's begin
// frame.
func (f *FirstPass) beginFrameOf(t Token) int {
	frame := f.frame
	for {
		if t.Pred < 0 {
			return frame + 1
		}
		if frame == 0 {
			return 0
		}
		prevSlice := f.history[frame-1]
		if t.Pred >= len(prevSlice) {
			return frame
		}
		t = prevSlice[t.Pred]
		frame--
	}
}

// backAtomFor returns the trellis atom this word-end token continues from,
// by finding the previous word-end event at the frame/context this token
// descended from. Returns trellis.NoBack at sentence start.
func (f *FirstPass) backAtomFor(t Token) trellis.AtomID {
	begin := f.beginFrameOf(t)
	if begin <= 0 {
		return trellis.NoBack
	}
	if atom, found := f.findAtomEnding(begin-1, t.Context); found {
		return atom
	}
	return trellis.NoBack
}

func (f *FirstPass) findAtomEnding(frame int, word types.WordID) (trellis.AtomID, bool) {
	if word == types.NoWord {
		return trellis.AtomID{}, false
	}
	atoms := f.trellis.AtomsAt(frame)
	i := sort.Search(len(atoms), func(i int) bool { return atoms[i].Word >= word })
	if i < len(atoms) && atoms[i].Word == word {
		return trellis.AtomID{Frame: frame, Slot: i}, true
	}
	return trellis.AtomID{}, false
}

// BestPath walks predecessor links from the highest-scoring token in the
// current frame and returns the word sequence recognized so far, oldest
// first. Used both for [FirstPass.ProgressiveOutput] and as the pass-1
// fallback result when the second pass fails (spec.md §4.5 FALLBACK
// status).
func (f *FirstPass) BestPath() []types.WordID {
	if f.frame == 0 {
		return nil
	}
	last := f.history[f.frame-1]
	if len(last) == 0 {
		return nil
	}
	best := last[0]
	for _, t := range last[1:] {
		if t.Score > best.Score {
			best = t
		}
	}
	var words []types.WordID
	frame := f.frame
	context := best.Context
	for frame > 0 {
		if context != types.NoWord && (len(words) == 0 || words[len(words)-1] != context) {
			words = append(words, context)
		}
		prevSlice := f.history[frame-1]
		if best.Pred < 0 || best.Pred >= len(prevSlice) {
			break
		}
		best = prevSlice[best.Pred]
		context = best.Context
		frame--
	}
	// words were appended newest-first; reverse.
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return words
}

// ProgressiveOutput reports whether frame should emit a progressive
// best-path update, per the configured ProgressiveEvery cadence.
func (f *FirstPass) ProgressiveOutput() ([]types.WordID, bool) {
	if f.cfg.ProgressiveEvery <= 0 || f.frame == 0 || f.frame%f.cfg.ProgressiveEvery != 0 {
		return nil, false
	}
	return f.BestPath(), true
}

// Frame returns the number of frames processed so far.
func (f *FirstPass) Frame() int { return f.frame }
