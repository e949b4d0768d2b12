// Package engine coordinates the acoustic model, language model, tree
// lexicon, feature pipeline, first pass, segmenter, and second pass into the
// per-utterance control flow spec.md §2 and §9 describe: a single
// process-wide Engine value holding everything with process lifetime
// (loaded models, the running CMN state), and a Session value scoped to one
// utterance, created fresh by Engine.NewSession and discarded once Finalize
// returns. Neither type is safe for concurrent use by more than one
// utterance at a time; a server hosting several concurrent streams creates
// one Session per stream, all sharing the same Engine.
package engine

import (
	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/am/codebook"
	"github.com/kurenai-lab/lvcsr/internal/audio"
	"github.com/kurenai-lab/lvcsr/internal/feature"
	"github.com/kurenai-lab/lvcsr/internal/firstpass"
	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/internal/secondpass"
	"github.com/kurenai-lab/lvcsr/internal/segment"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// Config bundles every tunable a Session needs. One Config is shared by
// every utterance an Engine processes; changing it only affects Sessions
// created afterward.
type Config struct {
	Feature    feature.Config
	FirstPass  firstpass.Config
	SecondPass secondpass.Config
	Segment    segment.Config
	Reject     segment.RejectConfig
	Pruning    am.GaussianPruning

	// RunSecondPass selects whether Session.Finalize runs the StackDecode
	// second pass at all. When false (or when the second pass fails and
	// SecondPass.FallbackPass1 is set) the first pass's own best path is
	// reported instead, with Status StatusFallback.
	RunSecondPass bool
}

// Engine holds every value with process lifetime: the loaded models, the
// shared CMN running statistics, and the tunables every Session inherits.
type Engine struct {
	AM      *am.AcousticModel
	LM      lm.FullContextModel
	Lexicon *lexicon.WCHMM
	Dict    *lexicon.Dictionary
	Extract feature.BaseExtractor
	CMN     *feature.CMNState
	Cfg     Config

	GMS      *am.GmsSelector
	Rescorer secondpass.CrossWordRescorer

	// ANN, when set, narrows which of AM.Codebook's tied-mixture
	// components are evaluated for a frame before falling back to
	// exhaustive evaluation — see [codebook.ANNSelector]. ANNCandidates
	// is the k passed to Select.
	ANN           codebook.ANNSelector
	ANNCandidates int
}

// New constructs an Engine. The returned value owns a fresh, empty
// CMNState; a caller restoring CMN across a process restart should replace
// e.CMN before creating the first Session.
func New(acoustic *am.AcousticModel, langModel lm.FullContextModel, lex *lexicon.WCHMM, dict *lexicon.Dictionary, extract feature.BaseExtractor, cfg Config) (*Engine, error) {
	if acoustic == nil || langModel == nil || lex == nil || dict == nil || extract == nil {
		return nil, fatalConfig("engine: acoustic model, language model, lexicon, dictionary, and feature extractor are all required")
	}
	if acoustic.FeatureType != cfg.Feature.FeatureType {
		return nil, fatalConfig("engine: acoustic model feature type %s does not match feature pipeline type %s", acoustic.FeatureType, cfg.Feature.FeatureType)
	}
	if acoustic.VecLen != 0 && cfg.Feature.VecLen != 0 && acoustic.VecLen != cfg.Feature.VecLen {
		return nil, fatalConfig("engine: acoustic model vector length %d does not match feature pipeline base dimension %d", acoustic.VecLen, cfg.Feature.VecLen)
	}
	return &Engine{
		AM:      acoustic,
		LM:      langModel,
		Lexicon: lex,
		Dict:    dict,
		Extract: extract,
		CMN:     &feature.CMNState{},
		Cfg:     cfg,
	}, nil
}

// WithGMS attaches a Gaussian-selection pre-filter; every Session created
// afterward inherits it.
func (e *Engine) WithGMS(g *am.GmsSelector) *Engine {
	e.GMS = g
	return e
}

// WithRescorer attaches the cross-word rescorer the second pass consults.
func (e *Engine) WithRescorer(r secondpass.CrossWordRescorer) *Engine {
	e.Rescorer = r
	return e
}

// WithANN attaches an ANN pre-selector over AM.Codebook's tied-mixture
// components; every Session created afterward builds its per-session
// codebook.Store with this selector attached, considering at most k
// candidate components per frame instead of the full codebook.
func (e *Engine) WithANN(sel codebook.ANNSelector, k int) *Engine {
	e.ANN = sel
	e.ANNCandidates = k
	return e
}

// newCodebookStore builds a fresh codebook.Store over AM.Codebook for a new
// Session. Each Session gets its own Store because the per-frame memo is
// not safe for concurrent reuse across utterances; the underlying component
// data and any attached ANN selector are shared, so this allocates only the
// memo slice, not the codebook itself. Returns nil when the acoustic model
// carries no shared codebook at all.
func (e *Engine) newCodebookStore() *codebook.Store {
	if len(e.AM.Codebook) == 0 {
		return nil
	}
	components := make([]codebook.Component, len(e.AM.Codebook))
	for i, g := range e.AM.Codebook {
		components[i] = codebook.Component{Mean: g.Mean, Var: g.Var, GConst: g.GConst}
	}
	store := codebook.New(components, e.AM.InvVar)
	if e.ANN != nil {
		store.WithSelector(e.ANN, e.ANNCandidates)
	}
	return store
}

// wordOf resolves a word id to the (surface, headPhone, tailPhone) tuple the
// second pass needs for lattice labels and cross-word rescoring context.
func (e *Engine) wordOf(w types.WordID) (surface, head, tail string) {
	word := e.Dict.Word(w)
	if len(word.Phones) == 0 {
		return word.Surface, "", ""
	}
	return word.Surface, word.Phones[0], word.Phones[len(word.Phones)-1]
}

// phonesOf returns a word's phone sequence, used as the secondpass.PhoneTable
// for forced alignment.
func (e *Engine) phonesOf(w types.WordID) []string {
	return e.Dict.Word(w).Phones
}

// outProb returns the am.OutProbFunc closure every Session's am.Cache
// evaluates on a memoization miss, routing tied-mixture codebook scoring
// through store (nil if the model has no codebook, or the caller wants the
// manual per-component evaluation).
func (e *Engine) outProb(store *codebook.Store) am.OutProbFunc {
	return OutProbFor(e.AM, store)
}

// OutProbFor returns the same mixture-evaluation closure a Session's cache
// uses internally, for a standalone acoustic model. Exported for callers
// that need to score against a model outside of any Engine — chiefly a GMS
// monophone pre-selector, which evaluates a much smaller model every frame
// ahead of the real one and passes nil for store since the monophone model
// is small enough to evaluate exhaustively.
func OutProbFor(acoustic *am.AcousticModel, store *codebook.Store) am.OutProbFunc {
	return func(state *am.State, x []float64) float64 {
		return mixtureLogProb(state.Resolve("", ""), acoustic, x, store)
	}
}

// NewSession starts a fresh per-utterance decoding session for the given
// input kind (InputAudio, InputFeatureVector, or InputOutprobVector — spec.md
// §9's REDESIGN FLAGS tagged union replacing the original's plugin-dispatch
// inheritance).
func (e *Engine) NewSession(kind audio.InputKind) *Session {
	store := e.newCodebookStore()
	cache := am.NewCache(e.outProb(store), e.Cfg.Pruning)
	if e.GMS != nil {
		cache = cache.WithGMS(e.GMS)
	}
	s := &Session{eng: e, kind: kind, cache: cache, codebook: store, seg: segment.New(e.Cfg.Segment)}
	if kind == audio.InputAudio {
		s.feat = feature.NewPipeline(e.Cfg.Feature, e.Extract, e.CMN)
	}
	s.rebuildFirstPass()
	return s
}
