package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/am/codebook"
	codebookpg "github.com/kurenai-lab/lvcsr/internal/am/codebook/postgres"
	"github.com/kurenai-lab/lvcsr/internal/binhmm"
	"github.com/kurenai-lab/lvcsr/internal/config"
	"github.com/kurenai-lab/lvcsr/internal/ctlserver"
	"github.com/kurenai-lab/lvcsr/internal/engine"
	"github.com/kurenai-lab/lvcsr/internal/feature"
	"github.com/kurenai-lab/lvcsr/internal/firstpass"
	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/internal/resilience"
	"github.com/kurenai-lab/lvcsr/internal/secondpass"
	"github.com/kurenai-lab/lvcsr/internal/segment"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// loadAcousticModel reads the configured binhmm file and builds an
// [am.AcousticModel] bound to the configured feature type and IWCD policy.
func loadAcousticModel(cfg *config.Config) (*am.AcousticModel, types.FeatureType, error) {
	featureType, err := config.ParseFeatureType(cfg.AM.FeatureType)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(cfg.AM.BinHMMPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", cfg.AM.BinHMMPath, err)
	}
	defer f.Close()

	set, err := binhmm.Read(f)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", cfg.AM.BinHMMPath, err)
	}

	iwcd, err := iwcdPolicy(cfg.AM.IWCDMode, cfg.Search.FirstPass.PassIWCD)
	if err != nil {
		return nil, 0, err
	}

	acoustic, err := am.FromBinHMM(set, featureType, cfg.LM.ShortPauseWord, iwcd)
	if err != nil {
		return nil, 0, err
	}
	return acoustic, featureType, nil
}

func iwcdPolicy(mode string, enabled bool) (am.IWCDPolicy, error) {
	policy := am.IWCDPolicy{Enabled: enabled}
	switch mode {
	case "", "avg":
		policy.Mode = am.IWCDAvg
	case "max":
		policy.Mode = am.IWCDMax
	case "nbest":
		policy.Mode = am.IWCDNBest
		policy.NBest = 3
	default:
		return am.IWCDPolicy{}, fmt.Errorf("unrecognised am.iwcd_mode %q", mode)
	}
	return policy, nil
}

func gaussianPruning(mode string) (am.GaussianPruning, error) {
	switch mode {
	case "", "none":
		return am.PruneNone, nil
	case "safe":
		return am.PruneSafe, nil
	case "beam":
		return am.PruneBeam, nil
	case "heuristic":
		return am.PruneHeuristic, nil
	case "gms":
		return am.PruneUserPlugin, nil
	default:
		return 0, fmt.Errorf("unrecognised am.pruning %q", mode)
	}
}

// gmsMargin is the log-domain margin below the per-frame best monophone
// score within which a full-model state is still considered for evaluation.
// Fixed rather than configurable: spec.md leaves the exact backoff
// threshold unspecified, and this value tracks the original's typical
// real-time first-pass margin.
const gmsMargin = 4.0

// buildGMS loads the monophone model at path and wraps it in an
// [am.GmsSelector] bound to full's state-to-monophone mapping.
func buildGMS(path string, full *am.AcousticModel) (*am.GmsSelector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gms model %s: %w", path, err)
	}
	defer f.Close()

	set, err := binhmm.Read(f)
	if err != nil {
		return nil, fmt.Errorf("read gms model %s: %w", path, err)
	}
	mono, err := am.FromBinHMM(set, full.FeatureType, full.ShortPausePhone, am.IWCDPolicy{})
	if err != nil {
		return nil, fmt.Errorf("build gms model: %w", err)
	}

	phoneOf := stateToMonophone(full)
	return am.NewGmsSelector(mono, gmsMargin, engine.OutProbFor(full, nil), phoneOf), nil
}

// buildCodebookANN connects to the pgvector-backed codebook store named by
// cfg, refreshes it with acoustic's current codebook, and returns a selector
// narrowing tied-mixture evaluation to the k nearest components per frame.
// Returns a nil selector (and no error) when cfg.CodebookANNDSN is empty or
// the model has no shared codebook at all — codebook.Store then evaluates
// every component, same as before this feature existed. The returned
// io.Closer releases the database connection pool and must be closed when
// the engine owning the selector is torn down.
func buildCodebookANN(ctx context.Context, cfg config.AMConfig, acoustic *am.AcousticModel) (codebook.ANNSelector, int, io.Closer, error) {
	if cfg.CodebookANNDSN == "" || len(acoustic.Codebook) == 0 {
		return nil, 0, nil, nil
	}

	store, err := codebookpg.NewStore(ctx, cfg.CodebookANNDSN, acoustic.VecLen)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("codebook ann: %w", err)
	}

	modelID := cfg.BinHMMPath
	components := make([]codebookpg.Component, len(acoustic.Codebook))
	for i, g := range acoustic.Codebook {
		components[i] = codebookpg.Component{
			Index:  int32(i),
			Mean:   toFloat32(g.Mean),
			LogVar: logVarOf(g.Var, acoustic.InvVar),
			GConst: g.GConst,
		}
	}
	if err := store.Upsert(ctx, modelID, components); err != nil {
		store.Close()
		return nil, 0, nil, fmt.Errorf("codebook ann: %w", err)
	}

	k := cfg.CodebookANNCandidates
	if k <= 0 {
		k = len(acoustic.Codebook)
	}
	sel := codebookpg.NewSelector(store, modelID, len(acoustic.Codebook), resilience.CircuitBreakerConfig{
		Name: "codebook-ann:" + modelID,
	})
	return sel, k, closerFunc(store.Close), nil
}

// closerFunc adapts a bare func() (such as [codebookpg.Store.Close], which
// cannot fail) to io.Closer.
type closerFunc func()

func (c closerFunc) Close() error {
	c()
	return nil
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

// logVarOf converts an am.Gaussian's Var field (variance, or 1/variance
// when invVar) into the log-variance form [codebookpg.Component.LogVar]
// persists. Not consulted by NearestMeans' distance query, but kept
// consistent with the rest of the persisted row.
func logVarOf(variance []float64, invVar bool) []float32 {
	out := make([]float32, len(variance))
	for i, v := range variance {
		if v <= 0 {
			continue
		}
		if invVar {
			out[i] = float32(-math.Log(v))
		} else {
			out[i] = float32(math.Log(v))
		}
	}
	return out
}

// stateToMonophone builds the StateID -> center-phone-symbol lookup a
// [am.GmsSelector] needs, derived from the full model's own naming
// convention ("l-c+r" triphone, "l-c"/"c+r" biphone, or bare monophone keys
// — see internal/am/load.go).
func stateToMonophone(full *am.AcousticModel) func(am.StateID) string {
	lookup := make(map[am.StateID]string)
	for name, hmm := range full.Phones {
		center := centerPhone(name)
		for _, st := range hmm.States {
			lookup[st.ID] = center
		}
	}
	return func(id am.StateID) string { return lookup[id] }
}

func centerPhone(name string) string {
	if dash := strings.IndexByte(name, '-'); dash >= 0 {
		rest := name[dash+1:]
		if plus := strings.IndexByte(rest, '+'); plus >= 0 {
			return rest[:plus]
		}
		return rest
	}
	if plus := strings.IndexByte(name, '+'); plus >= 0 {
		return name[:plus]
	}
	return name
}

// buildFeatureConfig converts the YAML-facing millisecond-based feature
// config into internal/feature.Config's sample-count form.
func buildFeatureConfig(cfg config.FeatureConfig, featureType types.FeatureType) feature.Config {
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return feature.Config{
		SampleRate:       sampleRate,
		FrameShift:       msToSamples(cfg.FrameShiftMs, sampleRate),
		WindowSize:       msToSamples(cfg.WindowMs, sampleRate),
		VecLen:           cfg.VecLen,
		FeatureType:      featureType,
		DeltaWindow:      cfg.DeltaWindow,
		WithDelta:        true,
		WithAccel:        true,
		WithEnergy:       cfg.UseEnergy,
		SuppressAbsolute: cfg.AbsEnergySuppress,
		CMN:              cfg.CMNLoadPath != "" || cfg.CMNSavePath != "" || cfg.CMNMapWeight > 0,
		MapWeight:        cfg.CMNMapWeight,
		SpectralSub:      cfg.SpectralSubtraction,
		NoiseEstimateMs:  int(cfg.SSCalcLenMs),
	}
}

func msToSamples(ms float64, sampleRate int) int {
	n := int(ms * float64(sampleRate) / 1000.0)
	if n <= 0 {
		n = 1
	}
	return n
}

// buildSegmentConfig converts the YAML segmentation/rejection config into
// internal/segment's two Config types.
func buildSegmentConfig(cfg config.SegmentConfig) (segment.Config, segment.RejectConfig) {
	return segment.Config{
			SpDelay:         cfg.SpDelay,
			SpMargin:        cfg.SpMargin,
			SpFrameDuration: cfg.SpFrameDuration,
			UseGmmVad:       cfg.GmmVAD,
		}, segment.RejectConfig{
			MinFrames: cfg.RejectShortLen,
			MaxFrames: cfg.RejectLongLen,
		}
}

// buildFirstPassConfig converts the YAML first-pass config. shortPause is
// the dictionary word id of the configured short-pause word (types.NoWord
// if none).
func buildFirstPassConfig(cfg config.FirstPassConfig, shortPause types.WordID) firstpass.Config {
	return firstpass.Config{
		RankBeam:             cfg.BeamWidth,
		ScorePruneDelta:      cfg.ScoreEnvelope,
		WordPairApprox:       cfg.WordPair,
		KeepN:                cfg.KeepN,
		WordInsertionPenalty: cfg.WordInsertionPenalty,
		EnableIWSP:           cfg.EnableIWSP,
		IWSPPenalty:          cfg.IWSPPenalty,
		ShortPauseID:         shortPause,
		ProgressiveEvery:     cfg.ProgressiveEvery,
	}
}

// secondPassConfig converts the YAML second-pass config into
// secondpass.Config, picking the Backscan/Nextscan cross-word-context
// variant and carrying ConfidenceAlpha straight through as Alphas.
// ConfidenceMode is not read: both "search" and "nbest" confidence_mode
// values drive the same N-best posterior approximation in
// internal/secondpass/confnet.go.
func secondPassConfig(cfg config.SecondPassConfig) secondpass.Config {
	variant := secondpass.Backscan
	if cfg.Nextscan {
		variant = secondpass.Nextscan
	}
	return secondpass.Config{
		NBest:         cfg.NBest,
		StackSize:     cfg.StackSize,
		HypoOverflow:  cfg.HypoOverflow,
		LookTrellis:   cfg.LookTrellis,
		LookWindow:    cfg.LookaheadWidth,
		GraphRange:    cfg.GraphRange,
		FallbackPass1: cfg.FallbackPass1,
		Variant:       variant,
		Alphas:        cfg.ConfidenceAlpha,
		Lattice:       cfg.Lattice,
		Confnet:       cfg.Confnet,
	}
}

// grammarPairs discovers every <prefix>.dfa/<prefix>.dict pair under dir,
// sorted by prefix for deterministic load order.
func grammarPairs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read grammar dir %s: %w", dir, err)
	}
	seen := make(map[string]bool)
	var prefixes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".dfa") {
			continue
		}
		prefix := strings.TrimSuffix(name, ".dfa")
		if _, err := os.Stat(filepath.Join(dir, prefix+".dict")); err != nil {
			continue
		}
		if !seen[prefix] {
			seen[prefix] = true
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes, nil
}

// loadGrammars registers every discovered grammar set in dir with gm, then
// syncs so the caller-provided rebuild callback fires once with the full
// startup vocabulary.
func loadGrammars(gm *ctlserver.GrammarManager, dir string) error {
	prefixes, err := grammarPairs(dir)
	if err != nil {
		return err
	}
	if len(prefixes) == 0 {
		return fmt.Errorf("no <prefix>.dfa/<prefix>.dict pairs found under %s", dir)
	}
	for _, prefix := range prefixes {
		dfaFile, err := os.Open(filepath.Join(dir, prefix+".dfa"))
		if err != nil {
			return err
		}
		dictFile, err := os.Open(filepath.Join(dir, prefix+".dict"))
		if err != nil {
			dfaFile.Close()
			return err
		}
		err = gm.AddGrammar(prefix, dfaFile, dictFile)
		dfaFile.Close()
		dictFile.Close()
		if err != nil {
			return fmt.Errorf("load grammar %s: %w", prefix, err)
		}
	}
	return gm.Sync()
}

// categoryMap derives a per-word tree-partition key from a DFA grammar's
// terminal lists, for lexicon.Builder.Categories when lexicon.category_tree
// is enabled. Words not named in any terminal list fall back to category 0.
func categoryMap(grammar *lm.DfaGrammar) map[types.WordID]int32 {
	if grammar == nil {
		return nil
	}
	out := make(map[types.WordID]int32)
	for cat, words := range grammar.Terminals {
		for _, w := range words {
			out[w] = int32(cat)
		}
	}
	return out
}

// buildLexicon constructs the tree lexicon from a dictionary/acoustic model
// pair, honoring the configured multi-path and factoring options.
func buildLexicon(dict *lexicon.Dictionary, acoustic *am.AcousticModel, lexCfg config.LexiconConfig, model lm.Model, grammar *lm.DfaGrammar) (*lexicon.WCHMM, error) {
	mode := lexicon.TwoGramFactoring
	if lexCfg.OneGramFactoring {
		mode = lexicon.OneGramFactoring
	}
	var categories map[types.WordID]int32
	if lexCfg.CategoryTree {
		categories = categoryMap(grammar)
	}
	b := &lexicon.Builder{
		Dict:       dict,
		AM:         acoustic,
		LM:         model,
		Mode:       mode,
		MultiPath:  lexCfg.MultiPath,
		Categories: categories,
	}
	return b.Build()
}
