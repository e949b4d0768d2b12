// Package config provides the configuration schema, loader, and grammar-set
// registry for the lvcsr decoder daemon.
package config

import (
	"fmt"
	"strings"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// Config is the root configuration structure for the decoder daemon. It is
// typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	AM          AMConfig          `yaml:"am"`
	LM          LMConfig          `yaml:"lm"`
	Lexicon     LexiconConfig     `yaml:"lexicon"`
	Search      SearchConfig      `yaml:"search"`
	Segment     SegmentConfig     `yaml:"segment"`
	Feature     FeatureConfig     `yaml:"feature"`
	ResultStore ResultStoreConfig `yaml:"result_store"`
}

// ServerConfig holds network and logging settings for the decoder daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address the line-oriented control server (§6)
	// listens on (e.g., ":10500").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the HTTP address serving /metrics, /healthz, and
	// /readyz. Empty disables the HTTP side entirely.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// AMConfig configures the acoustic model and its output-probability cache.
type AMConfig struct {
	// BinHMMPath is the path to a julius_bin_hmm_v2 file (see
	// internal/binhmm) holding the tied-state HMM set.
	BinHMMPath string `yaml:"binhmm_path"`

	// FeatureType must match the feature pipeline's declared type exactly
	// (spec.md §4.7); mismatches are a FATAL_CONFIG error at startup.
	FeatureType string `yaml:"feature_type"`

	// Pruning selects the Gaussian-selection pruning mode: "none", "safe",
	// "beam", "heuristic", or "gms" (monophone-backed Gaussian-mixture
	// selection, internal/am/gms.go).
	Pruning string `yaml:"pruning"`

	// GmsModelPath is the monophone HMM set used for GMS pre-selection when
	// Pruning is "gms". Ignored otherwise.
	GmsModelPath string `yaml:"gms_model_path"`

	// IWCDMode selects the inter-word context-dependency approximation used
	// when the exact cross-word triphone is missing: "avg", "max", or
	// "nbest".
	IWCDMode string `yaml:"iwcd_mode"`

	// InvVar stores Gaussians in inverted-variance form, matching the
	// binary-HMM "I" qualifier.
	InvVar bool `yaml:"inv_var"`

	// CodebookANNDSN, when set, points at a Postgres+pgvector database
	// holding the acoustic model's tied-mixture codebook component means for
	// nearest-neighbor lookup (internal/am/codebook/postgres).
	// Empty disables ANN pre-selection: every codebook component is
	// evaluated for every tied mixture, as if no selector were attached.
	CodebookANNDSN string `yaml:"codebook_ann_dsn"`

	// CodebookANNCandidates is the number of nearest components the ANN
	// selector returns per frame. Ignored when CodebookANNDSN is empty.
	CodebookANNCandidates int `yaml:"codebook_ann_candidates"`
}

// LMKind selects which kind of language model backs the decoder.
type LMKind string

const (
	LMNgram LMKind = "ngram"
	LMDfa   LMKind = "dfa"
)

// IsValid reports whether k is a recognised [LMKind].
func (k LMKind) IsValid() bool {
	switch k {
	case LMNgram, LMDfa:
		return true
	default:
		return false
	}
}

// LMConfig configures the language model: either a word N-gram or a union
// of DFA word grammars plus a pronunciation dictionary.
type LMConfig struct {
	// Kind selects "ngram" or "dfa".
	Kind LMKind `yaml:"kind"`

	// DictPath is the pronunciation dictionary (WordInfo source), required
	// for both kinds.
	DictPath string `yaml:"dict_path"`

	// NgramForwardPath / NgramBackwardPath are the forward (LR, first pass)
	// and backward (RL, second pass) ARPA-derived table files. Both are
	// required when Kind is "ngram".
	NgramForwardPath  string `yaml:"ngram_forward_path"`
	NgramBackwardPath string `yaml:"ngram_backward_path"`

	// GrammarDir holds one or more <prefix>.dfa/<prefix>.dict pairs loaded
	// at startup when Kind is "dfa". Additional grammar sets may be added
	// at runtime via the control protocol's ADDGRAM command (see
	// [Registry]).
	GrammarDir string `yaml:"grammar_dir"`

	// HeadSilenceWord / TailSilenceWord name the dictionary entries used as
	// the sentence-initial/-final silence context for N-gram scoring.
	HeadSilenceWord string `yaml:"head_silence_word"`
	TailSilenceWord string `yaml:"tail_silence_word"`

	// ShortPauseWord names the dictionary entry treated as the short-pause
	// model by segmentation and the IWSP self-loop.
	ShortPauseWord string `yaml:"short_pause_word"`
}

// LexiconConfig configures tree-lexicon construction.
type LexiconConfig struct {
	// MultiPath enables explicit word-begin/word-end epsilon nodes and scid
	// duplication across phone-skip arcs (spec.md §4.1 "Multi-path
	// adjustment").
	MultiPath bool `yaml:"multi_path"`

	// OneGramFactoring collapses branch-point successor lists of size ≥ 2
	// down to a single max-unigram score instead of leaving exact lists
	// for 2-gram factoring.
	OneGramFactoring bool `yaml:"one_gram_factoring"`

	// CategoryTree builds one tree per grammar category instead of one
	// shared tree, matching spec.md §4.1's "category_tree = TRUE" grammar
	// mode.
	CategoryTree bool `yaml:"category_tree"`
}

// SearchConfig configures the first-pass beam search and second-pass stack
// search.
type SearchConfig struct {
	FirstPass  FirstPassConfig  `yaml:"first_pass"`
	SecondPass SecondPassConfig `yaml:"second_pass"`
}

// FirstPassConfig mirrors internal/firstpass.Config's tunables.
type FirstPassConfig struct {
	// BeamWidth is the rank-pruning width B (spec.md §4.3).
	BeamWidth int `yaml:"beam_width"`

	// ScoreEnvelope, when > 0, additionally drops tokens scoring below
	// (max_of_frame - ScoreEnvelope).
	ScoreEnvelope float64 `yaml:"score_envelope"`

	// WordPair enables word-pair approximation: one surviving token per
	// distinct predecessor context word instead of a single 1-best token
	// per node.
	WordPair bool `yaml:"word_pair"`

	// KeepN caps survivors per node when WordPair is set.
	KeepN int `yaml:"keep_n"`

	// WordInsertionPenalty is added at every word-end transition.
	WordInsertionPenalty float64 `yaml:"word_insertion_penalty"`

	// EnableIWSP allows a one-frame self-loop pause transition at word
	// boundaries for the configured short-pause word.
	EnableIWSP  bool    `yaml:"enable_iwsp"`
	IWSPPenalty float64 `yaml:"iwsp_penalty"`

	// ProgressiveEvery, when > 0, emits an incremental best-path trace
	// every N frames (internal/firstpass's ProgressiveOutput).
	ProgressiveEvery int `yaml:"progressive_every"`

	// PassIWCD enables cross-word context resolution on first-pass arcs
	// (spec.md §4.3's PASS1_IWCD); when false, cross-word precision is
	// recovered only at the second pass.
	PassIWCD bool `yaml:"pass_iwcd"`
}

// SecondPassConfig mirrors internal/secondpass.Config's tunables.
type SecondPassConfig struct {
	NBest          int  `yaml:"n_best"`
	StackSize      int  `yaml:"stack_size"`
	HypoOverflow   int  `yaml:"hypo_overflow"`
	FallbackPass1  bool `yaml:"fallback_pass1"`
	LookTrellis    bool `yaml:"look_trellis"`
	LookaheadWidth int  `yaml:"lookahead_width"`

	// Nextscan selects the exact-cross-word-context rescoring variant at
	// expansion time; when false (backscan), no cross-word correction is
	// applied.
	Nextscan bool `yaml:"nextscan"`

	// GraphRange is passed to the second pass as secondpass.Config.GraphRange;
	// lattice vertices and edges there merge on exact match only, and this
	// range is not applied.
	GraphRange int `yaml:"graph_range"`
	Lattice    bool `yaml:"lattice"`
	Confnet    bool `yaml:"confnet"`

	// ConfidenceMode accepts "search" (CM_SEARCH) or "nbest". Validate
	// checks the value, but cmd/lvcsrd does not read it: both values yield
	// the same N-best posterior confidence (internal/secondpass/confnet.go).
	ConfidenceMode string    `yaml:"confidence_mode"`
	ConfidenceAlpha []float64 `yaml:"confidence_alpha"`
}

// SegmentConfig mirrors internal/segment.Config and internal/segment.RejectConfig.
type SegmentConfig struct {
	SpDelay         int `yaml:"sp_delay"`
	SpMargin        int `yaml:"sp_margin"`
	SpFrameDuration int `yaml:"sp_frame_duration"`

	RejectShortLen int `yaml:"reject_short_len"`
	RejectLongLen  int `yaml:"reject_long_len"`

	// GmmVAD enables the optional GMM-based up/down trigger signal in
	// addition to decoder-VAD pause-word dominance.
	GmmVAD     bool   `yaml:"gmm_vad"`
	GmmVADPath string `yaml:"gmm_vad_path"`
}

// FeatureConfig mirrors internal/feature.Config.
type FeatureConfig struct {
	// SampleRate in Hz. Defaults to 16000 when zero (internal/config.Load
	// never applies this default itself — cmd/lvcsrd does, after Validate).
	SampleRate   int     `yaml:"sample_rate"`
	FrameShiftMs float64 `yaml:"frame_shift_ms"`
	WindowMs     float64 `yaml:"window_ms"`
	VecLen       int     `yaml:"vec_len"`
	DeltaWindow  int     `yaml:"delta_window"`
	UseEnergy    bool    `yaml:"use_energy"`
	AbsEnergySuppress bool `yaml:"abs_energy_suppress"`

	CMNMapWeight   float64 `yaml:"cmn_map_weight"`
	CMNLoadPath    string  `yaml:"cmn_load_path"`
	CMNSavePath    string  `yaml:"cmn_save_path"`

	SpectralSubtraction bool    `yaml:"spectral_subtraction"`
	NoiseSpectrumPath   string  `yaml:"noise_spectrum_path"`
	SSCalcLenMs         float64 `yaml:"ss_calc_len_ms"`
}

// ResultStoreConfig configures the optional durable per-utterance result
// store (internal/resultstore/postgres).
type ResultStoreConfig struct {
	// PostgresDSN is the connection string for the durable N-best/timing/
	// confidence store. Empty disables the store entirely (Engine.Finalize
	// results are still returned to the caller, just not persisted).
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	default:
		return false
	}
}

// ParseFeatureType maps AMConfig.FeatureType's free-form string (the
// binhmm header's own convention, e.g. "MFCC_0_D_Z" or "FBANK_D") onto the
// base [types.FeatureType] the pipeline/AM must agree on. Only the leading
// base-type tag is significant; trailing qualifiers (_0, _D, _A, _Z, ...)
// describe energy/delta/CMN options the feature pipeline config already
// carries separately.
func ParseFeatureType(s string) (types.FeatureType, error) {
	base, _, _ := strings.Cut(s, "_")
	switch base {
	case "MFCC":
		return types.FeatureMFCC, nil
	case "FBANK", "FILTERBANK":
		return types.FeatureFilterbank, nil
	case "MELSPEC", "MELSPECTRUM":
		return types.FeatureMelSpectrum, nil
	default:
		return 0, fmt.Errorf("config: unrecognised feature_type %q", s)
	}
}
