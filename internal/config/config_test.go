package config_test

import (
	"strings"
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/config"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

const sampleYAML = `
server:
  listen_addr: ":10500"
  metrics_addr: ":9090"
  log_level: info

am:
  binhmm_path: testdata/model.bin
  feature_type: MFCC_0_D_Z
  pruning: beam
  iwcd_mode: max

lm:
  kind: ngram
  dict_path: testdata/vocab.dict
  ngram_forward_path: testdata/lm.forward
  ngram_backward_path: testdata/lm.backward
  head_silence_word: "<s>"
  tail_silence_word: "</s>"
  short_pause_word: "<sp>"

lexicon:
  multi_path: false
  one_gram_factoring: true

search:
  first_pass:
    beam_width: 1000
    word_pair: true
    keep_n: 2
    word_insertion_penalty: -5
    enable_iwsp: true
    iwsp_penalty: -10
  second_pass:
    n_best: 10
    stack_size: 500
    hypo_overflow: 10000
    fallback_pass1: true
    confidence_mode: search

segment:
  sp_delay: 4
  sp_margin: 20
  sp_frame_duration: 30
  reject_short_len: 8

feature:
  frame_shift_ms: 10
  window_ms: 25
  vec_len: 38
  delta_window: 2
  use_energy: true
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestLoadFromReader(t *testing.T) {
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":10500" {
		t.Errorf("Server.ListenAddr = %q, want :10500", cfg.Server.ListenAddr)
	}
	if cfg.AM.BinHMMPath != "testdata/model.bin" {
		t.Errorf("AM.BinHMMPath = %q", cfg.AM.BinHMMPath)
	}
	if cfg.LM.Kind != config.LMNgram {
		t.Errorf("LM.Kind = %q, want ngram", cfg.LM.Kind)
	}
	if cfg.Search.FirstPass.BeamWidth != 1000 {
		t.Errorf("Search.FirstPass.BeamWidth = %d, want 1000", cfg.Search.FirstPass.BeamWidth)
	}
	if !cfg.Search.FirstPass.WordPair || cfg.Search.FirstPass.KeepN != 2 {
		t.Errorf("word-pair config not parsed: %+v", cfg.Search.FirstPass)
	}
	if cfg.Search.SecondPass.NBest != 10 {
		t.Errorf("Search.SecondPass.NBest = %d, want 10", cfg.Search.SecondPass.NBest)
	}
	if cfg.Segment.SpFrameDuration != 30 {
		t.Errorf("Segment.SpFrameDuration = %d, want 30", cfg.Segment.SpFrameDuration)
	}
	if cfg.Feature.VecLen != 38 {
		t.Errorf("Feature.VecLen = %d, want 38", cfg.Feature.VecLen)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	bad := sampleYAML + "\nbogus_top_level_field: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected an error for an unknown top-level field, got nil")
	}
}

func TestLogLevelIsValid(t *testing.T) {
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`LogLevel("trace").IsValid() = true, want false`)
	}
}

func TestLMKindIsValid(t *testing.T) {
	if !config.LMNgram.IsValid() || !config.LMDfa.IsValid() {
		t.Error("ngram and dfa should be valid LM kinds")
	}
	if config.LMKind("hmm").IsValid() {
		t.Error(`LMKind("hmm").IsValid() = true, want false`)
	}
}

func TestParseFeatureType(t *testing.T) {
	cases := map[string]types.FeatureType{
		"MFCC":        types.FeatureMFCC,
		"MFCC_0_D_Z":  types.FeatureMFCC,
		"FBANK":       types.FeatureFilterbank,
		"FBANK_D":     types.FeatureFilterbank,
		"MELSPEC":     types.FeatureMelSpectrum,
		"MELSPECTRUM": types.FeatureMelSpectrum,
	}
	for in, want := range cases {
		got, err := config.ParseFeatureType(in)
		if err != nil {
			t.Errorf("ParseFeatureType(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseFeatureType(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFeatureTypeRejectsUnknown(t *testing.T) {
	if _, err := config.ParseFeatureType("PLP"); err == nil {
		t.Fatal("ParseFeatureType(\"PLP\"): want error, got nil")
	}
}
