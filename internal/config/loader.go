package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent, loadable set of values. It
// returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.AM.BinHMMPath == "" {
		errs = append(errs, errors.New("am.binhmm_path is required"))
	}
	if cfg.AM.FeatureType == "" {
		errs = append(errs, errors.New("am.feature_type is required"))
	}
	switch cfg.AM.Pruning {
	case "", "none", "safe", "beam", "heuristic", "gms":
	default:
		errs = append(errs, fmt.Errorf("am.pruning %q is invalid; valid values: none, safe, beam, heuristic, gms", cfg.AM.Pruning))
	}
	if cfg.AM.Pruning == "gms" && cfg.AM.GmsModelPath == "" {
		errs = append(errs, errors.New("am.gms_model_path is required when am.pruning is \"gms\""))
	}
	switch cfg.AM.IWCDMode {
	case "", "avg", "max", "nbest":
	default:
		errs = append(errs, fmt.Errorf("am.iwcd_mode %q is invalid; valid values: avg, max, nbest", cfg.AM.IWCDMode))
	}

	if !cfg.LM.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("lm.kind %q is invalid; valid values: ngram, dfa", cfg.LM.Kind))
	}
	if cfg.LM.DictPath == "" {
		errs = append(errs, errors.New("lm.dict_path is required"))
	}
	switch cfg.LM.Kind {
	case LMNgram:
		if cfg.LM.NgramForwardPath == "" {
			errs = append(errs, errors.New("lm.ngram_forward_path is required when lm.kind is \"ngram\""))
		}
		if cfg.LM.NgramBackwardPath == "" {
			errs = append(errs, errors.New("lm.ngram_backward_path is required when lm.kind is \"ngram\""))
		}
	case LMDfa:
		if cfg.LM.GrammarDir == "" {
			errs = append(errs, errors.New("lm.grammar_dir is required when lm.kind is \"dfa\""))
		}
	}

	if cfg.Search.FirstPass.BeamWidth <= 0 {
		errs = append(errs, errors.New("search.first_pass.beam_width must be positive"))
	}
	if cfg.Search.FirstPass.WordPair && cfg.Search.FirstPass.KeepN <= 0 {
		errs = append(errs, errors.New("search.first_pass.keep_n must be positive when word_pair is enabled"))
	}
	if cfg.Search.SecondPass.NBest <= 0 {
		errs = append(errs, errors.New("search.second_pass.n_best must be positive"))
	}
	if cfg.Search.SecondPass.StackSize <= 0 {
		errs = append(errs, errors.New("search.second_pass.stack_size must be positive"))
	}
	switch cfg.Search.SecondPass.ConfidenceMode {
	case "", "search", "nbest":
	default:
		errs = append(errs, fmt.Errorf("search.second_pass.confidence_mode %q is invalid; valid values: search, nbest", cfg.Search.SecondPass.ConfidenceMode))
	}

	if cfg.Segment.SpFrameDuration <= 0 {
		errs = append(errs, errors.New("segment.sp_frame_duration must be positive"))
	}
	if cfg.Segment.RejectLongLen > 0 && cfg.Segment.RejectShortLen > cfg.Segment.RejectLongLen {
		errs = append(errs, errors.New("segment.reject_short_len must not exceed segment.reject_long_len"))
	}

	if cfg.Feature.VecLen <= 0 {
		errs = append(errs, errors.New("feature.vec_len must be positive"))
	}
	if cfg.Feature.FrameShiftMs <= 0 {
		errs = append(errs, errors.New("feature.frame_shift_ms must be positive"))
	}

	return errors.Join(errs...)
}
