package config_test

import (
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		LM:     config.LMConfig{Kind: config.LMDfa, GrammarDir: "grammars/v1"},
		Search: config.SearchConfig{
			FirstPass:  config.FirstPassConfig{BeamWidth: 1000},
			SecondPass: config.SecondPassConfig{NBest: 10, StackSize: 500},
		},
	}
}

func TestDiffNoChange(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	d := config.Diff(a, b)
	if d.LogLevelChanged || d.GrammarDirChanged || d.SearchChanged {
		t.Errorf("expected no diff, got %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.Server.LogLevel = config.LogDebug

	d := config.Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("expected LogLevelChanged=true NewLogLevel=debug, got %+v", d)
	}
	if d.GrammarDirChanged || d.SearchChanged {
		t.Errorf("unrelated fields should not be marked changed: %+v", d)
	}
}

func TestDiffGrammarDir(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.LM.GrammarDir = "grammars/v2"

	d := config.Diff(a, b)
	if !d.GrammarDirChanged || d.NewGrammarDir != "grammars/v2" {
		t.Errorf("expected GrammarDirChanged=true NewGrammarDir=grammars/v2, got %+v", d)
	}
}

func TestDiffLMKindChangeTriggersGrammarDirChanged(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.LM.Kind = config.LMNgram

	d := config.Diff(a, b)
	if !d.GrammarDirChanged {
		t.Error("switching lm.kind should mark GrammarDirChanged")
	}
}

func TestDiffSearchChanged(t *testing.T) {
	a := baseConfig()
	b := baseConfig()
	b.Search.FirstPass.BeamWidth = 2000

	d := config.Diff(a, b)
	if !d.SearchChanged {
		t.Error("changing beam_width should mark SearchChanged")
	}

	c := baseConfig()
	c.Search.SecondPass.ConfidenceAlpha = []float64{0.5, 1.0}
	d2 := config.Diff(a, c)
	if !d2.SearchChanged {
		t.Error("changing confidence_alpha should mark SearchChanged")
	}
}
