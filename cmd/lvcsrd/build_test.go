package main

import (
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/config"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func TestIwcdPolicy(t *testing.T) {
	cases := []struct {
		mode    string
		want    am.IWCDMode
		wantErr bool
	}{
		{"", am.IWCDAvg, false},
		{"avg", am.IWCDAvg, false},
		{"max", am.IWCDMax, false},
		{"nbest", am.IWCDNBest, false},
		{"bogus", 0, true},
	}
	for _, c := range cases {
		policy, err := iwcdPolicy(c.mode, true)
		if c.wantErr {
			if err == nil {
				t.Errorf("iwcdPolicy(%q) expected an error, got none", c.mode)
			}
			continue
		}
		if err != nil {
			t.Fatalf("iwcdPolicy(%q) unexpected error: %v", c.mode, err)
		}
		if policy.Mode != c.want {
			t.Errorf("iwcdPolicy(%q).Mode = %v, want %v", c.mode, policy.Mode, c.want)
		}
		if !policy.Enabled {
			t.Errorf("iwcdPolicy(%q).Enabled = false, want true (passed through)", c.mode)
		}
	}
	if policy, _ := iwcdPolicy("nbest", false); policy.NBest != 3 {
		t.Errorf("iwcdPolicy(nbest).NBest = %d, want 3", policy.NBest)
	}
}

func TestGaussianPruning(t *testing.T) {
	cases := []struct {
		mode string
		want am.GaussianPruning
	}{
		{"", am.PruneNone},
		{"none", am.PruneNone},
		{"safe", am.PruneSafe},
		{"beam", am.PruneBeam},
		{"heuristic", am.PruneHeuristic},
		{"gms", am.PruneUserPlugin},
	}
	for _, c := range cases {
		got, err := gaussianPruning(c.mode)
		if err != nil {
			t.Fatalf("gaussianPruning(%q) unexpected error: %v", c.mode, err)
		}
		if got != c.want {
			t.Errorf("gaussianPruning(%q) = %v, want %v", c.mode, got, c.want)
		}
	}
	if _, err := gaussianPruning("nonsense"); err == nil {
		t.Error("gaussianPruning(\"nonsense\") expected an error, got none")
	}
}

func TestCenterPhone(t *testing.T) {
	cases := map[string]string{
		"a-b+c": "b",
		"a-b":   "b",
		"b+c":   "b",
		"b":     "b",
	}
	for name, want := range cases {
		if got := centerPhone(name); got != want {
			t.Errorf("centerPhone(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestMsToSamples(t *testing.T) {
	if got := msToSamples(10, 16000); got != 160 {
		t.Errorf("msToSamples(10, 16000) = %d, want 160", got)
	}
	if got := msToSamples(0, 16000); got != 1 {
		t.Errorf("msToSamples(0, 16000) = %d, want 1 (floored so a zero config never yields a zero-length window)", got)
	}
}

func TestSecondPassConfigSelectsVariant(t *testing.T) {
	cfg := secondPassConfig(config.SecondPassConfig{Nextscan: true, NBest: 5})
	if cfg.NBest != 5 {
		t.Errorf("secondPassConfig NBest = %d, want 5", cfg.NBest)
	}

	backscan := secondPassConfig(config.SecondPassConfig{Nextscan: false})
	nextscan := secondPassConfig(config.SecondPassConfig{Nextscan: true})
	if backscan.Variant == nextscan.Variant {
		t.Error("Nextscan=false and Nextscan=true must select different secondpass.Variant values")
	}
}

func TestBuildFeatureConfigDefaultsSampleRate(t *testing.T) {
	fc := buildFeatureConfig(config.FeatureConfig{FrameShiftMs: 10, WindowMs: 25}, types.FeatureMFCC)
	if fc.SampleRate != 16000 {
		t.Errorf("buildFeatureConfig SampleRate = %d, want default 16000", fc.SampleRate)
	}
	if fc.FrameShift != 160 {
		t.Errorf("buildFeatureConfig FrameShift = %d, want 160 (10ms @ 16kHz)", fc.FrameShift)
	}
}

func TestBuildSegmentConfig(t *testing.T) {
	segCfg, rejectCfg := buildSegmentConfig(config.SegmentConfig{
		SpDelay: 3, RejectShortLen: 5, RejectLongLen: 100,
	})
	if segCfg.SpDelay != 3 {
		t.Errorf("SegmentConfig.SpDelay = %d, want 3", segCfg.SpDelay)
	}
	if rejectCfg.MinFrames != 5 || rejectCfg.MaxFrames != 100 {
		t.Errorf("RejectConfig = %+v, want MinFrames=5 MaxFrames=100", rejectCfg)
	}
}

func TestCategoryMap(t *testing.T) {
	if got := categoryMap(nil); got != nil {
		t.Errorf("categoryMap(nil) = %v, want nil", got)
	}
	grammar := &lm.DfaGrammar{
		Terminals: map[lm.CategoryID][]types.WordID{
			0: {1, 2},
			1: {3},
		},
	}
	got := categoryMap(grammar)
	want := map[types.WordID]int32{1: 0, 2: 0, 3: 1}
	if len(got) != len(want) {
		t.Fatalf("categoryMap length = %d, want %d", len(got), len(want))
	}
	for w, cat := range want {
		if got[w] != cat {
			t.Errorf("categoryMap[%d] = %d, want %d", w, got[w], cat)
		}
	}
}
