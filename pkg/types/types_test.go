package types_test

import (
	"testing"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func TestAddLogSaturatesAtLogZero(t *testing.T) {
	if got := types.AddLog(-1.5, -2.5); got != -4 {
		t.Errorf("AddLog(-1.5, -2.5) = %v, want -4", got)
	}
	if got := types.AddLog(types.LogZero, -1); got != types.LogZero {
		t.Errorf("AddLog(LogZero, -1) = %v, want LogZero (saturated, not drifting below it)", got)
	}
	if got := types.AddLog(types.LogZero, types.LogZero); got != types.LogZero {
		t.Errorf("AddLog(LogZero, LogZero) = %v, want LogZero", got)
	}
}

func TestStatusString(t *testing.T) {
	cases := []struct {
		s    types.Status
		want string
	}{
		{types.StatusSuccess, "SUCCESS"},
		{types.StatusFallback, "FALLBACK"},
		{types.StatusSearchFail, "SEARCH_FAIL"},
		{types.StatusRejectShort, "REJECT_SHORT"},
		{types.StatusRejectLong, "REJECT_LONG"},
		{types.StatusRejectSilence, "REJECT_SILENCE"},
		{types.StatusRejectPower, "REJECT_POWER"},
		{types.StatusRejectGMM, "REJECT_GMM"},
		{types.Status(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("Status(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestFeatureTypeString(t *testing.T) {
	cases := []struct {
		f    types.FeatureType
		want string
	}{
		{types.FeatureMFCC, "MFCC"},
		{types.FeatureFilterbank, "FBANK"},
		{types.FeatureMelSpectrum, "MELSPEC"},
		{types.FeatureType(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.f.String(); got != c.want {
			t.Errorf("FeatureType(%d).String() = %q, want %q", c.f, got, c.want)
		}
	}
}

func TestVADEventTypeString(t *testing.T) {
	cases := []struct {
		e    types.VADEventType
		want string
	}{
		{types.VADSpeechStart, "SPEECH_START"},
		{types.VADSpeechContinue, "SPEECH_CONTINUE"},
		{types.VADSpeechEnd, "SPEECH_END"},
		{types.VADSilence, "SILENCE"},
		{types.VADEventType(99), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.e.String(); got != c.want {
			t.Errorf("VADEventType(%d).String() = %q, want %q", c.e, got, c.want)
		}
	}
}

func TestNoWordSentinel(t *testing.T) {
	if types.NoWord >= 0 {
		t.Errorf("NoWord = %d, want a negative sentinel distinct from every dense WordID", types.NoWord)
	}
}
