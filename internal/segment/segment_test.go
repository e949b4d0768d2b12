package segment_test

import (
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/segment"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func TestWaitingToSpeechRewind(t *testing.T) {
	s := segment.New(segment.Config{SpDelay: 2, SpMargin: 3, SpFrameDuration: 5})

	rewind, done := s.Step(0, segment.Signal{WordEnd: 1})
	if rewind != nil || done {
		t.Fatalf("frame 0: unexpected transition")
	}
	rewind, done = s.Step(1, segment.Signal{WordEnd: 1})
	if done {
		t.Fatal("must not segment while waiting for trigger")
	}
	if rewind == nil {
		t.Fatal("expected rewind request once SpDelay consecutive non-pause frames seen")
	}
	if rewind.RewindFrame != 0 {
		t.Fatalf("RewindFrame = %d, want clamped to 0 (frame 1 - margin 3)", rewind.RewindFrame)
	}
	if s.State() != segment.StateInSpeech {
		t.Fatalf("state = %v, want IN_SPEECH", s.State())
	}
}

func TestTrailingPauseSegmentsAfterDuration(t *testing.T) {
	s := segment.New(segment.Config{SpDelay: 1, SpFrameDuration: 3})
	s.Step(0, segment.Signal{WordEnd: 1})
	if s.State() != segment.StateInSpeech {
		t.Fatalf("state = %v, want IN_SPEECH after first non-pause frame", s.State())
	}

	_, done := s.Step(1, segment.Signal{WordEnd: 2, IsPause: true})
	if done {
		t.Fatal("one pause frame must not yet segment")
	}
	if s.State() != segment.StateInTrailingPause {
		t.Fatalf("state = %v, want IN_TRAILING_PAUSE", s.State())
	}

	// sp_frame_duration - 1 total pause frames (this is the 2nd) must NOT segment.
	_, done = s.Step(2, segment.Signal{WordEnd: 2, IsPause: true})
	if done {
		t.Fatal("sp_frame_duration-1 consecutive pause frames must not segment")
	}

	// The 3rd consecutive pause frame reaches sp_frame_duration and must segment.
	_, done = s.Step(3, segment.Signal{WordEnd: 2, IsPause: true})
	if !done {
		t.Fatal("sp_frame_duration consecutive pause frames must segment")
	}
	if s.State() != segment.StateSegmented {
		t.Fatalf("state = %v, want SEGMENTED", s.State())
	}
	if s.CutFrame() != 1 {
		t.Fatalf("CutFrame() = %d, want 1 (frame trailing pause began)", s.CutFrame())
	}
}

func TestPauseInterruptedBySpeechReturnsToInSpeech(t *testing.T) {
	s := segment.New(segment.Config{SpDelay: 1, SpFrameDuration: 5})
	s.Step(0, segment.Signal{WordEnd: 1})
	s.Step(1, segment.Signal{WordEnd: 2, IsPause: true})
	if s.State() != segment.StateInTrailingPause {
		t.Fatalf("state = %v, want IN_TRAILING_PAUSE", s.State())
	}
	s.Step(2, segment.Signal{WordEnd: 3})
	if s.State() != segment.StateInSpeech {
		t.Fatalf("state = %v, want IN_SPEECH after non-pause word interrupts trailing pause", s.State())
	}
}

func TestRejectConfigCheckLength(t *testing.T) {
	c := segment.RejectConfig{MinFrames: 10, MaxFrames: 100}
	if got := c.CheckLength(5); got != segment.RejectShort {
		t.Fatalf("CheckLength(5) = %v, want RejectShort", got)
	}
	if got := c.CheckLength(100); got != segment.RejectLong {
		t.Fatalf("CheckLength(100) = %v, want RejectLong", got)
	}
	if got := c.CheckLength(50); got != segment.RejectNone {
		t.Fatalf("CheckLength(50) = %v, want RejectNone", got)
	}
}

func TestRejectReasonStatus(t *testing.T) {
	cases := map[segment.RejectReason]types.Status{
		segment.RejectShort:       types.StatusRejectShort,
		segment.RejectLong:        types.StatusRejectLong,
		segment.RejectSilenceOnly: types.StatusRejectSilence,
		segment.RejectPower:       types.StatusRejectPower,
		segment.RejectGMM:         types.StatusRejectGMM,
		segment.RejectNone:        types.StatusSuccess,
	}
	for reason, want := range cases {
		if got := reason.Status(); got != want {
			t.Fatalf("%v.Status() = %v, want %v", reason, got, want)
		}
	}
}
