// Package segment implements decoder-driven segmentation (short-pause / VAD
// end-pointing) that decides where to cut a continuous input stream into
// recognizable utterances, with rewind-and-reprocess semantics. It is
// grounded on the teacher's state-machine-plus-explicit-transition style
// (see its reconnection monitor) and its degrade-on-failure wrapper pattern
// (reused here for the VAD-reject / "return defaults instead of propagating"
// shape of a REJECT_* outcome).
package segment

import "github.com/kurenai-lab/lvcsr/pkg/types"

// State is one state of the segmentation state machine (spec.md §4.6).
type State int

const (
	StateWaitingTrigger State = iota
	StateInSpeech
	StateInTrailingPause
	StateSegmented
)

func (s State) String() string {
	switch s {
	case StateWaitingTrigger:
		return "WAITING_TRIGGER"
	case StateInSpeech:
		return "IN_SPEECH"
	case StateInTrailingPause:
		return "IN_TRAILING_PAUSE"
	case StateSegmented:
		return "SEGMENTED"
	default:
		return "UNKNOWN"
	}
}

// Signal is what the first pass reports to the segmenter at each frame.
type Signal struct {
	// WordEnd is the word id of the best word-end atom ending this frame, or
	// types.NoWord if none.
	WordEnd types.WordID
	// IsPause reports whether WordEnd names the configured pause word.
	IsPause bool
	// Power is the average frame power, if available (0 disables power-based
	// logic — the segmenter does not reject on power by itself; that is an
	// AM/feature-pipeline concern surfaced separately).
	Power float64
	// VAD optionally reports a GMM-VAD up/down trigger independent of the
	// decoder's own pause-word dominance signal.
	VAD *types.VADEvent
}

// RewindRequest asks the coordinator to shrink the feature/outprob buffers to
// RewindFrame and, if Reprocess is set, replay the retained frames through
// the first pass before accepting new input.
type RewindRequest struct {
	RewindFrame int
	Reprocess   bool
}

// Config holds the tunables named in spec.md §4.6.
type Config struct {
	// SpDelay is the number of consecutive frames a non-pause word must win
	// before WAITING_TRIGGER -> IN_SPEECH fires on decoder-VAD alone (ignored
	// when a GMM-VAD up-trigger arrives first).
	SpDelay int
	// SpMargin is how many frames to rewind-and-replay when speech is
	// detected, so the emitted utterance includes audio immediately
	// preceding the trigger.
	SpMargin int
	// SpFrameDuration is the number of consecutive pause frames required to
	// transition IN_TRAILING_PAUSE -> SEGMENTED.
	SpFrameDuration int
	// UseGmmVad enables acting on Signal.VAD up/down triggers in addition to
	// decoder pause-word dominance.
	UseGmmVad bool
}

// Segmenter drives the state machine described in spec.md §4.6. One
// Segmenter is created per input stream and reset at each SEGMENTED
// transition (the coordinator starts a fresh one, or calls Reset, once the
// carried-over tail has been re-seeded as the next utterance's start).
type Segmenter struct {
	cfg   Config
	state State

	nonPauseRun int // consecutive non-pause-winning frames since entering WAITING_TRIGGER
	pauseRun    int // consecutive pause-winning frames since entering IN_TRAILING_PAUSE
	cutFrame    int // candidate cut frame recorded on IN_SPEECH -> IN_TRAILING_PAUSE
}

// New creates a Segmenter in StateWaitingTrigger.
func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg, state: StateWaitingTrigger}
}

// State reports the current state.
func (s *Segmenter) State() State { return s.state }

// Step advances the state machine by one frame and reports any rewind the
// coordinator must perform, plus whether this frame completed a segment
// (state machine entered SEGMENTED).
func (s *Segmenter) Step(frame int, sig Signal) (rewind *RewindRequest, segmented bool) {
	switch s.state {
	case StateWaitingTrigger:
		return s.stepWaiting(frame, sig)
	case StateInSpeech:
		return s.stepInSpeech(frame, sig)
	case StateInTrailingPause:
		return s.stepTrailingPause(frame, sig)
	case StateSegmented:
		return nil, true
	default:
		return nil, false
	}
}

func (s *Segmenter) stepWaiting(frame int, sig Signal) (*RewindRequest, bool) {
	gmmTrigger := s.cfg.UseGmmVad && sig.VAD != nil && sig.VAD.Type == types.VADSpeechStart

	if sig.WordEnd != types.NoWord && !sig.IsPause {
		s.nonPauseRun++
	} else if sig.WordEnd != types.NoWord {
		s.nonPauseRun = 0
	}

	if gmmTrigger || (s.cfg.SpDelay > 0 && s.nonPauseRun >= s.cfg.SpDelay) {
		s.state = StateInSpeech
		s.nonPauseRun = 0
		rewindFrame := frame - s.cfg.SpMargin
		if rewindFrame < 0 {
			rewindFrame = 0
		}
		return &RewindRequest{RewindFrame: rewindFrame, Reprocess: true}, false
	}
	return nil, false
}

func (s *Segmenter) stepInSpeech(frame int, sig Signal) (*RewindRequest, bool) {
	if sig.WordEnd != types.NoWord && sig.IsPause {
		s.state = StateInTrailingPause
		s.cutFrame = frame
		s.pauseRun = 1
	}
	return nil, false
}

func (s *Segmenter) stepTrailingPause(frame int, sig Signal) (*RewindRequest, bool) {
	if sig.WordEnd != types.NoWord && !sig.IsPause {
		s.state = StateInSpeech
		s.pauseRun = 0
		return nil, false
	}
	s.pauseRun++
	if s.pauseRun >= s.cfg.SpFrameDuration {
		s.state = StateSegmented
		return nil, true
	}
	return nil, false
}

// CutFrame returns the candidate cut frame recorded when trailing pause
// began; meaningful only once Step has returned segmented=true.
func (s *Segmenter) CutFrame() int { return s.cutFrame }

// Reset returns the segmenter to StateWaitingTrigger for the next utterance,
// as the coordinator does after splitting the feature buffer at the cut
// point and carrying the tail over.
func (s *Segmenter) Reset() {
	s.state = StateWaitingTrigger
	s.nonPauseRun = 0
	s.pauseRun = 0
	s.cutFrame = 0
}

// RejectReason classifies why an utterance should not be accepted, per
// spec.md §7's REJECT_* taxonomy. Zero value means "not rejected".
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectShort
	RejectLong
	RejectSilenceOnly
	RejectPower
	RejectGMM
)

// Status converts a RejectReason to the corresponding result Status.
func (r RejectReason) Status() types.Status {
	switch r {
	case RejectShort:
		return types.StatusRejectShort
	case RejectLong:
		return types.StatusRejectLong
	case RejectSilenceOnly:
		return types.StatusRejectSilence
	case RejectPower:
		return types.StatusRejectPower
	case RejectGMM:
		return types.StatusRejectGMM
	default:
		return types.StatusSuccess
	}
}

// RejectConfig holds the length-based reject thresholds named in spec.md §8.
type RejectConfig struct {
	MinFrames int
	MaxFrames int
}

// CheckLength applies the length-based reject rules: an utterance strictly
// shorter than MinFrames is REJECT_SHORT; one at or beyond MaxFrames (when
// configured) is REJECT_LONG.
func (c RejectConfig) CheckLength(numFrames int) RejectReason {
	if c.MinFrames > 0 && numFrames < c.MinFrames {
		return RejectShort
	}
	if c.MaxFrames > 0 && numFrames >= c.MaxFrames {
		return RejectLong
	}
	return RejectNone
}
