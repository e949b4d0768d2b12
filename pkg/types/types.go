// Package types defines the shared value types used across every package of
// the recognition engine — acoustic model, language model, lexicon, the two
// search passes, segmentation, and the feature pipeline. These types are the
// lingua franca between those packages; each package also keeps its own
// internal types, but anything that crosses a package boundary lives here to
// avoid import cycles.
package types

import "time"

// LogZero is the additive-identity sentinel used throughout the engine for
// "impossible" log-probabilities. It is not math.Inf(-1) so that LogZero+x
// stays comparably ordered and never produces NaN under repeated
// accumulation across a long frame sequence.
const LogZero = -1e30

// AddLog returns a+b, saturating at LogZero instead of drifting toward -Inf
// once either operand is already LogZero. Both a and b are natural-log
// probabilities (or LogZero).
func AddLog(a, b float64) float64 {
	s := a + b
	if s < LogZero {
		return LogZero
	}
	return s
}

// AudioFrame is a single chunk of raw audio as delivered by a [Capture]
// plugin, before feature extraction.
type AudioFrame struct {
	// Data is 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono. Multi-channel input is down-mixed before MFCC.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// WordID identifies a word in a Dictionary. IDs are dense and stable for the
// lifetime of a loaded dictionary.
type WordID int32

// NoWord is the sentinel WordID meaning "no context word yet" (sentence
// start) or "no word" in contexts where a WordID is optional.
const NoWord WordID = -1

// WordSpan is a single recognized word with its acoustic boundaries,
// per-word scores, and confidence. It is the unit every pass-2 result and
// every forced alignment is expressed in.
type WordSpan struct {
	Word       WordID
	Surface    string
	BeginFrame int
	EndFrame   int
	AMScore    float64 // acoustic (Viterbi) log-score contributed by this word
	LMScore    float64 // language-model log-score for this word given its left context
	Confidence float64 // [0,1], 0 if not computed
}

// Sentence is one N-best hypothesis: an ordered word sequence with a total
// score and a result status.
type Sentence struct {
	Words      []WordSpan
	TotalScore float64
	Status     Status
}

// Status is the outcome of recognizing one utterance, covering both normal
// completion and every fatal/recoverable/reject condition of the error
// taxonomy.
type Status int

const (
	StatusSuccess Status = iota
	StatusFallback
	StatusSearchFail
	StatusRejectShort
	StatusRejectLong
	StatusRejectSilence
	StatusRejectPower
	StatusRejectGMM
)

// String renders the Status the way result-formatting code (outside this
// core) is expected to report it.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFallback:
		return "FALLBACK"
	case StatusSearchFail:
		return "SEARCH_FAIL"
	case StatusRejectShort:
		return "REJECT_SHORT"
	case StatusRejectLong:
		return "REJECT_LONG"
	case StatusRejectSilence:
		return "REJECT_SILENCE"
	case StatusRejectPower:
		return "REJECT_POWER"
	case StatusRejectGMM:
		return "REJECT_GMM"
	default:
		return "UNKNOWN"
	}
}

// FeatureVector is one frame of acoustic-model-ready features (MFCC+Δ+ΔΔ,
// filterbank, or whatever the AM's declared FeatureType is), already CMN/CVN
// normalized.
type FeatureVector struct {
	Data      []float64
	Timestamp time.Duration
}

// FeatureType tags the base feature kind a pipeline/AM pair must agree on.
// Declared by the AM header and checked against the pipeline's own kind at
// startup (FATAL_CONFIG on mismatch).
type FeatureType int

const (
	FeatureMFCC FeatureType = iota
	FeatureFilterbank
	FeatureMelSpectrum
)

func (f FeatureType) String() string {
	switch f {
	case FeatureMFCC:
		return "MFCC"
	case FeatureFilterbank:
		return "FBANK"
	case FeatureMelSpectrum:
		return "MELSPEC"
	default:
		return "UNKNOWN"
	}
}

// VADEvent is a voice-activity-detection result for a single audio frame,
// reported either by the decoder's own pause-word dominance signal or by an
// optional GMM-based VAD plugin.
type VADEvent struct {
	Type        VADEventType
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)

func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "SPEECH_START"
	case VADSpeechContinue:
		return "SPEECH_CONTINUE"
	case VADSpeechEnd:
		return "SPEECH_END"
	case VADSilence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}
