package engine

import (
	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/am/codebook"
	"github.com/kurenai-lab/lvcsr/internal/audio"
	"github.com/kurenai-lab/lvcsr/internal/feature"
	"github.com/kurenai-lab/lvcsr/internal/firstpass"
	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/secondpass"
	"github.com/kurenai-lab/lvcsr/internal/segment"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// Result is the outcome of one utterance: a completed Session.Finalize
// call. Status carries the full spec.md §7 taxonomy (success, fallback,
// search failure, or one of the REJECT_* reasons); Sentences is empty for
// any non-success, non-fallback status.
type Result struct {
	Status    types.Status
	Sentences []types.Sentence
	Lattice   *secondpass.Graph
	ConfNet   []secondpass.ConfusionBin
}

// Session drives one utterance: the feature pipeline (when input is raw
// audio), the output-probability cache, the first pass, and the segmenter.
// A Session is created by Engine.NewSession and discarded once Finalize
// returns; the next utterance gets a new Session.
type Session struct {
	eng  *Engine
	kind audio.InputKind

	cache *am.Cache
	// codebook is this session's private per-frame memo over AM.Codebook,
	// nil when the acoustic model has no tied-mixture codebook. Rebuilt
	// fresh per Session (see Engine.newCodebookStore) since the memo is not
	// safe for concurrent reuse across utterances.
	codebook *codebook.Store
	feat     *feature.Pipeline // nil unless kind == audio.InputAudio
	fp       *firstpass.FirstPass
	seg      *segment.Segmenter

	// audioSamples/vectors retain every sample/vector pushed so far this
	// utterance, so a segmenter rewind can replay frames from its
	// RewindFrame onward without needing partial-undo support in Pipeline
	// or FirstPass (FirstPass.Reset only supports discarding everything and
	// restarting at frame 0; rewinding is implemented by renumbering
	// RewindFrame as the new frame 0 and replaying the retained tail
	// through a freshly reset Pipeline/FirstPass pair).
	audioSamples []float64
	vectors      [][]float64

	vadHook func(frame int) *types.VADEvent

	ended bool
}

// SetVADHook attaches an optional external VAD plugin consulted once per
// frame in addition to the decoder's own pause-word dominance signal (only
// acted on when Engine.Cfg.Segment.UseGmmVad is set).
func (s *Session) SetVADHook(hook func(frame int) *types.VADEvent) {
	s.vadHook = hook
}

// rebuildFirstPass (re)creates the FirstPass bound to the OutProb closure
// matching this session's input kind: InputOutprobVector bypasses the
// acoustic model entirely and reads straight out of the pushed vector,
// indexed by state id; the other two kinds go through the output-probability
// cache as usual.
func (s *Session) rebuildFirstPass() {
	var out firstpass.OutProb
	if s.kind == audio.InputOutprobVector {
		out = func(node *lexicon.Node, frame int, x []float64) float64 {
			id := int(node.State.ID)
			if id < 0 || id >= len(x) {
				return types.LogZero
			}
			return x[id]
		}
	} else {
		cache := s.cache
		store := s.codebook
		gms := s.eng.GMS
		gmsFrame := -1
		out = func(node *lexicon.Node, frame int, x []float64) float64 {
			if store != nil {
				store.ResetFrame(frame)
			}
			if gms != nil && frame != gmsFrame {
				gms.SelectFrame(frame, x)
				gmsFrame = frame
			}
			return cache.LogProb(node.State, frame, x)
		}
	}
	s.fp = firstpass.New(s.eng.Lexicon, s.eng.LM, s.eng.Cfg.FirstPass, out)
}

// PushAudio feeds raw PCM samples (already decoded to the scale the
// configured feature.BaseExtractor expects) through the feature pipeline,
// the first pass, and the segmenter, advancing one frame per completed
// analysis window. rewind is non-nil when the segmenter requested a
// rewind-and-reprocess (already carried out by the time PushAudio returns);
// segmented reports whether this push reached a segment boundary.
func (s *Session) PushAudio(samples []float64) (rewind *segment.RewindRequest, segmented bool, err error) {
	if s.kind != audio.InputAudio {
		return nil, false, recoverableInput("engine: session configured for %s input, not audio", s.kind)
	}
	if s.ended {
		return nil, false, recoverableInput("engine: session already finalized")
	}
	s.audioSamples = append(s.audioSamples, samples...)
	before := s.feat.NumFrames()
	s.feat.Push(samples)
	return s.advanceFrames(before)
}

// PushVector feeds one pre-extracted feature vector (InputFeatureVector,
// bypassing only the feature pipeline) or one precomputed per-state
// output-probability vector (InputOutprobVector, bypassing the acoustic
// model too) directly into the first pass and segmenter.
func (s *Session) PushVector(vec []float64) (rewind *segment.RewindRequest, segmented bool, err error) {
	if s.kind == audio.InputAudio {
		return nil, false, recoverableInput("engine: session configured for audio input, not %s", s.kind)
	}
	if s.ended {
		return nil, false, recoverableInput("engine: session already finalized")
	}
	s.vectors = append(s.vectors, vec)
	return s.stepOneFrame(len(s.vectors)-1, vec)
}

// advanceFrames drives the first pass and segmenter over every feature frame
// produced since the call that started at index before, stopping early on a
// rewind (the feature buffer has already been renumbered from frame 0, so
// continuing the old index space would overrun it) or a segment boundary.
func (s *Session) advanceFrames(before int) (*segment.RewindRequest, bool, error) {
	for i := before; i < s.feat.NumFrames(); i++ {
		rw, segmented, err := s.stepOneFrame(i, s.feat.Out[i].Data)
		if err != nil {
			return nil, false, err
		}
		if rw != nil {
			return rw, segmented, nil
		}
		if segmented {
			return nil, true, nil
		}
	}
	return nil, false, nil
}

// stepOneFrame advances the first pass by exactly one frame, derives the
// segmenter Signal from the resulting word-trellis state, and steps the
// segmenter.
func (s *Session) stepOneFrame(frame int, x []float64) (*segment.RewindRequest, bool, error) {
	s.fp.Step(x)
	sig := s.signalFor(frame)
	rw, segmented := s.seg.Step(frame, sig)
	if rw != nil {
		if err := s.rewind(rw); err != nil {
			return nil, false, err
		}
	}
	if segmented {
		s.ended = true
	}
	return rw, segmented, nil
}

// signalFor builds the segmenter's per-frame Signal from the best word-end
// trellis atom at frame (if any), the frame's log-energy (when the feature
// pipeline appends one), and the optional external VAD hook.
func (s *Session) signalFor(frame int) segment.Signal {
	sig := segment.Signal{WordEnd: types.NoWord}
	best := types.LogZero
	for _, a := range s.fp.Trellis().AtomsAt(frame) {
		if a.Backscore > best {
			best = a.Backscore
			sig.WordEnd = a.Word
		}
	}
	if sig.WordEnd != types.NoWord {
		sig.IsPause = sig.WordEnd == s.eng.Cfg.FirstPass.ShortPauseID
	}
	if s.feat != nil && s.eng.Cfg.Feature.WithEnergy && frame < len(s.feat.Out) {
		data := s.feat.Out[frame].Data
		if len(data) > 0 {
			sig.Power = data[len(data)-1]
		}
	}
	if s.vadHook != nil {
		sig.VAD = s.vadHook(frame)
	}
	return sig
}

// rewind carries out a segmenter-requested rewind: RewindFrame becomes the
// new frame 0. Retained raw audio (or retained vectors) from that point
// onward is replayed through a freshly reset Pipeline/FirstPass/Cache so the
// trellis never claims a frame index the caller has discarded.
func (s *Session) rewind(rw *segment.RewindRequest) error {
	if !rw.Reprocess {
		return nil
	}
	s.cache.Invalidate(0)
	s.fp.Reset()
	cut := rw.RewindFrame
	if cut < 0 {
		cut = 0
	}

	if s.kind == audio.InputAudio {
		shift := cut * s.eng.Cfg.Feature.FrameShift
		if shift < 0 {
			shift = 0
		}
		if shift > len(s.audioSamples) {
			shift = len(s.audioSamples)
		}
		retained := append([]float64(nil), s.audioSamples[shift:]...)
		s.audioSamples = retained
		s.feat = feature.NewPipeline(s.eng.Cfg.Feature, s.eng.Extract, s.eng.CMN)
		s.feat.Push(retained)
		for i := 0; i < s.feat.NumFrames(); i++ {
			s.fp.Step(s.feat.Out[i].Data)
		}
		return nil
	}

	if cut > len(s.vectors) {
		cut = len(s.vectors)
	}
	retained := append([][]float64(nil), s.vectors[cut:]...)
	s.vectors = retained
	for _, vec := range s.vectors {
		s.fp.Step(vec)
	}
	return nil
}

// Frame reports the number of frames processed so far this utterance.
func (s *Session) Frame() int { return s.fp.Frame() }

// State reports the segmenter's current state.
func (s *Session) State() segment.State { return s.seg.State() }

// fallbackResult builds a Result from the first pass's own best path,
// Status StatusFallback, used when the second pass is disabled or fails
// with SecondPass.FallbackPass1 set.
func (s *Session) fallbackResult() Result {
	words := s.fp.BestPath()
	spans := make([]types.WordSpan, len(words))
	for i, w := range words {
		surface, _, _ := s.eng.wordOf(w)
		spans[i] = types.WordSpan{Word: w, Surface: surface}
	}
	return Result{
		Status:    types.StatusFallback,
		Sentences: []types.Sentence{{Words: spans, Status: types.StatusFallback}},
	}
}

// Finalize ends the current utterance: applies the length-based reject
// checks, runs the configured second pass (or the first-pass fallback),
// folds this utterance's statistics into the shared CMN state (only when
// the result is accepted — the CMN update guard of spec.md §7/§8), and
// returns the Result. The Session must not be reused afterward.
func (s *Session) Finalize() (*Result, error) {
	numFrames := s.fp.Frame()
	if reason := s.eng.Cfg.Reject.CheckLength(numFrames); reason != segment.RejectNone {
		s.finish(false)
		return &Result{Status: reason.Status()}, nil
	}

	var res Result
	if s.eng.Cfg.RunSecondPass {
		dec := secondpass.New(s.eng.Cfg.SecondPass, s.fp.Trellis(), s.eng.LM, s.eng.Rescorer, s.eng.wordOf, s.eng.Cfg.SecondPass.Lattice)
		out := dec.Run(numFrames - 1)
		if out.Status == types.StatusSuccess {
			res = Result{Status: out.Status, Sentences: out.Sentences, Lattice: out.Lattice, ConfNet: out.ConfNet}
		} else if s.eng.Cfg.SecondPass.FallbackPass1 {
			res = s.fallbackResult()
		} else {
			res = Result{Status: out.Status}
		}
	} else {
		res = s.fallbackResult()
	}

	accepted := res.Status == types.StatusSuccess || res.Status == types.StatusFallback
	s.finish(accepted)
	return &res, nil
}

// Align computes word/phone-level forced alignment for sentence (typically
// one returned by a prior Finalize call): word boundaries are taken as
// given and each word's frame span is split uniformly across its phones
// (see secondpass.Align).
func (s *Session) Align(sentence types.Sentence) []secondpass.PhoneSpan {
	return secondpass.Align(sentence, s.eng.phonesOf)
}

// finish applies the CMN update guard and marks the session finalized.
func (s *Session) finish(accepted bool) {
	if s.feat != nil {
		s.feat.Finish(accepted)
	}
	s.ended = true
}
