// Package feature implements the streaming acoustic-feature pipeline: PCM ->
// base features (MFCC/filterbank/mel-spectrum) with delta/delta-delta
// appending, per-utterance CMN/CVN normalization, and optional spectral
// subtraction. It is grounded on the frame-driven session/processLoop shape
// of a streaming STT provider session (PCM buffered and converted in fixed
// windows, one new output unit produced per shift) combined with the
// provider's PCM->float conversion helper.
package feature

import (
	"math"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// Config configures a streaming feature [Pipeline]. Frame/window sizes are
// expressed in samples at the configured SampleRate.
type Config struct {
	SampleRate int
	FrameShift int // samples advanced per output frame
	WindowSize int // samples per analysis window (>= FrameShift)

	VecLen      int // base feature dimension, before delta/delta-delta/energy
	FeatureType types.FeatureType

	DeltaWindow int  // number of frames each side used for delta/delta-delta regression
	WithDelta   bool
	WithAccel   bool // delta-delta

	WithEnergy       bool // append log-energy (or C0)
	SuppressAbsolute bool // when true, energy is not appended even if WithEnergy is set on silence-only input (handled by caller)

	// CMN/CVN.
	CMN          bool
	CVN          bool
	MapWeight    float64 // weight of each accepted utterance's frames when Finish folds them into the running mean (<= 0 means 1)
	SpectralSub  bool
	NoiseSpectrum []float64 // precomputed noise spectrum; nil => estimate per-utterance
	NoiseEstimateMs int    // length of the leading window used for per-utterance noise estimation
}

// Dim returns the final feature vector dimension this configuration
// produces: base + delta + accel + energy.
func (c Config) Dim() int {
	d := c.VecLen
	if c.WithDelta {
		d += c.VecLen
	}
	if c.WithAccel {
		d += c.VecLen
	}
	if c.WithEnergy {
		d++
	}
	return d
}

// BaseExtractor computes the un-normalized base feature vector (MFCC,
// filterbank, or mel-spectrum depending on cfg.FeatureType) for one analysis
// window of PCM samples, plus its log-energy. Production callers supply a
// real DSP implementation (FFT + mel filterbank + DCT for MFCC); tests can
// substitute a trivial stub.
type BaseExtractor func(window []float64, cfg Config) (vec []float64, logEnergy float64)

// CMNState is the process-lifetime running mean/variance used for MAP-smoothed
// cepstral normalization, mutated once per accepted (non-rejected) utterance.
type CMNState struct {
	Mean     []float64
	Var      []float64
	Count    float64 // (MapWeight-scaled) number of frames folded into Mean/Var so far
	HasState bool
}

// Pipeline is one streaming feature-extraction session: a grow-only sample
// window, a cyclic delta buffer, and a per-utterance CMN accumulator. A new
// Pipeline is created per utterance; CMNState is shared across utterances by
// the caller (it has process lifetime per spec.md §3).
type Pipeline struct {
	cfg     Config
	extract BaseExtractor

	samples []float64 // raw PCM samples accumulated, not yet consumed by a full window
	cmn     *CMNState

	// raw holds every base-feature-plus-energy vector produced so far, before
	// delta append and CMN — kept so delta windows can look back/ahead.
	raw [][]float64

	// Out is grow-only, one entry per completed frame, CMN/CVN applied.
	Out []types.FeatureVector

	// utterSum/utterSumSq/utterN accumulate this utterance's own statistics
	// for folding into cmn on Finish.
	utterSum   []float64
	utterSumSq []float64
	utterN     float64

	noiseSpectrum []float64 // resolved for spectral subtraction, lazily set
}

// NewPipeline creates a feature pipeline. cmn may be nil to disable
// CMN/CVN entirely.
func NewPipeline(cfg Config, extract BaseExtractor, cmn *CMNState) *Pipeline {
	return &Pipeline{cfg: cfg, extract: extract, cmn: cmn}
}

// Push appends raw PCM samples (16-bit signed, already decoded to float64 in
// [-1,1] or raw sample units — the BaseExtractor is responsible for whatever
// scale it expects) and extracts every full analysis window now available,
// advancing FrameShift samples at a time. Returns the number of new frames
// produced (available via len(p.Out) - previous length).
func (p *Pipeline) Push(samples []float64) int {
	p.samples = append(p.samples, samples...)
	produced := 0
	for len(p.samples) >= p.cfg.WindowSize {
		window := p.samples[:p.cfg.WindowSize]
		if p.cfg.SpectralSub {
			window = p.subtractSpectrum(window)
		}
		vec, energy := p.extract(window, p.cfg)
		p.accumulate(vec, energy)
		p.raw = append(p.raw, vec)
		p.appendEnergyAndDelta(energy)
		p.samples = p.samples[p.cfg.FrameShift:]
		produced++
	}
	return produced
}

// accumulate folds one frame's base vector into this utterance's running
// sum/sum-of-squares, used by CVN and by Finish's CMN update.
func (p *Pipeline) accumulate(vec []float64, energy float64) {
	if p.utterSum == nil {
		p.utterSum = make([]float64, len(vec))
		p.utterSumSq = make([]float64, len(vec))
	}
	for i, v := range vec {
		p.utterSum[i] += v
		p.utterSumSq[i] += v * v
	}
	p.utterN++
	_ = energy
}

// appendEnergyAndDelta builds the final output vector for the most recently
// pushed raw frame: base (CMN-applied in place below) + delta + accel +
// energy, and appends it to Out. Delta/accel use the cyclic look-back/-ahead
// implied by DeltaWindow over p.raw, clamping at utterance boundaries.
func (p *Pipeline) appendEnergyAndDelta(energy float64) {
	idx := len(p.raw) - 1
	base := append([]float64(nil), p.raw[idx]...)
	if p.cmn != nil && p.cfg.CMN {
		p.applyCMN(base)
	}

	out := append([]float64(nil), base...)
	if p.cfg.WithDelta {
		out = append(out, p.delta(idx, 1)...)
	}
	if p.cfg.WithAccel {
		out = append(out, p.delta(idx, 2)...)
	}
	if p.cfg.WithEnergy {
		out = append(out, energy)
	}
	p.Out = append(p.Out, types.FeatureVector{Data: out})
}

// applyCMN subtracts the MAP-smoothed running mean (and divides by the
// running standard deviation when CVN is enabled) in place. When no running
// mean has been loaded yet, the uninitialized (zero-valued) mean is used as-is
// — matching the original's documented behavior of silently reusing an
// absent mean rather than special-casing the first utterance.
func (p *Pipeline) applyCMN(vec []float64) {
	if len(p.cmn.Mean) == 0 {
		p.cmn.Mean = make([]float64, len(vec))
		p.cmn.Var = make([]float64, len(vec))
		for i := range p.cmn.Var {
			p.cmn.Var[i] = 1
		}
	}
	for i, v := range vec {
		vec[i] = v - p.cmn.Mean[i]
		if p.cfg.CVN && p.cmn.Var[i] > 0 {
			vec[i] /= math.Sqrt(p.cmn.Var[i])
		}
	}
}

// delta computes the order-th derivative (1 = delta, 2 = delta-delta) of
// p.raw[idx] via a regression over +/-DeltaWindow neighboring frames,
// clamping at the edges of the utterance the same way a cyclic buffer of
// fixed length behaves once only w < DeltaWindow frames are available.
func (p *Pipeline) delta(idx, order int) []float64 {
	src := p.raw
	if order == 2 {
		// delta-of-delta: build deltas-of-raw first, then regress those.
		deltas := make([][]float64, len(p.raw))
		for i := range p.raw {
			deltas[i] = regressDelta(p.raw, i, p.cfg.DeltaWindow)
		}
		src = deltas
	}
	return regressDelta(src, idx, p.cfg.DeltaWindow)
}

// regressDelta computes the standard HTK-style regression-based delta:
// sum(k * (f(idx+k) - f(idx-k))) / (2 * sum(k^2)), clamping indices at the
// utterance boundary by repeating the nearest available frame.
func regressDelta(src [][]float64, idx, window int) []float64 {
	if window <= 0 || len(src) == 0 {
		return make([]float64, dimOf(src))
	}
	dim := len(src[idx])
	out := make([]float64, dim)
	var denom float64
	for k := 1; k <= window; k++ {
		denom += float64(k * k)
	}
	denom *= 2
	if denom == 0 {
		return out
	}
	for k := 1; k <= window; k++ {
		fwd := clampIdx(idx+k, len(src))
		back := clampIdx(idx-k, len(src))
		for d := 0; d < dim; d++ {
			out[d] += float64(k) * (src[fwd][d] - src[back][d])
		}
	}
	for d := range out {
		out[d] /= denom
	}
	return out
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func dimOf(src [][]float64) int {
	if len(src) == 0 {
		return 0
	}
	return len(src[0])
}

// subtractSpectrum applies spectral subtraction to a PCM window using either
// the configured precomputed noise spectrum or a per-utterance estimate
// taken from the first NoiseEstimateMs of input. This implementation works
// in the magnitude domain on the window itself rather than a full STFT
// pipeline, matching the coarse per-window treatment the spec leaves
// unspecified beyond "a noise spectrum".
func (p *Pipeline) subtractSpectrum(window []float64) []float64 {
	noise := p.cfg.NoiseSpectrum
	if noise == nil {
		noise = p.estimateNoise(window)
	}
	out := make([]float64, len(window))
	for i, v := range window {
		n := 0.0
		if i < len(noise) {
			n = noise[i]
		}
		d := v - n
		if d < 0 {
			d = 0
		}
		out[i] = d
	}
	return out
}

// estimateNoise takes the leading NoiseEstimateMs of the utterance's first
// analysis window (at most one window's worth of samples) as a one-shot
// noise profile, memoized for the rest of the utterance.
func (p *Pipeline) estimateNoise(window []float64) []float64 {
	if p.noiseSpectrum != nil {
		return p.noiseSpectrum
	}
	ms := p.cfg.NoiseEstimateMs
	if ms <= 0 {
		ms = 100
	}
	n := ms * p.cfg.SampleRate / 1000
	if n > len(window) {
		n = len(window)
	}
	profile := append([]float64(nil), window[:n]...)
	for len(profile) < len(window) {
		profile = append(profile, profile[len(profile)%n])
	}
	p.noiseSpectrum = profile
	return profile
}

// Finish folds this utterance's accumulated mean/variance into the shared
// CMNState via MAP smoothing, but only when accepted is true — CMN/CVN must
// never update on a rejected or otherwise unsuccessful utterance (spec.md
// §7/§8 "CMN update guard").
func (p *Pipeline) Finish(accepted bool) {
	if p.cmn == nil || !accepted || p.utterN == 0 {
		return
	}
	mean := make([]float64, len(p.utterSum))
	varr := make([]float64, len(p.utterSum))
	for i := range mean {
		mean[i] = p.utterSum[i] / p.utterN
		varr[i] = p.utterSumSq[i]/p.utterN - mean[i]*mean[i]
		if varr[i] < 1e-6 {
			varr[i] = 1e-6
		}
	}
	if !p.cmn.HasState {
		p.cmn.Mean = mean
		p.cmn.Var = varr
		p.cmn.Count = p.utterN
		p.cmn.HasState = true
		return
	}
	w := p.cfg.MapWeight
	if w <= 0 {
		w = 1
	}
	total := p.cmn.Count + w*p.utterN
	for i := range p.cmn.Mean {
		p.cmn.Mean[i] = (p.cmn.Mean[i]*p.cmn.Count + mean[i]*w*p.utterN) / total
		p.cmn.Var[i] = (p.cmn.Var[i]*p.cmn.Count + varr[i]*w*p.utterN) / total
	}
	p.cmn.Count = total
}

// Rewind discards every produced output frame and raw vector with index >=
// fromFrame. The caller (the segmentation rewind protocol) is responsible
// for replaying the corresponding raw PCM back through Push; Rewind only
// trims the feature-side buffers so the replayed frames don't duplicate.
func (p *Pipeline) Rewind(fromFrame int) {
	if fromFrame < 0 {
		fromFrame = 0
	}
	if fromFrame < len(p.Out) {
		p.Out = p.Out[:fromFrame]
	}
	if fromFrame < len(p.raw) {
		p.raw = p.raw[:fromFrame]
	}
}

// NumFrames reports the number of frames produced so far.
func (p *Pipeline) NumFrames() int { return len(p.Out) }
