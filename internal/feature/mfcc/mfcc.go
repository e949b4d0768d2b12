// Package mfcc provides a concrete [feature.BaseExtractor]: a textbook
// mel-frequency cepstral coefficient front end (power spectrum via a naive
// DFT, a triangular mel filterbank, log compression, and a truncated
// DCT-II), for callers that need one to instantiate
// internal/feature.Pipeline rather than supply their own.
//
// internal/feature itself deliberately leaves base DSP out of its scope
// (BaseExtractor is injected, the package's own windowing/delta/CMN math is
// what it owns) — this package is the one concrete instantiation cmd/lvcsrd
// wires in, the same way a provider package supplies a concrete backend
// behind an interface a core package only depends on abstractly. A naive
// O(n²) DFT is used instead of an FFT: analysis windows here are a few
// hundred samples, far below the size where that matters, and nothing in
// the retrieved pack pulls in an FFT library.
package mfcc

import (
	"math"

	"github.com/kurenai-lab/lvcsr/internal/feature"
)

// Extractor builds a [feature.BaseExtractor] computing cfg.VecLen MFCCs
// (C1..C{VecLen}, C0 dropped in favor of the pipeline's own WithEnergy
// handling) over cfg.SampleRate-Hz windows, with numMelFilters triangular
// filters spanning the full Nyquist range. A fixed filterbank is built once
// and reused across calls; window length is allowed to vary call-to-call
// (the final analysis window of an utterance may be shorter), so the DFT
// size is derived from each call's window, not fixed at construction.
func Extractor(sampleRate, numMelFilters int) feature.BaseExtractor {
	fb := &filterbankCache{sampleRate: sampleRate, numFilters: numMelFilters}
	return func(window []float64, cfg feature.Config) ([]float64, float64) {
		n := len(window)
		energy := logEnergy(window)
		if n == 0 {
			return make([]float64, cfg.VecLen), energy
		}

		windowed := make([]float64, n)
		for i, s := range window {
			// Hamming window.
			windowed[i] = s * (0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		}

		power := dftPower(windowed)
		filters := fb.filters(n, sampleRate)
		melEnergies := make([]float64, len(filters))
		for i, f := range filters {
			var sum float64
			for bin, w := range f {
				if bin < len(power) {
					sum += w * power[bin]
				}
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			melEnergies[i] = math.Log(sum)
		}

		return dctII(melEnergies, cfg.VecLen), energy
	}
}

// logEnergy computes the log of the sum of squared samples, floored to
// avoid log(0) on a silent window.
func logEnergy(window []float64) float64 {
	var sum float64
	for _, s := range window {
		sum += s * s
	}
	if sum < 1e-10 {
		sum = 1e-10
	}
	return math.Log(sum)
}

// dftPower returns the power spectrum (|X[k]|^2) of the first half of the
// DFT (the real-signal spectrum is symmetric, so only 0..n/2 is useful).
func dftPower(x []float64) []float64 {
	n := len(x)
	half := n/2 + 1
	power := make([]float64, half)
	for k := 0; k < half; k++ {
		var re, im float64
		for t, v := range x {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += v * math.Cos(angle)
			im += v * math.Sin(angle)
		}
		power[k] = re*re + im*im
	}
	return power
}

// dctII applies a truncated discrete cosine transform (type II) to in,
// returning the first numCoeffs coefficients (C1.. — the DC term C0 is
// skipped, matching HTK's MFCC_0 convention where C0/energy is tracked
// separately).
func dctII(in []float64, numCoeffs int) []float64 {
	n := len(in)
	out := make([]float64, numCoeffs)
	if n == 0 {
		return out
	}
	for k := 1; k <= numCoeffs; k++ {
		var sum float64
		for i, v := range in {
			sum += v * math.Cos(math.Pi*float64(k)/float64(n)*(float64(i)+0.5))
		}
		out[k-1] = sum * math.Sqrt(2.0/float64(n))
	}
	return out
}

// filterbankCache memoizes the triangular mel filter weights for the first
// window length requested (subsequent calls with the same length reuse it;
// a different length — e.g. the shorter final window of an utterance —
// rebuilds without caching that variant, since it is rare and cheap).
type filterbankCache struct {
	sampleRate int
	numFilters int

	windowLen int
	weights   [][]float64
}

func (c *filterbankCache) filters(windowLen, sampleRate int) [][]float64 {
	if c.weights == nil {
		c.windowLen = windowLen
		c.weights = melFilterbank(windowLen, sampleRate, c.numFilters)
	}
	if c.windowLen == windowLen {
		return c.weights
	}
	return melFilterbank(windowLen, sampleRate, c.numFilters)
}

// melFilterbank builds numFilters overlapping triangular filters spanning
// 0..Nyquist, evenly spaced on the mel scale, against an DFT of size
// windowLen.
func melFilterbank(windowLen, sampleRate, numFilters int) [][]float64 {
	nyquist := float64(sampleRate) / 2
	melMax := hzToMel(nyquist)
	half := windowLen/2 + 1

	points := make([]float64, numFilters+2)
	for i := range points {
		mel := melMax * float64(i) / float64(numFilters+1)
		points[i] = melToHz(mel)
	}
	bins := make([]int, len(points))
	for i, hz := range points {
		bins[i] = int(math.Floor((float64(windowLen) + 1) * hz / float64(sampleRate)))
	}

	out := make([][]float64, numFilters)
	for m := 1; m <= numFilters; m++ {
		w := make([]float64, half)
		lo, mid, hi := bins[m-1], bins[m], bins[m+1]
		for k := lo; k < mid && k < half; k++ {
			if mid > lo {
				w[k] = float64(k-lo) / float64(mid-lo)
			}
		}
		for k := mid; k < hi && k < half; k++ {
			if hi > mid {
				w[k] = float64(hi-k) / float64(hi-mid)
			}
		}
		out[m-1] = w
	}
	return out
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }
