package am

import (
	"fmt"
	"math"

	"github.com/kurenai-lab/lvcsr/internal/binhmm"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// FromBinHMM builds an [AcousticModel] from a parsed [binhmm.Set]. Every
// [binhmm.Model] becomes one entry in Phones, keyed by its model name — the
// writer side already encodes triphone names as "l-c+r" and monophone/
// biphone pseudo-models under their own bare or partial keys, so no further
// context-key construction is needed here.
//
// Only single-stream acoustic models are supported; FromBinHMM returns an
// error for sets with more than one parameter stream (HTK multi-stream
// audio-visual/multi-modal HMMs), which nothing in this decoder configures.
func FromBinHMM(set *binhmm.Set, featureType types.FeatureType, shortPausePhone string, iwcd IWCDPolicy) (*AcousticModel, error) {
	if set.Opt.NumStreams() != 1 {
		return nil, fmt.Errorf("am: FromBinHMM: %d-stream HMM sets are not supported", set.Opt.NumStreams())
	}

	acoustic := &AcousticModel{
		FeatureType:     featureType,
		VecLen:          int(set.Opt.VecSize),
		InvVar:          set.VarianceInv,
		Phones:          make(map[string]*PhoneHMM, len(set.Models)),
		ShortPausePhone: shortPausePhone,
		IWCD:            iwcd,
	}

	if set.TiedMixture {
		acoustic.Codebook = make([]Gaussian, len(set.Dens))
		for i, d := range set.Dens {
			acoustic.Codebook[i] = gaussianFromDensity(set, d)
		}
	}

	states := make([]*State, len(set.States))
	for i, st := range set.States {
		pdf, err := mixturePDFFromBinHMM(set, st, 0)
		if err != nil {
			return nil, fmt.Errorf("am: FromBinHMM: state %q: %w", st.Name, err)
		}
		states[i] = &State{ID: StateID(i), Style: StyleState, Shared: pdf}
	}

	for _, m := range set.Models {
		if m.TransIdx < 0 || m.TransIdx >= len(set.Trans) {
			return nil, fmt.Errorf("am: FromBinHMM: model %q: transition index out of range", m.Name)
		}
		trans, err := logTransFromBinHMM(set.Trans[m.TransIdx].A)
		if err != nil {
			return nil, fmt.Errorf("am: FromBinHMM: model %q: %w", m.Name, err)
		}
		hmm := &PhoneHMM{Name: m.Name, Trans: trans}
		for _, si := range m.StateIdx {
			if si < 0 {
				continue // non-emitting placeholder slot
			}
			if si >= len(states) {
				return nil, fmt.Errorf("am: FromBinHMM: model %q: state index out of range", m.Name)
			}
			hmm.States = append(hmm.States, states[si])
		}
		acoustic.Phones[m.Name] = hmm
	}

	return acoustic, nil
}

// logTransFromBinHMM converts a linear-probability HTK transition matrix
// (including the non-emitting entry/exit rows, matching [PhoneHMM.Trans]'s
// layout) to natural-log probabilities.
func logTransFromBinHMM(a [][]float64) ([][]float64, error) {
	out := make([][]float64, len(a))
	for i, row := range a {
		if len(row) != len(a) {
			return nil, fmt.Errorf("non-square transition matrix")
		}
		out[i] = make([]float64, len(row))
		for j, p := range row {
			if p <= 0 {
				out[i][j] = types.LogZero
			} else {
				out[i][j] = math.Log(p)
			}
		}
	}
	return out, nil
}

// gaussianFromDensity resolves one binhmm.Density (plus its referenced
// variance) into a pool [Gaussian]. Weight is left zero: pool entries are
// always referenced through a MixturePDF's TiedWeights, never scored with
// their own weight.
func gaussianFromDensity(set *binhmm.Set, d binhmm.Density) Gaussian {
	var varVec []float64
	if d.VarIdx >= 0 && d.VarIdx < len(set.Vars) {
		varVec = set.Vars[d.VarIdx].Vec
	}
	return Gaussian{Mean: d.Mean, Var: varVec, GConst: d.GConst}
}

// mixturePDFFromBinHMM resolves stream s of a binhmm.State (following the
// Mpdfs macro indirection when the set uses one) into an [MixturePDF].
func mixturePDFFromBinHMM(set *binhmm.Set, st binhmm.State, s int) (MixturePDF, error) {
	var raw binhmm.MixturePDF
	if set.MpdfMacro {
		if s >= len(st.MpdfIdx) {
			return MixturePDF{}, fmt.Errorf("stream %d: no mpdf index", s)
		}
		idx := st.MpdfIdx[s]
		if idx < 0 || idx >= len(set.Mpdfs) {
			return MixturePDF{}, fmt.Errorf("stream %d: mpdf index out of range", s)
		}
		raw = set.Mpdfs[idx]
	} else {
		if s >= len(st.PDFs) {
			return MixturePDF{}, fmt.Errorf("stream %d: no inline pdf", s)
		}
		raw = st.PDFs[s]
	}

	if raw.TmixIdx >= 0 {
		if raw.TmixIdx >= len(set.Codebooks) {
			return MixturePDF{}, fmt.Errorf("tied-mixture codebook index out of range")
		}
		cb := set.Codebooks[raw.TmixIdx]
		var idx []int32
		var weight []float64
		for i, di := range cb.DensIdx {
			if di < 0 {
				continue
			}
			if i >= len(raw.Weight) {
				return MixturePDF{}, fmt.Errorf("tied-mixture weight count does not match codebook size")
			}
			idx = append(idx, int32(di))
			weight = append(weight, raw.Weight[i])
		}
		return MixturePDF{CodebookIdx: idx, TiedWeights: weight}, nil
	}

	components := make([]Gaussian, 0, len(raw.DensIdx))
	for i, di := range raw.DensIdx {
		if di < 0 {
			continue
		}
		if di >= len(set.Dens) {
			return MixturePDF{}, fmt.Errorf("density index out of range")
		}
		if i >= len(raw.Weight) {
			return MixturePDF{}, fmt.Errorf("weight count does not match density count")
		}
		g := gaussianFromDensity(set, set.Dens[di])
		g.Weight = raw.Weight[i]
		components = append(components, g)
	}
	return MixturePDF{Components: components}, nil
}
