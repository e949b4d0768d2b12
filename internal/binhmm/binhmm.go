// Package binhmm reads and writes the Julius binary HMM definition format
// (header magic "julius_bin_hmm_v2"), the on-disk encoding the acoustic
// model loader consumes instead of parsing the much larger HTK ASCII HMM
// definition text format. All multi-byte fields are big-endian on disk,
// matching the original's "always write big-endian, byte-swap on a
// little-endian host" convention; every cross-reference between sections
// (e.g. a density referencing its variance) is a dense index into the
// section written immediately before it, exactly as spec.md §6 describes.
//
// Grounded on original_source/libsent/src/hmminfo/write_binhmm.c's section
// order and qualifier semantics (E=embedded acoustic-analysis parameters,
// I=inverse-variance storage, M=mixture-pdf macro).
package binhmm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const magic = "julius_bin_hmm_v2"

const (
	qualEmbedPara = 'E'
	qualVarInv    = 'I'
	qualMpdfMacro = 'M'
)

// noDensity is an all-ones density index. The codec does not use it: an
// unset index is encoded as the referenced section's count (see densRef;
// the original writes dens_num, the count, as the sentinel value — it is
// always one past every valid index since indices are dense 0..dens_num-1).
const noDensity = ^uint32(0)

// AnalysisParams mirrors the embedded acoustic-analysis configuration block
// (the "Value" structure in the original), present only when the header's E
// qualifier is set.
type AnalysisParams struct {
	SampPeriod, SampFreq, FrameSize, FrameShift int32
	PreEmph                                     float32
	Lifter                                      int32
	FBankNum                                    int32
	DelWin, AccWin                              int32
	SilFloor, EScale                            float32
	HiPass, LoPass                              int32
	ENormal, RawE, ZMeanFrame, UsePower         int32
}

// Options mirrors the HTK_HMM_Options block: stream configuration and the
// global covariance/duration/parameter type tags.
type Options struct {
	StreamSizes              []int16 // per-stream vector size; len == NumStreams
	VecSize, CovType         int16
	DurType, ParamType       int16
}

// NumStreams reports the number of parameter streams.
func (o Options) NumStreams() int { return len(o.StreamSizes) }

// Trans is one transition matrix, shared by every HMM model that names it.
type Trans struct {
	Name string
	A    [][]float64 // A[i][j], statenum x statenum
}

// Variance is one diagonal-covariance variance vector.
type Variance struct {
	Name string
	Vec  []float64
}

// Density is one Gaussian component: a mean vector, a reference to its
// variance, and a precomputed normalizing constant.
type Density struct {
	Name   string
	Mean   []float64
	VarIdx int // index into Set.Vars, or -1 if unset
	GConst float64
}

// StreamWeight is a per-state, per-stream mixture weighting vector, used
// only in multi-stream HMM sets.
type StreamWeight struct {
	Name   string
	Weight []float64
}

// Codebook is a tied-mixture codebook: a fixed, named list of density
// references shared by every state that ties to it.
type Codebook struct {
	Name      string
	DensIdx   []int // index into Set.Dens; -1 marks "no density in this slot"
}

// MixturePDF is one Gaussian mixture: either a direct list of (density,
// weight) pairs, or — when TmixIdx is non-negative — a reference to a
// shared tied-mixture codebook (the original's "short -1 then codebook id"
// encoding).
type MixturePDF struct {
	Name     string
	StreamID int16
	TmixIdx  int   // >= 0 selects Set.Codebooks[TmixIdx]; -1 means not tied
	DensIdx  []int // direct density refs when TmixIdx < 0; -1 marks "no density"
	Weight   []float64
}

// State is one emitting HMM state: one MixturePDF per stream (inline, or by
// index into Set.Mpdfs when the set uses the mixture-pdf macro), plus an
// optional stream-weight reference for multi-stream sets.
type State struct {
	Name       string
	PDFs       []MixturePDF // used when Set has no separate Mpdfs section
	MpdfIdx    []int        // used instead of PDFs when Set.Mpdfs is non-nil; -1 marks "none"
	StreamWIdx int          // index into Set.StreamWeights, or -1
}

// Model is one named HMM: its state sequence (by index into Set.States, -1
// for a non-emitting slot) and its shared transition matrix.
type Model struct {
	Name      string
	StateIdx  []int // index into Set.States; -1 marks a non-emitting placeholder
	TransIdx  int
}

// Set is a complete parsed (or to-be-written) binary HMM definition.
type Set struct {
	EmbedParams    bool
	VarianceInv    bool
	MpdfMacro      bool
	Params         *AnalysisParams // non-nil iff EmbedParams
	Opt            Options
	TiedMixture    bool
	MaxMixtureNum  int32

	Trans         []Trans
	Vars          []Variance
	Dens          []Density
	StreamWeights []StreamWeight // nil unless Opt.NumStreams() > 1
	Codebooks     []Codebook     // nil unless TiedMixture
	Mpdfs         []MixturePDF   // nil unless MpdfMacro

	States []State
	Models []Model
}

type writer struct {
	w   *bufio.Writer
	err error
}

func (wr *writer) str(s string) {
	if wr.err != nil {
		return
	}
	if s == "" {
		_, wr.err = wr.w.Write([]byte{0})
		return
	}
	if _, wr.err = wr.w.Write([]byte(s)); wr.err != nil {
		return
	}
	_, wr.err = wr.w.Write([]byte{0})
}

func (wr *writer) i16(v int16) {
	if wr.err != nil {
		return
	}
	wr.err = binary.Write(wr.w, binary.BigEndian, v)
}

func (wr *writer) i32(v int32) {
	if wr.err != nil {
		return
	}
	wr.err = binary.Write(wr.w, binary.BigEndian, v)
}

func (wr *writer) u32(v uint32) {
	if wr.err != nil {
		return
	}
	wr.err = binary.Write(wr.w, binary.BigEndian, v)
}

func (wr *writer) f32(v float32) {
	if wr.err != nil {
		return
	}
	wr.err = binary.Write(wr.w, binary.BigEndian, v)
}

func (wr *writer) bool8(v bool) {
	if wr.err != nil {
		return
	}
	b := byte(0)
	if v {
		b = 1
	}
	wr.err = binary.Write(wr.w, binary.BigEndian, b)
}

func (wr *writer) f64vec(v []float64) {
	for _, x := range v {
		wr.f32(float32(x))
	}
}

// Write serializes set in the binary HMM format.
func Write(w io.Writer, set *Set) error {
	wr := &writer{w: bufio.NewWriter(w)}

	header := magic
	qual := ""
	if set.EmbedParams {
		qual += "_" + string(rune(qualEmbedPara))
	}
	if set.VarianceInv {
		qual += "_" + string(rune(qualVarInv))
	}
	if set.MpdfMacro {
		qual += "_" + string(rune(qualMpdfMacro))
	}
	wr.str(header)
	wr.str(qual)

	if set.EmbedParams {
		if set.Params == nil {
			return fmt.Errorf("binhmm: EmbedParams set but Params is nil")
		}
		wr.i16(0) // acoustic-parameter block version
		p := set.Params
		wr.i32(p.SampPeriod)
		wr.i32(p.SampFreq)
		wr.i32(p.FrameSize)
		wr.i32(p.FrameShift)
		wr.f32(p.PreEmph)
		wr.i32(p.Lifter)
		wr.i32(p.FBankNum)
		wr.i32(p.DelWin)
		wr.i32(p.AccWin)
		wr.f32(p.SilFloor)
		wr.f32(p.EScale)
		wr.i32(p.HiPass)
		wr.i32(p.LoPass)
		wr.i32(p.ENormal)
		wr.i32(p.RawE)
		wr.i32(p.ZMeanFrame)
		wr.i32(p.UsePower)
	}

	wr.i16(int16(set.Opt.NumStreams()))
	for _, sz := range set.Opt.StreamSizes {
		wr.i16(sz)
	}
	wr.i16(set.Opt.VecSize)
	wr.i16(set.Opt.CovType)
	wr.i16(set.Opt.DurType)
	wr.i16(set.Opt.ParamType)

	wr.bool8(set.TiedMixture)
	wr.i32(set.MaxMixtureNum)

	wr.u32(uint32(len(set.Trans)))
	for _, t := range set.Trans {
		wr.str(t.Name)
		n := len(t.A)
		wr.i16(int16(n))
		for _, row := range t.A {
			wr.f64vec(row)
		}
	}

	wr.u32(uint32(len(set.Vars)))
	for _, v := range set.Vars {
		wr.str(v.Name)
		wr.i16(int16(len(v.Vec)))
		wr.f64vec(v.Vec)
	}

	wr.u32(uint32(len(set.Dens)))
	for _, d := range set.Dens {
		wr.str(d.Name)
		wr.i16(int16(len(d.Mean)))
		wr.f64vec(d.Mean)
		wr.u32(densRef(d.VarIdx, len(set.Vars)))
		wr.f32(float32(d.GConst))
	}

	if set.Opt.NumStreams() > 1 {
		wr.u32(uint32(len(set.StreamWeights)))
		for _, sw := range set.StreamWeights {
			wr.str(sw.Name)
			wr.i16(int16(len(sw.Weight)))
			wr.f64vec(sw.Weight)
		}
	}

	if set.TiedMixture {
		wr.u32(uint32(len(set.Codebooks)))
		for _, cb := range set.Codebooks {
			wr.str(cb.Name)
			wr.i32(int32(len(cb.DensIdx)))
			for _, di := range cb.DensIdx {
				wr.u32(densRef(di, len(set.Dens)))
			}
		}
	}

	if set.MpdfMacro {
		wr.u32(uint32(len(set.Mpdfs)))
		for _, m := range set.Mpdfs {
			wr.str(m.Name)
			wr.i16(m.StreamID)
			wr.writeMixturePDF(m, len(set.Dens))
		}
	}

	wr.u32(uint32(len(set.States)))
	for _, s := range set.States {
		wr.str(s.Name)
		if set.MpdfMacro {
			for _, mi := range s.MpdfIdx {
				wr.u32(densRef(mi, len(set.Mpdfs)))
			}
		} else {
			for _, pdf := range s.PDFs {
				wr.writeMixturePDF(pdf, len(set.Dens))
			}
		}
		if set.Opt.NumStreams() > 1 {
			wr.u32(densRef(s.StreamWIdx, len(set.StreamWeights)))
		}
	}

	wr.u32(uint32(len(set.Models)))
	for _, m := range set.Models {
		wr.str(m.Name)
		wr.i16(int16(len(m.StateIdx)))
		for _, si := range m.StateIdx {
			if si < 0 {
				wr.u32(uint32(len(set.States) + 1))
			} else {
				wr.u32(uint32(si))
			}
		}
		wr.u32(densRef(m.TransIdx, len(set.Trans)))
	}

	if wr.err != nil {
		return wr.err
	}
	return wr.w.Flush()
}

// writeMixturePDF writes a mixture PDF body (without its name/stream id,
// already written by the caller), using the tmix-reference shorthand when
// TmixIdx is set.
func (wr *writer) writeMixturePDF(m MixturePDF, densCount int) {
	if m.TmixIdx >= 0 {
		wr.i16(-1)
		wr.u32(uint32(m.TmixIdx))
	} else {
		wr.i16(int16(len(m.DensIdx)))
		for _, di := range m.DensIdx {
			wr.u32(densRef(di, densCount))
		}
	}
	wr.f64vec(m.Weight)
}

// densRef converts a -1-sentinel index into the on-disk "count" sentinel.
func densRef(idx, count int) uint32 {
	if idx < 0 {
		return uint32(count)
	}
	return uint32(idx)
}

// densUnref is densRef's inverse: an index equal to count means "unset".
func densUnref(v uint32, count int) int {
	if int(v) >= count {
		return -1
	}
	return int(v)
}
