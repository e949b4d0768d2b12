package binhmm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

type reader struct {
	r   *bufio.Reader
	err error
}

func (re *reader) str() string {
	if re.err != nil {
		return ""
	}
	var sb strings.Builder
	for {
		b, err := re.r.ReadByte()
		if err != nil {
			re.err = err
			return ""
		}
		if b == 0 {
			return sb.String()
		}
		sb.WriteByte(b)
	}
}

func (re *reader) i16() int16 {
	var v int16
	if re.err != nil {
		return 0
	}
	re.err = binary.Read(re.r, binary.BigEndian, &v)
	return v
}

func (re *reader) i32() int32 {
	var v int32
	if re.err != nil {
		return 0
	}
	re.err = binary.Read(re.r, binary.BigEndian, &v)
	return v
}

func (re *reader) u32() uint32 {
	var v uint32
	if re.err != nil {
		return 0
	}
	re.err = binary.Read(re.r, binary.BigEndian, &v)
	return v
}

func (re *reader) f32() float32 {
	var v float32
	if re.err != nil {
		return 0
	}
	re.err = binary.Read(re.r, binary.BigEndian, &v)
	return v
}

func (re *reader) bool8() bool {
	var v uint8
	if re.err != nil {
		return false
	}
	re.err = binary.Read(re.r, binary.BigEndian, &v)
	return v != 0
}

func (re *reader) f64vec(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(re.f32())
	}
	return out
}

// Read parses the binary HMM format, the inverse of [Write].
func Read(r io.Reader) (*Set, error) {
	re := &reader{r: bufio.NewReader(r)}

	hdr := re.str()
	if hdr != magic {
		if re.err != nil {
			return nil, fmt.Errorf("binhmm: read header: %w", re.err)
		}
		return nil, fmt.Errorf("binhmm: unrecognized header %q, want %q", hdr, magic)
	}
	qual := re.str()
	set := &Set{}
	for i := 0; i < len(qual); i++ {
		switch qual[i] {
		case qualEmbedPara:
			set.EmbedParams = true
		case qualVarInv:
			set.VarianceInv = true
		case qualMpdfMacro:
			set.MpdfMacro = true
		}
	}

	if set.EmbedParams {
		re.i16() // parameter-block version, unused on read
		p := &AnalysisParams{}
		p.SampPeriod = re.i32()
		p.SampFreq = re.i32()
		p.FrameSize = re.i32()
		p.FrameShift = re.i32()
		p.PreEmph = re.f32()
		p.Lifter = re.i32()
		p.FBankNum = re.i32()
		p.DelWin = re.i32()
		p.AccWin = re.i32()
		p.SilFloor = re.f32()
		p.EScale = re.f32()
		p.HiPass = re.i32()
		p.LoPass = re.i32()
		p.ENormal = re.i32()
		p.RawE = re.i32()
		p.ZMeanFrame = re.i32()
		p.UsePower = re.i32()
		set.Params = p
	}

	numStreams := int(re.i16())
	set.Opt.StreamSizes = make([]int16, numStreams)
	for i := range set.Opt.StreamSizes {
		set.Opt.StreamSizes[i] = re.i16()
	}
	set.Opt.VecSize = re.i16()
	set.Opt.CovType = re.i16()
	set.Opt.DurType = re.i16()
	set.Opt.ParamType = re.i16()

	set.TiedMixture = re.bool8()
	set.MaxMixtureNum = re.i32()

	trNum := int(re.u32())
	set.Trans = make([]Trans, trNum)
	for i := range set.Trans {
		name := re.str()
		n := int(re.i16())
		a := make([][]float64, n)
		for j := range a {
			a[j] = re.f64vec(n)
		}
		set.Trans[i] = Trans{Name: name, A: a}
	}

	vrNum := int(re.u32())
	set.Vars = make([]Variance, vrNum)
	for i := range set.Vars {
		name := re.str()
		n := int(re.i16())
		set.Vars[i] = Variance{Name: name, Vec: re.f64vec(n)}
	}

	densNum := int(re.u32())
	set.Dens = make([]Density, densNum)
	for i := range set.Dens {
		name := re.str()
		n := int(re.i16())
		mean := re.f64vec(n)
		varIdx := densUnref(re.u32(), len(set.Vars))
		gconst := float64(re.f32())
		set.Dens[i] = Density{Name: name, Mean: mean, VarIdx: varIdx, GConst: gconst}
	}

	if numStreams > 1 {
		swNum := int(re.u32())
		set.StreamWeights = make([]StreamWeight, swNum)
		for i := range set.StreamWeights {
			name := re.str()
			n := int(re.i16())
			set.StreamWeights[i] = StreamWeight{Name: name, Weight: re.f64vec(n)}
		}
	}

	if set.TiedMixture {
		cbNum := int(re.u32())
		set.Codebooks = make([]Codebook, cbNum)
		for i := range set.Codebooks {
			name := re.str()
			n := int(re.i32())
			idx := make([]int, n)
			for j := range idx {
				idx[j] = densUnref(re.u32(), densNum)
			}
			set.Codebooks[i] = Codebook{Name: name, DensIdx: idx}
		}
	}

	if set.MpdfMacro {
		mpNum := int(re.u32())
		set.Mpdfs = make([]MixturePDF, mpNum)
		for i := range set.Mpdfs {
			name := re.str()
			sid := re.i16()
			pdf := re.readMixturePDF(densNum)
			pdf.Name = name
			pdf.StreamID = sid
			set.Mpdfs[i] = pdf
		}
	}

	stNum := int(re.u32())
	set.States = make([]State, stNum)
	for i := range set.States {
		name := re.str()
		st := State{Name: name, StreamWIdx: -1}
		if set.MpdfMacro {
			idx := make([]int, numStreams)
			for s := range idx {
				idx[s] = densUnref(re.u32(), len(set.Mpdfs))
			}
			st.MpdfIdx = idx
		} else {
			pdfs := make([]MixturePDF, numStreams)
			for s := range pdfs {
				pdfs[s] = re.readMixturePDF(densNum)
			}
			st.PDFs = pdfs
		}
		if numStreams > 1 {
			st.StreamWIdx = densUnref(re.u32(), len(set.StreamWeights))
		}
		set.States[i] = st
	}

	mdNum := int(re.u32())
	set.Models = make([]Model, mdNum)
	for i := range set.Models {
		name := re.str()
		n := int(re.i16())
		stateIdx := make([]int, n)
		for j := range stateIdx {
			stateIdx[j] = densUnref(re.u32(), stNum)
		}
		transIdx := densUnref(re.u32(), trNum)
		set.Models[i] = Model{Name: name, StateIdx: stateIdx, TransIdx: transIdx}
	}

	if re.err != nil && re.err != io.EOF {
		return nil, fmt.Errorf("binhmm: %w", re.err)
	}
	return set, nil
}

func (re *reader) readMixturePDF(densCount int) MixturePDF {
	mixNum := re.i16()
	if mixNum == -1 {
		tid := re.u32()
		return MixturePDF{TmixIdx: int(tid)}
	}
	n := int(mixNum)
	densIdx := make([]int, n)
	for i := range densIdx {
		densIdx[i] = densUnref(re.u32(), densCount)
	}
	weight := re.f64vec(n)
	return MixturePDF{TmixIdx: -1, DensIdx: densIdx, Weight: weight}
}
