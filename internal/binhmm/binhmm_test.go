package binhmm_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/binhmm"
)

func sampleSet() *binhmm.Set {
	return &binhmm.Set{
		Opt: binhmm.Options{StreamSizes: []int16{39}, VecSize: 39, CovType: 1, DurType: 0, ParamType: 0},
		Trans: []binhmm.Trans{
			{Name: "tr1", A: [][]float64{{0, 1, 0}, {0, 0.9, 0.1}, {0, 0, 1}}},
		},
		Vars: []binhmm.Variance{
			{Name: "var1", Vec: []float64{1, 1, 1}},
		},
		Dens: []binhmm.Density{
			{Name: "d1", Mean: []float64{0.1, 0.2, 0.3}, VarIdx: 0, GConst: -2.5},
		},
		States: []binhmm.State{
			{
				Name:       "s2",
				StreamWIdx: -1,
				PDFs: []binhmm.MixturePDF{
					{StreamID: 1, TmixIdx: -1, DensIdx: []int{0}, Weight: []float64{1.0}},
				},
			},
		},
		Models: []binhmm.Model{
			{Name: "phone_a", StateIdx: []int{-1, 0, -1}, TransIdx: 0},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	set := sampleSet()

	var buf bytes.Buffer
	if err := binhmm.Write(&buf, set); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := binhmm.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(got.Trans) != 1 || got.Trans[0].Name != "tr1" {
		t.Fatalf("Trans round trip mismatch: %+v", got.Trans)
	}
	if len(got.Dens) != 1 || got.Dens[0].VarIdx != 0 {
		t.Fatalf("Dens round trip mismatch: %+v", got.Dens)
	}
	if math.Abs(got.Dens[0].GConst-(-2.5)) > 1e-4 {
		t.Fatalf("GConst = %v, want ~-2.5", got.Dens[0].GConst)
	}
	if len(got.Models) != 1 || got.Models[0].StateIdx[1] != 0 || got.Models[0].StateIdx[0] != -1 {
		t.Fatalf("Model state index round trip mismatch: %+v", got.Models[0])
	}
	if len(got.States[0].PDFs) != 1 || got.States[0].PDFs[0].DensIdx[0] != 0 {
		t.Fatalf("State PDF round trip mismatch: %+v", got.States[0])
	}
}

func TestEmbeddedParamsRoundTrip(t *testing.T) {
	set := sampleSet()
	set.EmbedParams = true
	set.Params = &binhmm.AnalysisParams{SampPeriod: 625, SampFreq: 16000, FrameSize: 400, FrameShift: 160}

	var buf bytes.Buffer
	if err := binhmm.Write(&buf, set); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := binhmm.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Params == nil || got.Params.SampFreq != 16000 {
		t.Fatalf("Params round trip mismatch: %+v", got.Params)
	}
}

func TestTiedMixtureCodebookReference(t *testing.T) {
	set := sampleSet()
	set.TiedMixture = true
	set.Codebooks = []binhmm.Codebook{{Name: "cb1", DensIdx: []int{0, -1}}}
	set.States[0].PDFs[0] = binhmm.MixturePDF{StreamID: 1, TmixIdx: 0}

	var buf bytes.Buffer
	if err := binhmm.Write(&buf, set); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := binhmm.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Codebooks) != 1 || got.Codebooks[0].DensIdx[1] != -1 {
		t.Fatalf("Codebook round trip mismatch: %+v", got.Codebooks)
	}
	if got.States[0].PDFs[0].TmixIdx != 0 {
		t.Fatalf("State PDF tmix reference mismatch: %+v", got.States[0].PDFs[0])
	}
}
