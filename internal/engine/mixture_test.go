package engine

import (
	"math"
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/am/codebook"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

func gaussian1D(mean, variance, weight float64) am.Gaussian {
	gconst := -0.5 * (math.Log(2*math.Pi) + math.Log(variance))
	return am.Gaussian{Mean: []float64{mean}, Var: []float64{variance}, Weight: weight, GConst: gconst}
}

func TestMixtureLogProbSingleComponentMatchesDirectFormula(t *testing.T) {
	g := gaussian1D(2.0, 0.5, 1.0)
	pdf := am.MixturePDF{Components: []am.Gaussian{g}}
	acoustic := &am.AcousticModel{VecLen: 1}

	got := mixtureLogProb(pdf, acoustic, []float64{2.0}, nil)
	want := g.LogProb([]float64{2.0}, false)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("mixtureLogProb = %v, want %v", got, want)
	}
}

func TestMixtureLogProbPicksDominantComponent(t *testing.T) {
	near := gaussian1D(0, 0.1, 0.5)
	far := gaussian1D(50, 0.1, 0.5)
	pdf := am.MixturePDF{Components: []am.Gaussian{near, far}}
	acoustic := &am.AcousticModel{VecLen: 1}

	got := mixtureLogProb(pdf, acoustic, []float64{0}, nil)
	// The far component contributes negligibly; the mixture score should sit
	// close to the near component's own log-prob plus log(weight).
	want := near.LogProb([]float64{0}, false) + math.Log(0.5)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("mixtureLogProb = %v, want ~%v", got, want)
	}
}

func TestMixtureLogProbEmptyMixtureIsLogZero(t *testing.T) {
	acoustic := &am.AcousticModel{VecLen: 1}
	got := mixtureLogProb(am.MixturePDF{}, acoustic, []float64{0}, nil)
	if got != types.LogZero {
		t.Fatalf("mixtureLogProb of empty mixture = %v, want types.LogZero", got)
	}
}

func TestMixtureLogProbTiedCodebook(t *testing.T) {
	acoustic := &am.AcousticModel{
		VecLen: 1,
		Codebook: []am.Gaussian{
			gaussian1D(0, 1, 1),
			gaussian1D(10, 1, 1),
		},
	}
	pdf := am.MixturePDF{
		CodebookIdx: []int32{0, 1},
		TiedWeights: []float64{0.9, 0.1},
	}

	got := mixtureLogProb(pdf, acoustic, []float64{0}, nil)
	want := logSumExpWeighted(
		[]float64{acoustic.Codebook[0].LogProb([]float64{0}, false), acoustic.Codebook[1].LogProb([]float64{0}, false)},
		[]float64{0.9, 0.1},
	)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("mixtureLogProb (tied) = %v, want %v", got, want)
	}
}

func TestMixtureLogProbTiedCodebookOutOfRangeIndexIsLogZero(t *testing.T) {
	acoustic := &am.AcousticModel{VecLen: 1, Codebook: []am.Gaussian{gaussian1D(0, 1, 1)}}
	pdf := am.MixturePDF{CodebookIdx: []int32{5}, TiedWeights: []float64{1}}
	got := mixtureLogProb(pdf, acoustic, []float64{0}, nil)
	if got != types.LogZero {
		t.Fatalf("mixtureLogProb with out-of-range codebook index = %v, want types.LogZero", got)
	}
}

func TestMixtureLogProbRoutesTiedCodebookThroughStore(t *testing.T) {
	acoustic := &am.AcousticModel{
		VecLen: 1,
		Codebook: []am.Gaussian{
			{Mean: []float64{0}, Var: []float64{1}},
			{Mean: []float64{10}, Var: []float64{1}},
		},
	}
	store := codebook.New([]codebook.Component{
		{Mean: []float64{0}, Var: []float64{1}},
		{Mean: []float64{10}, Var: []float64{1}},
	}, false)
	store.ResetFrame(0)

	pdf := am.MixturePDF{
		CodebookIdx: []int32{0, 1},
		TiedWeights: []float64{0.9, 0.1},
	}
	got := mixtureLogProb(pdf, acoustic, []float64{0}, store)
	want := store.MixtureScore(pdf.CodebookIdx, pdf.TiedWeights, []float64{0})
	if got != want {
		t.Fatalf("mixtureLogProb with store = %v, want %v (store.MixtureScore result)", got, want)
	}
}
