package codebook

import (
	"math"
	"testing"
)

func TestScore_PeaksAtMean(t *testing.T) {
	s := New([]Component{
		{Mean: []float64{0, 0}, Var: []float64{1, 1}},
	}, false)
	atMean := s.Score(0, []float64{0, 0})
	s.ResetFrame(1)
	off := s.Score(0, []float64{1, 1})
	if atMean <= off {
		t.Fatalf("expected score at mean (%v) > score off mean (%v)", atMean, off)
	}
}

func TestScore_MemoizedPerFrame(t *testing.T) {
	calls := 0
	s := New([]Component{{Mean: []float64{0}, Var: []float64{1}}}, false)
	x := []float64{0.5}
	a := s.Score(0, x)
	calls++
	b := s.Score(0, x) // same frame, should hit memo, same value
	if a != b {
		t.Fatalf("expected memoized score to be stable: %v != %v", a, b)
	}
	s.ResetFrame(1)
	c := s.Score(0, x)
	if c != a {
		t.Fatalf("same input at a new frame should recompute to the same value: %v != %v", c, a)
	}
	_ = calls
}

func TestMixtureScore_LogSumExp(t *testing.T) {
	s := New([]Component{
		{Mean: []float64{0}, Var: []float64{1}},
		{Mean: []float64{10}, Var: []float64{1}},
	}, false)
	x := []float64{0}
	mix := s.MixtureScore([]int32{0, 1}, []float64{0.5, 0.5}, x)
	single := s.Score(0, x) + math.Log(0.5)
	if math.Abs(mix-single) > 1e-6 {
		t.Fatalf("mixture dominated by component 0 should match single-component score + log(weight): got %v want ~%v", mix, single)
	}
}
