package secondpass

import (
	"math"
	"sort"

	"github.com/antzucaro/matchr"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// ConfusionBin groups competing word spans that occupy roughly the same time
// region across the N-best list into one confusion-network slot, each
// candidate carrying its posterior mass. Grounded on the teacher's surface-
// form matcher (double metaphone + Jaro-Winkler via matchr), generalized
// from deduplicating transcript fragments to clustering time-aligned word
// hypotheses.
type ConfusionBin struct {
	BeginFrame, EndFrame int
	Candidates           []ConfusionCandidate
}

// ConfusionCandidate is one competing word within a [ConfusionBin].
type ConfusionCandidate struct {
	Word       types.WordID
	Surface    string
	Posterior  float64
}

// phoneticMatch returns true when two surface forms are close enough to be
// considered the same confusion-network slot: an exact double-metaphone
// code match, or high Jaro-Winkler surface similarity (catches near-
// homophones the metaphone coding misses, e.g. differing only in a vowel).
func phoneticMatch(a, b string) bool {
	if a == b {
		return true
	}
	da, _ := matchr.DoubleMetaphone(a)
	db, _ := matchr.DoubleMetaphone(b)
	if da != "" && da == db {
		return true
	}
	return matchr.JaroWinkler(a, b, true) >= 0.92
}

// BuildConfusionNetwork clusters the word spans of an N-best sentence list
// into time-ordered confusion bins, weighting each candidate's posterior by
// softmax over sentence TotalScore scaled by alphas[0] (the CM_SEARCH
// confidence mode of spec.md §4.5; 1.0 when alphas is empty or alphas[0] is
// not positive). Any further alphas are ignored; per-alpha scores take one
// call per alpha.
func BuildConfusionNetwork(sentences []types.Sentence, alphas []float64) []ConfusionBin {
	if len(sentences) == 0 {
		return nil
	}
	alpha := 1.0
	if len(alphas) > 0 && alphas[0] > 0 {
		alpha = alphas[0]
	}
	weights := softmax(sentences, alpha)

	type placed struct {
		span   types.WordSpan
		weight float64
	}
	var all []placed
	for i, s := range sentences {
		for _, w := range s.Words {
			all = append(all, placed{span: w, weight: weights[i]})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].span.BeginFrame < all[j].span.BeginFrame })

	var bins []ConfusionBin
	for _, p := range all {
		bin := findOverlappingBin(bins, p.span)
		if bin == nil {
			bins = append(bins, ConfusionBin{BeginFrame: p.span.BeginFrame, EndFrame: p.span.EndFrame})
			bin = &bins[len(bins)-1]
		}
		merged := false
		for i := range bin.Candidates {
			c := &bin.Candidates[i]
			if c.Word == p.span.Word || phoneticMatch(c.Surface, p.span.Surface) {
				c.Posterior += p.weight
				merged = true
				break
			}
		}
		if !merged {
			bin.Candidates = append(bin.Candidates, ConfusionCandidate{
				Word: p.span.Word, Surface: p.span.Surface, Posterior: p.weight,
			})
		}
		if p.span.BeginFrame < bin.BeginFrame {
			bin.BeginFrame = p.span.BeginFrame
		}
		if p.span.EndFrame > bin.EndFrame {
			bin.EndFrame = p.span.EndFrame
		}
	}

	for i := range bins {
		sort.Slice(bins[i].Candidates, func(a, b int) bool {
			return bins[i].Candidates[a].Posterior > bins[i].Candidates[b].Posterior
		})
	}
	return bins
}

// findOverlappingBin returns the bin whose frame range overlaps span, if
// any; confusion bins are small in number per utterance so a linear scan is
// fine.
func findOverlappingBin(bins []ConfusionBin, span types.WordSpan) *ConfusionBin {
	for i := range bins {
		if span.BeginFrame < bins[i].EndFrame && span.EndFrame > bins[i].BeginFrame {
			return &bins[i]
		}
	}
	return nil
}

// softmax turns N-best total scores into a probability distribution scaled
// by alpha, the CM_SEARCH temperature named in spec.md §4.5.
func softmax(sentences []types.Sentence, alpha float64) []float64 {
	out := make([]float64, len(sentences))
	max := sentences[0].TotalScore
	for _, s := range sentences {
		if s.TotalScore > max {
			max = s.TotalScore
		}
	}
	var sum float64
	for i, s := range sentences {
		out[i] = math.Exp(alpha * (s.TotalScore - max))
		sum += out[i]
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
