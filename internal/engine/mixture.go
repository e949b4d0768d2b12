package engine

import (
	"math"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/am/codebook"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// logSumExpWeighted combines per-component log-probabilities with their
// linear mixture weights: log(sum_i weight_i * exp(logp_i)), shifted by the
// running max so the exponentials stay in range. Mirrors the clamped-exp
// style already used by internal/am/numerics.go and
// internal/am/codebook/numerics.go.
func logSumExpWeighted(logp, weight []float64) float64 {
	best := types.LogZero
	for _, lp := range logp {
		if lp > best {
			best = lp
		}
	}
	if best <= types.LogZero {
		return types.LogZero
	}
	var sum float64
	for i, lp := range logp {
		w := weight[i]
		if w <= 0 {
			continue
		}
		sum += w * math.Exp(lp-best)
	}
	if sum <= 0 {
		return types.LogZero
	}
	return best + math.Log(sum)
}

// mixtureLogProb evaluates a mixture PDF against a feature vector: either a
// plain mixture of diagonal Gaussians, or, when pdf names a tied-mixture
// codebook, a weighted combination of the acoustic model's shared codebook
// components. This is the "real mixture evaluator" every am.Cache needs an
// OutProbFunc closure over; no generic version of it lives in internal/am
// itself since the cache is deliberately decoupled from any one scoring
// strategy.
//
// store, when non-nil, routes tied-mixture evaluation through
// [codebook.Store] instead of the manual loop below: its per-frame memo
// avoids re-evaluating the same shared component for every state that
// references it, and its optional ANN selector narrows which components are
// considered at all. store is nil for models with no codebook (plain
// per-state mixtures) and for the GMS monophone pre-selector, which always
// evaluates its full small model.
func mixtureLogProb(pdf am.MixturePDF, acoustic *am.AcousticModel, x []float64, store *codebook.Store) float64 {
	if pdf.CodebookIdx != nil {
		if store != nil {
			return store.MixtureScore(pdf.CodebookIdx, pdf.TiedWeights, x)
		}
		logp := make([]float64, len(pdf.CodebookIdx))
		for i, idx := range pdf.CodebookIdx {
			if int(idx) < 0 || int(idx) >= len(acoustic.Codebook) {
				logp[i] = types.LogZero
				continue
			}
			logp[i] = acoustic.Codebook[idx].LogProb(x, acoustic.InvVar)
		}
		return logSumExpWeighted(logp, pdf.TiedWeights)
	}
	if len(pdf.Components) == 0 {
		return types.LogZero
	}
	logp := make([]float64, len(pdf.Components))
	weight := make([]float64, len(pdf.Components))
	for i, g := range pdf.Components {
		logp[i] = g.LogProb(x, acoustic.InvVar)
		weight[i] = g.Weight
	}
	return logSumExpWeighted(logp, weight)
}
