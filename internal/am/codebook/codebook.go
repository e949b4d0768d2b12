// Package codebook implements shared tied-mixture Gaussian codebooks for
// the acoustic model: every state's mixture is expressed as weights over a
// single shared pool of Gaussian components, so the expensive per-component
// density evaluation is computed once per frame and reused across every
// state that references it (a pointer to a shared tied-mixture
// codebook + per-state mixture weights").
//
// [Store] is the in-process codebook. [postgres.Store] (subpackage
// codebook/postgres) is an optional durable backing store that also supports
// nearest-neighbor lookup over component means via pgvector, used to narrow
// which codebook components are worth evaluating at all before falling back
// to full evaluation — the same spirit as [am.GmsSelector] but operating at
// the Gaussian-component granularity instead of the monophone-state
// granularity.
package codebook

import (
	"context"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// ANNSelector narrows which codebook component indices are worth
// evaluating for the current frame's feature vector, returning at most k
// candidates. [postgres.Selector] is the production implementation, backed
// by pgvector's approximate nearest-neighbor index over component means;
// Store treats any implementation identically and degrades to evaluating
// every component when none is attached.
type ANNSelector interface {
	Select(ctx context.Context, x []float32, k int) []int32
}

// Component is one Gaussian in the shared pool.
type Component struct {
	Mean   []float64
	Var    []float64 // already inverted if the owning AM uses InvVar
	GConst float64   // precomputed -0.5*(dim*log(2*pi) + sum(log(var)))
}

// Store is the shared codebook plus a per-frame memo of already-evaluated
// component scores, so that every state referencing the same component at
// the same frame pays the Gaussian evaluation cost exactly once.
type Store struct {
	components []Component
	invVar     bool

	frame int
	memo  []float64 // indexed by component id; len(memo) == len(components)

	selector   ANNSelector
	selectorK  int
	candFrame  int
	candidates map[int32]bool
}

// New creates a Store over components. invVar indicates whether Var holds
// 1/variance rather than variance. GConst is computed for any component
// whose GConst field is left zero.
func New(components []Component, invVar bool) *Store {
	for i := range components {
		if components[i].GConst != 0 {
			continue
		}
		var logDet float64
		for _, v := range components[i].Var {
			if v <= 0 {
				continue
			}
			if invVar {
				logDet -= logOf(v)
			} else {
				logDet += logOf(v)
			}
		}
		n := float64(len(components[i].Mean))
		components[i].GConst = -0.5 * (n*ln2pi + logDet)
	}
	s := &Store{components: components, invVar: invVar}
	s.memo = make([]float64, len(components))
	for i := range s.memo {
		s.memo[i] = types.LogZero - 1 // sentinel "not computed this frame"
	}
	s.frame = -1
	s.candFrame = -2 // never equal to the -1 starting frame
	return s
}

// WithSelector attaches an optional ANN pre-selector, narrowing which
// component indices MixtureScore considers for a frame before scoring
// them, the same "coarse candidate set first" shape [am.GmsSelector] uses
// at the monophone-state granularity but over Gaussian components
// directly. The candidate set is recomputed at most once per frame,
// lazily on first use, since it depends only on the frame's feature
// vector, not on which mixture is asking.
func (s *Store) WithSelector(sel ANNSelector, k int) *Store {
	s.selector = sel
	s.selectorK = k
	return s
}

// Len returns the number of components in the pool.
func (s *Store) Len() int { return len(s.components) }

// ResetFrame clears the per-frame memo. Must be called once before the
// first Score call for a new frame index.
func (s *Store) ResetFrame(frame int) {
	if frame == s.frame {
		return
	}
	s.frame = frame
	for i := range s.memo {
		s.memo[i] = types.LogZero - 1
	}
}

// Score returns log N(x; components[idx]) for the current frame, computing
// and memoizing it on first access within that frame.
func (s *Store) Score(idx int32, x []float64) float64 {
	if v := s.memo[idx]; v > types.LogZero-1 {
		return v
	}
	c := s.components[idx]
	var sum float64
	for i, xi := range x {
		d := xi - c.Mean[i]
		if s.invVar {
			sum += d * d * c.Var[i]
		} else if c.Var[i] > 0 {
			sum += d * d / c.Var[i]
		}
	}
	v := c.GConst - 0.5*sum
	s.memo[idx] = v
	return v
}

// MixtureScore combines a set of codebook component indices and linear
// mixture weights into a single log-mixture probability for the current
// frame.
func (s *Store) MixtureScore(idx []int32, weight []float64, x []float64) float64 {
	best := types.LogZero
	cand := s.candidateSet(x)
	// log-sum-exp over weighted components, numerically stable via running max.
	scores := make([]float64, len(idx))
	for i, id := range idx {
		if cand != nil && !cand[id] {
			scores[i] = types.LogZero
			continue
		}
		sc := s.Score(id, x)
		if weight[i] > 0 {
			sc += logOf(weight[i])
		} else {
			sc = types.LogZero
		}
		scores[i] = sc
		if sc > best {
			best = sc
		}
	}
	if best <= types.LogZero {
		return types.LogZero
	}
	var sum float64
	for _, sc := range scores {
		sum += expOf(sc - best)
	}
	return best + logOf(sum)
}

// candidateSet returns this frame's ANN-narrowed component set, or nil if
// no selector is attached (every index is then a candidate). Falls back to
// every component index whenever the selector itself degrades (its own
// circuit breaker open, or the ANN query failed) since [ANNSelector.Select]
// implementations already encode that fallback.
func (s *Store) candidateSet(x []float64) map[int32]bool {
	if s.selector == nil {
		return nil
	}
	if s.candFrame == s.frame && s.candidates != nil {
		return s.candidates
	}
	idx := s.selector.Select(context.Background(), toFloat32(x), s.selectorK)
	set := make(map[int32]bool, len(idx))
	for _, i := range idx {
		set[i] = true
	}
	s.candidates = set
	s.candFrame = s.frame
	return set
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

const ln2pi = 1.8378770664093453 // math.Log(2*math.Pi)
