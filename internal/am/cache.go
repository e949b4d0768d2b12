package am

import "github.com/kurenai-lab/lvcsr/pkg/types"

// GaussianPruning selects how many codebook components are evaluated per
// mixture when computing an output probability.
type GaussianPruning int

const (
	PruneNone GaussianPruning = iota
	PruneSafe
	PruneBeam
	PruneHeuristic
	PruneUserPlugin
)

// cacheKey packs (state, frame) into a single comparable map key. Frames and
// state ids both fit comfortably in int32 for any realistic utterance/AM
// size, so the pack avoids a two-level map without needing a struct key
// (structs-as-map-keys are fine too, but this keeps GC pressure down for the
// hot path the first pass calls every frame).
type cacheKey int64

func packKey(state StateID, frame int) cacheKey {
	return cacheKey(int64(frame)<<32 | int64(uint32(state)))
}

// OutProbFunc evaluates a state's output log-probability against a feature
// vector. Production callers pass a closure over the real mixture
// evaluator; tests can substitute a trivial stub.
type OutProbFunc func(state *State, x []float64) float64

// Cache memoizes log p(x_t | state) for every emitting state the beam
// touches, keyed by (state, frame). It is
// owned by a single [Session] and invalidated (via [Cache.Invalidate]) on
// rewind.
type Cache struct {
	eval    OutProbFunc
	pruning GaussianPruning
	gms     *GmsSelector // optional Gaussian-selection pre-filter

	entries map[cacheKey]float64
}

// NewCache creates an output-probability cache. eval computes the
// unmemoized log-probability for a (state, feature-vector) pair; it is
// called at most once per (state, frame) for the lifetime of the cache.
func NewCache(eval OutProbFunc, pruning GaussianPruning) *Cache {
	return &Cache{
		eval:    eval,
		pruning: pruning,
		entries: make(map[cacheKey]float64, 4096),
	}
}

// WithGMS attaches a Gaussian-selection pre-filter. When set, states not in
// the GMS-selected active set for a frame return types.LogZero without
// invoking eval, matching the "smaller monophone HMM picks active states"
// backoff.
func (c *Cache) WithGMS(g *GmsSelector) *Cache {
	c.gms = g
	return c
}

// LogProb returns log p(x|state) for the given frame, computing and
// memoizing it on first access. x is the frame's feature vector; frame is
// only used as the cache key (the caller is responsible for passing the
// feature vector that actually corresponds to it).
func (c *Cache) LogProb(state *State, frame int, x []float64) float64 {
	key := packKey(state.ID, frame)
	if v, ok := c.entries[key]; ok {
		return v
	}
	if c.gms != nil && !c.gms.Active(state.ID, frame) {
		c.entries[key] = types.LogZero
		return types.LogZero
	}
	v := c.eval(state, x)
	c.entries[key] = v
	return v
}

// Invalidate discards all memoized entries with frame >= fromFrame. Called
// by the segmentation rewind protocol after the feature
// buffer is shrunk, since a memoized score for a frame index may now refer
// to a different feature vector once frames are re-processed.
func (c *Cache) Invalidate(fromFrame int) {
	for k := range c.entries {
		if int(int64(k)>>32) >= fromFrame {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of memoized entries, exposed for tests and metrics
// (capacity is proportional to distinct states × frames touched).
func (c *Cache) Len() int { return len(c.entries) }
