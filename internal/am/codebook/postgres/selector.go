package postgres

import (
	"context"
	"log/slog"

	"github.com/kurenai-lab/lvcsr/internal/resilience"
)

// nearestMeansFunc matches [Store.NearestMeans]'s signature. Selector takes
// this as a function value rather than a concrete *Store so it can be
// exercised in tests without a live database.
type nearestMeansFunc func(ctx context.Context, modelID string, x []float32, k int) ([]int32, error)

// queryFunc is the per-entry provider type of the [resilience.FallbackGroup]
// carried inside Selector: narrow the frame's feature vector down to at
// most k candidate codebook component indices.
type queryFunc func(ctx context.Context, x []float32, k int) ([]int32, error)

// Selector narrows the codebook components worth evaluating for a frame by
// querying the pgvector-backed [Store.NearestMeans] through a
// [resilience.FallbackGroup]. The ANN index lives outside the decoding
// process, so a slow or unreachable database must never stall or crash the
// first pass: the group's registered fallback entry returns every
// component index, the same exhaustive evaluation [codebook.Store] performs
// when it has no selector attached at all.
type Selector struct {
	fg      *resilience.FallbackGroup[queryFunc]
	modelID string
	total   int32
}

// NewSelector creates a Selector over store for the given model. total is
// the codebook's full component count, used to build the fallback index set
// when the ANN query's circuit breaker is open or the query itself fails.
func NewSelector(store *Store, modelID string, total int, cfg resilience.CircuitBreakerConfig) *Selector {
	return newSelector(store.NearestMeans, modelID, total, cfg)
}

func newSelector(query nearestMeansFunc, modelID string, total int, cfg resilience.CircuitBreakerConfig) *Selector {
	if cfg.Name == "" {
		cfg.Name = "codebook-ann:" + modelID
	}
	total32 := int32(total)

	ann := func(ctx context.Context, x []float32, k int) ([]int32, error) {
		return query(ctx, modelID, x, k)
	}
	exhaustive := func(_ context.Context, _ []float32, _ int) ([]int32, error) {
		out := make([]int32, total32)
		for i := range out {
			out[i] = int32(i)
		}
		return out, nil
	}

	fg := resilience.NewFallbackGroup(ann, cfg.Name, resilience.FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback(cfg.Name+":exhaustive", exhaustive)

	return &Selector{fg: fg, modelID: modelID, total: total32}
}

// Select returns the k codebook component indices nearest x. On a query
// failure, or while the ANN entry's breaker is open from prior failures,
// the group's exhaustive fallback entry returns every component index
// 0..total-1 instead, so the caller always has a usable candidate set.
func (s *Selector) Select(ctx context.Context, x []float32, k int) []int32 {
	idx, err := resilience.ExecuteWithResult(s.fg, func(q queryFunc) ([]int32, error) {
		return q(ctx, x, k)
	})
	if err != nil {
		// The exhaustive fallback never itself fails, so this only fires if
		// both entries somehow fail; keep a direct safety net regardless.
		slog.Warn("codebook ANN selector degraded to exhaustive evaluation",
			"model_id", s.modelID, "error", err)
		return s.allIndices()
	}
	return idx
}

// State reports the ANN query entry's breaker state, exposed for health
// checks and metrics that only care about the primary path.
func (s *Selector) State() resilience.State { return s.fg.PrimaryState() }

func (s *Selector) allIndices() []int32 {
	out := make([]int32, s.total)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}
