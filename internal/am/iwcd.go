package am

import "github.com/kurenai-lab/lvcsr/pkg/types"

// IWCDMode selects how cross-word context is resolved when PASS1_IWCD is
// enabled but the predecessor/successor word set at a boundary is not known
// precisely (e.g. because the first pass only tracks a word-pair context).
type IWCDMode int

const (
	// IWCDExact requires the precise adjacent phone; callers must have it.
	IWCDExact IWCDMode = iota
	// IWCDAvg averages the log output probability over the candidate set.
	IWCDAvg
	// IWCDMax takes the maximum (most optimistic) log output probability
	// over the candidate set.
	IWCDMax
	// IWCDNBest averages over only the N highest-scoring candidates.
	IWCDNBest
)

// IWCDPolicy configures cross-word context-dependency handling for the first
// pass.
type IWCDPolicy struct {
	// Enabled controls PASS1_IWCD. When false, the pseudo monophone is used
	// on every cross-word boundary and exact cross-word context is instead
	// recovered in the second pass.
	Enabled bool

	Mode IWCDMode

	// NBest is used only when Mode == IWCDNBest.
	NBest int
}

// ResolveBoundary computes the log output probability for a word-boundary
// state given a set of candidate context phones (the possible predecessor or
// successor words' boundary phones), according to the configured Mode.
//
// scoreFor is called once per candidate context and must return the state's
// output log-probability for that context (LogZero if the state has no
// model for it at all).
func (p IWCDPolicy) ResolveBoundary(candidates []string, scoreFor func(ctx string) float64) float64 {
	if !p.Enabled || len(candidates) == 0 {
		return types.LogZero
	}
	if len(candidates) == 1 {
		return scoreFor(candidates[0])
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = scoreFor(c)
	}

	switch p.Mode {
	case IWCDMax:
		return maxOf(scores)
	case IWCDNBest:
		n := p.NBest
		if n <= 0 || n > len(scores) {
			n = len(scores)
		}
		return nBestAvg(scores, n)
	case IWCDAvg:
		fallthrough
	default:
		return avgLog(scores)
	}
}

func maxOf(xs []float64) float64 {
	m := types.LogZero
	for _, x := range xs {
		if x > m {
			m = x
		}
	}
	return m
}

// avgLog averages a set of log-probabilities in the linear domain and
// returns the result back in log domain: log(mean(exp(x_i))). Guards
// against underflow by subtracting the max before exponentiating.
func avgLog(xs []float64) float64 {
	if len(xs) == 0 {
		return types.LogZero
	}
	m := maxOf(xs)
	if m <= types.LogZero {
		return types.LogZero
	}
	var sum float64
	for _, x := range xs {
		sum += expClamped(x - m)
	}
	return m + logClamped(sum/float64(len(xs)))
}

// nBestAvg sorts a copy of xs descending and averages the top n in the
// linear domain, same numerical treatment as avgLog.
func nBestAvg(xs []float64, n int) float64 {
	sorted := append([]float64(nil), xs...)
	// insertion sort descending: candidate sets are always tiny (a handful
	// of adjacent-word boundary phones), so O(n^2) is the simplest correct
	// choice here.
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] < v {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	return avgLog(sorted[:n])
}
