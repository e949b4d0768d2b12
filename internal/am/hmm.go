// Package am implements the acoustic model: tied-state HMM phone models,
// Gaussian-mixture output distributions, the per-(state,frame) output
// probability cache, Gaussian-selection (GMS) pruning, and inter-word
// context-dependency (IWCD) resolution.
//
// Scores are always natural-log probabilities; [types.LogZero] is the
// additive identity.
package am

import "github.com/kurenai-lab/lvcsr/pkg/types"

// OutStyle tags how a lexicon node's emitting state is stored: a single
// shared state, or a context-variant set keyed by the adjacent word's
// boundary phone. This mirrors the AS_STATE/AS_LSET/AS_RSET/AS_LRSET
// variants, modeled as a sum type rather than a class
// hierarchy.
type OutStyle int

const (
	// StyleState is a single state shared by every occurrence of this node.
	StyleState OutStyle = iota
	// StyleLSet varies by left-context phone (word-initial nodes).
	StyleLSet
	// StyleRSet varies by right-context phone (word-final nodes).
	StyleRSet
	// StyleLRSet varies by both sides at once (1-phone words).
	StyleLRSet
)

// StateID identifies an emitting HMM state within an [AcousticModel]. It
// indexes both the transition/density tables and the output-probability
// cache.
type StateID int32

// Gaussian is a single diagonal-covariance Gaussian component of a mixture.
// Variances are stored already inverted when InvVar is set on the owning
// [AcousticModel], matching the on-disk convention of the binary-HMM format.
type Gaussian struct {
	Mean   []float64
	Var    []float64 // variance, or 1/variance if InvVar
	Weight float64    // mixture weight (linear, not log)
	GConst float64    // precomputed -0.5*(dim*log(2*pi) + sum(log(var))), added once
}

// LogProb returns log N(x; Mean, Var) for this single Gaussian component,
// using the inverted-variance form when invVar is true.
func (g Gaussian) LogProb(x []float64, invVar bool) float64 {
	if len(x) != len(g.Mean) {
		return types.LogZero
	}
	var sum float64
	for i, xi := range x {
		d := xi - g.Mean[i]
		if invVar {
			sum += d * d * g.Var[i]
		} else {
			if g.Var[i] <= 0 {
				continue
			}
			sum += d * d / g.Var[i]
		}
	}
	return g.GConst - 0.5*sum
}

// MixturePDF is a mixture of diagonal Gaussians, or a set of weights over a
// shared tied-mixture codebook (see [AcousticModel.Codebook]). When
// CodebookIdx is non-nil the Components slice is ignored and weights index
// into the shared codebook instead — this is how tied-mixture HMMs share
// component evaluation cost across states.
type MixturePDF struct {
	Components  []Gaussian
	CodebookIdx []int32   // non-nil => tied-mixture: indices into AcousticModel.Codebook
	TiedWeights []float64 // parallel to CodebookIdx, linear mixture weights
}

// State is one emitting HMM state: its output distribution set (keyed by
// context phone when Style != StyleState) and identity.
type State struct {
	ID    StateID
	Style OutStyle

	// Shared is used when Style == StyleState.
	Shared MixturePDF

	// ByContext is used for StyleLSet/StyleRSet/StyleLRSet, keyed by the
	// adjacent phone's symbol. For StyleLRSet the key is "left/right".
	ByContext map[string]MixturePDF
}

// Resolve returns the distribution to evaluate for this state given the
// known left/right context phone symbols (empty string if that side is not
// yet/no longer constrained). Falls back to the nearest available context
// per Style; callers needing the "missing model" signal should check
// [State.HasExactContext] first.
func (s *State) Resolve(left, right string) MixturePDF {
	switch s.Style {
	case StyleState:
		return s.Shared
	case StyleLSet:
		if pdf, ok := s.ByContext[left]; ok {
			return pdf
		}
	case StyleRSet:
		if pdf, ok := s.ByContext[right]; ok {
			return pdf
		}
	case StyleLRSet:
		if pdf, ok := s.ByContext[left+"/"+right]; ok {
			return pdf
		}
	}
	return s.Shared
}

// HasExactContext reports whether the requested context combination has a
// dedicated triphone entry (as opposed to falling back to Shared, which
// holds the bi/mono-phone pseudo stand-in).
func (s *State) HasExactContext(left, right string) bool {
	switch s.Style {
	case StyleState:
		return true
	case StyleLSet:
		_, ok := s.ByContext[left]
		return ok
	case StyleRSet:
		_, ok := s.ByContext[right]
		return ok
	case StyleLRSet:
		_, ok := s.ByContext[left+"/"+right]
		return ok
	default:
		return false
	}
}

// PhoneHMM is a logical phone model: transition matrix in log-probabilities
// (including self-loops, forward arcs, and optional initial/final ε arcs for
// multi-path topologies) and its emitting states.
type PhoneHMM struct {
	Name string

	// Trans[i][j] is the log transition probability from state i to state j,
	// over the full state set including non-emitting entry (0) and exit
	// (len-1) states. types.LogZero means "no arc".
	Trans [][]float64

	// States holds the emitting states only, in topological order; state
	// index i in Trans corresponds to States[i-1] (index 0 and len(Trans)-1
	// are the non-emitting entry/exit nodes).
	States []*State

	// Pseudo marks this model as a bi/mono-phone stand-in synthesized from a
	// context set, rather than a model trained on the exact triphone.
	Pseudo bool

	// LeftContext/RightContext name the context classes this variant was
	// built for; empty for context-independent (monophone) models.
	LeftContext  string
	RightContext string
}

// HasSkipArc reports whether this HMM has a direct entry→exit transition,
// i.e. a phone that can be skipped entirely in one frame. The lexicon
// builder uses this to decide whether factoring metadata needs to be
// duplicated onto the following phone's first node.
func (h *PhoneHMM) HasSkipArc() bool {
	if len(h.Trans) < 2 {
		return false
	}
	last := len(h.Trans) - 1
	return h.Trans[0][last] > types.LogZero
}

// AcousticModel bundles the phone inventory, a shared tied-mixture codebook
// (if any), the short-pause model, and the IWCD policy in effect.
type AcousticModel struct {
	FeatureType types.FeatureType
	VecLen      int
	InvVar      bool // Gaussians store 1/variance instead of variance

	// Phones maps a phone symbol (monophone name, or "l-c+r" triphone key)
	// to its model.
	Phones map[string]*PhoneHMM

	// Codebook is the shared tied-mixture Gaussian pool, if the AM uses one.
	Codebook []Gaussian

	// ShortPausePhone names the designated short-pause model
	// used for inter-word pause handling and segmentation.
	ShortPausePhone string

	IWCD IWCDPolicy
}

// Lookup resolves a phone to its PhoneHMM, returning the exact entry, or a
// bi/mono-phone fallback, or (nil, false) if even the fallback is missing.
// Mirrors the triphone → biphone → monophone fallback chain.
func (am *AcousticModel) Lookup(exact, biphoneL, biphoneR, mono string) (*PhoneHMM, bool) {
	for _, key := range []string{exact, biphoneL, biphoneR, mono} {
		if key == "" {
			continue
		}
		if h, ok := am.Phones[key]; ok {
			return h, true
		}
	}
	return nil, false
}
