package am

// GmsSelector implements Gaussian-mixture selection (GMS): a smaller
// monophone HMM is evaluated first each frame, and only the states whose
// monophone counterpart scores within a margin of the frame's best
// monophone score are considered "active" for full (triphone/tied-mixture)
// evaluation. This is the coarse backoff mode, intentionally left
// unspecified; grounded on the original's realtime-1stpass.c pre-selection
// pass.
//
// A GmsSelector is rebuilt once per frame via [GmsSelector.SelectFrame] and
// queried many times via [GmsSelector.Active] as the beam expands arcs into
// that frame.
type GmsSelector struct {
	mono    *AcousticModel
	margin  float64 // log-domain margin below the frame's best monophone score
	eval    OutProbFunc
	phoneOf func(StateID) string // maps a full-AM state back to its monophone symbol

	frame  int
	active map[string]bool
}

// NewGmsSelector creates a selector backed by a (typically much smaller)
// monophone acoustic model. phoneOf must map any StateID from the full AM
// to the monophone symbol whose activity gates it.
func NewGmsSelector(mono *AcousticModel, margin float64, eval OutProbFunc, phoneOf func(StateID) string) *GmsSelector {
	return &GmsSelector{mono: mono, margin: margin, eval: eval, phoneOf: phoneOf}
}

// SelectFrame evaluates every monophone state against x and records which
// phone symbols fall within margin of the best score. Must be called once
// per frame before any [GmsSelector.Active] queries for that frame.
func (g *GmsSelector) SelectFrame(frame int, x []float64) {
	g.frame = frame
	scores := make(map[string]float64, len(g.mono.Phones))
	best := -1e30
	for sym, hmm := range g.mono.Phones {
		var s float64 = -1e30
		for _, st := range hmm.States {
			v := g.eval(st, x)
			if v > s {
				s = v
			}
		}
		scores[sym] = s
		if s > best {
			best = s
		}
	}
	active := make(map[string]bool, len(scores))
	for sym, s := range scores {
		if s >= best-g.margin {
			active[sym] = true
		}
	}
	g.active = active
}

// Active reports whether state's monophone is in the active set for frame.
// Returns true (fail open) if frame doesn't match the last SelectFrame call,
// so a caller that forgets to re-select never silently prunes everything.
func (g *GmsSelector) Active(state StateID, frame int) bool {
	if frame != g.frame || g.active == nil {
		return true
	}
	return g.active[g.phoneOf(state)]
}
