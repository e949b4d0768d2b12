package am

import "github.com/kurenai-lab/lvcsr/pkg/types"

// TriphoneRescorer implements internal/secondpass's CrossWordRescorer by
// checking, for a word boundary, whether the exact cross-word triphone
// joining the two words exists in the model. The first pass's pseudo
// monophone (or IWCD-approximated) boundary score has no way to know this;
// the second pass's Nextscan variant exists precisely to recover it once the
// real neighboring word is known (spec.md §4.5). Because
// secondpass.CrossWordRescorer.Rescore takes only the two word ids — no
// acoustic frame — this cannot re-run a real Viterbi update; instead it
// reports a fixed correction: zero when the triphone the first pass could
// only approximate does in fact exist as a trained model, MissingPenalty
// when even the second pass would have to fall back to the same
// (bi/mono)phone stand-in the first pass already used.
type TriphoneRescorer struct {
	AM *AcousticModel

	// PhonesOf resolves a word id to its phone sequence (head phone first).
	PhonesOf func(types.WordID) []string

	// MissingPenalty is added when the exact cross-word triphone is absent.
	// Zero by default; a caller may set it negative to penalize hypotheses
	// the first pass scored optimistically through a context fallback.
	MissingPenalty float64
}

// Rescore resolves prev's tail phone and next's head phone (with next's
// second phone, if any, as the right-context neighbor) and reports whether
// the exact joining triphone is a trained model in r.AM.
func (r *TriphoneRescorer) Rescore(prev, next types.WordID) float64 {
	if r.AM == nil || r.PhonesOf == nil {
		return 0
	}
	prevPhones := r.PhonesOf(prev)
	nextPhones := r.PhonesOf(next)
	if len(prevPhones) == 0 || len(nextPhones) == 0 {
		return 0
	}

	left := prevPhones[len(prevPhones)-1]
	center := nextPhones[0]
	right := ""
	if len(nextPhones) > 1 {
		right = nextPhones[1]
	}

	if _, ok := r.AM.Phones[left+"-"+center+"+"+right]; ok {
		return 0
	}
	return r.MissingPenalty
}
