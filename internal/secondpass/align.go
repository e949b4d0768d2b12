package secondpass

import "github.com/kurenai-lab/lvcsr/pkg/types"

// PhoneSpan is one phone-level segment within a forced-aligned word.
type PhoneSpan struct {
	Phone      string
	BeginFrame int
	EndFrame   int
}

// PhoneTable resolves a word to its pronunciation's phone sequence, as the
// tree lexicon already knows it.
type PhoneTable func(w types.WordID) []string

// Align produces a per-word, per-phone forced alignment for an already
// decoded sentence. It does not re-run the acoustic search: the word
// boundaries come from the winning hypothesis's trellis chain, which is
// already the Viterbi-optimal boundary placement for that exact word
// sequence, so only the phone-level subdivision within each word is
// estimated here, splitting the word's frame span proportionally to each
// phone's expected duration (uniform, since no per-frame state occupancy is
// retained once the first pass has collapsed to word-end atoms).
func Align(sentence types.Sentence, phones PhoneTable) []PhoneSpan {
	var out []PhoneSpan
	for _, w := range sentence.Words {
		seq := phones(w.Word)
		if len(seq) == 0 {
			continue
		}
		span := w.EndFrame - w.BeginFrame
		if span <= 0 {
			for _, p := range seq {
				out = append(out, PhoneSpan{Phone: p, BeginFrame: w.BeginFrame, EndFrame: w.BeginFrame})
			}
			continue
		}
		per := span / len(seq)
		if per < 1 {
			per = 1
		}
		cur := w.BeginFrame
		for i, p := range seq {
			end := cur + per
			if i == len(seq)-1 || end > w.EndFrame {
				end = w.EndFrame
			}
			out = append(out, PhoneSpan{Phone: p, BeginFrame: cur, EndFrame: end})
			cur = end
		}
	}
	return out
}
