package lexicon

import "github.com/kurenai-lab/lvcsr/pkg/types"

// Word is one dictionary entry: its surface/output forms, pronunciation (as
// logical phone symbols — monophone names; cross-word context is resolved
// later by the tree-lexicon builder), and LM linkage.
type Word struct {
	ID         types.WordID
	Surface    string
	Output     string
	Transparent bool // skipped for LM context (e.g. filler words)
	Phones     []string
	ClassProb  float64 // used only for class-N-gram vocabularies; 0 = not a class word
	LMID       types.WordID
}

// Dictionary is the dense word-info array the decoder loads at startup, plus the
// head/tail silence word ids the N-gram LM needs and the maximum
// pronunciation length.
type Dictionary struct {
	Words         []Word
	HeadSilence   types.WordID
	TailSilence   types.WordID
	MaxWordPhones int
}

// NewDictionary builds a Dictionary from words, assigning dense ids in
// order and computing MaxWordPhones. headSilence/tailSilence name the
// surface forms of the designated silence words, or "" if none.
func NewDictionary(words []Word, headSilence, tailSilence string) *Dictionary {
	d := &Dictionary{HeadSilence: types.NoWord, TailSilence: types.NoWord}
	for i := range words {
		words[i].ID = types.WordID(i)
		if len(words[i].Phones) > d.MaxWordPhones {
			d.MaxWordPhones = len(words[i].Phones)
		}
		if words[i].Surface == headSilence && headSilence != "" {
			d.HeadSilence = words[i].ID
		}
		if words[i].Surface == tailSilence && tailSilence != "" {
			d.TailSilence = words[i].ID
		}
	}
	d.Words = words
	return d
}

// Word returns the Word for id. Callers must ensure id is in range; the
// dictionary is built once at startup and ids never change afterward.
func (d *Dictionary) Word(id types.WordID) *Word {
	return &d.Words[id]
}

// Len returns the number of words in the dictionary.
func (d *Dictionary) Len() int { return len(d.Words) }
