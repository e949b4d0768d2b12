// Package trellis implements the word trellis (BackTrellis): the per-frame
// list of word-end atoms the first pass produces and the second pass
// searches backward over. The trellis is append-only during pass 1 and
// read-only during pass 2.
package trellis

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// AtomID indexes an atom within a single frame's slice, used by back
// pointers so they never need to reach across frame boundaries via a
// pointer: (frame, slot).
type AtomID struct {
	Frame int
	Slot  int
}

// Atom is one word-end event: a word that the first pass's Viterbi search
// concluded ends at EndFrame, with its accumulated acoustic score, the LM
// score charged for it, and a back pointer to the atom it continues from.
type Atom struct {
	Word       types.WordID
	EndFrame   int
	BeginFrame int
	Backscore  float64 // accumulated Viterbi log score up to and including this word
	LMScore    float64 // LM score charged for this word given its first-pass context
	Back       AtomID  // previous atom; Back.Frame < 0 marks "no predecessor" (sentence start)
}

// NoBack is the sentinel back pointer for an atom with no predecessor.
var NoBack = AtomID{Frame: -1, Slot: -1}

// BackTrellis stores word-end atoms indexed by end frame. Frames is
// grow-only; atoms within a frame are kept sorted by word id so Find can
// binary search.
type BackTrellis struct {
	frames [][]Atom
}

// New returns an empty trellis.
func New() *BackTrellis { return &BackTrellis{} }

// Add appends an atom at EndFrame, keeping that frame's slice sorted by word
// id. Returns the AtomID assigned to it: its position in that sorted slice,
// which shifts when an atom with a lower word id is later added at the same
// EndFrame.
func (t *BackTrellis) Add(a Atom) AtomID {
	for len(t.frames) <= a.EndFrame {
		t.frames = append(t.frames, nil)
	}
	frame := t.frames[a.EndFrame]
	i := sort.Search(len(frame), func(i int) bool { return frame[i].Word >= a.Word })
	frame = append(frame, Atom{})
	copy(frame[i+1:], frame[i:])
	frame[i] = a
	t.frames[a.EndFrame] = frame
	return AtomID{Frame: a.EndFrame, Slot: i}
}

// AtomsAt returns the sorted-by-word-id atom list for frame t. The returned
// slice must not be mutated by the caller.
func (t *BackTrellis) AtomsAt(frame int) []Atom {
	if frame < 0 || frame >= len(t.frames) {
		return nil
	}
	return t.frames[frame]
}

// Find returns the atom for word at frame, if one was produced there.
func (t *BackTrellis) Find(word types.WordID, frame int) (Atom, bool) {
	fr := t.AtomsAt(frame)
	i := sort.Search(len(fr), func(i int) bool { return fr[i].Word >= word })
	if i < len(fr) && fr[i].Word == word {
		return fr[i], true
	}
	return Atom{}, false
}

// Get dereferences an AtomID.
func (t *BackTrellis) Get(id AtomID) (Atom, bool) {
	if id.Frame < 0 || id.Frame >= len(t.frames) {
		return Atom{}, false
	}
	fr := t.frames[id.Frame]
	if id.Slot < 0 || id.Slot >= len(fr) {
		return Atom{}, false
	}
	return fr[id.Slot], true
}

// NumFrames reports the number of frames with at least one possible atom
// slot allocated (i.e. one past the highest EndFrame ever Added).
func (t *BackTrellis) NumFrames() int { return len(t.frames) }

// Truncate discards every atom with EndFrame >= fromFrame, so the trellis no
// longer claims atoms beyond the retained frames.
func (t *BackTrellis) Truncate(fromFrame int) {
	if fromFrame < 0 {
		fromFrame = 0
	}
	if fromFrame < len(t.frames) {
		t.frames = t.frames[:fromFrame]
	}
}

// WriteText serializes the trellis in the line-oriented word-trellis file
// format: one atom per line, "end_frame word_id begin_frame score lm_score
// back_pointer", where back_pointer is "-1" for [NoBack] or
// "frame:slot" otherwise.
func WriteText(w io.Writer, t *BackTrellis) error {
	bw := bufio.NewWriter(w)
	for frame, atoms := range t.frames {
		for _, a := range atoms {
			back := "-1"
			if a.Back != NoBack {
				back = fmt.Sprintf("%d:%d", a.Back.Frame, a.Back.Slot)
			}
			if _, err := fmt.Fprintf(bw, "%d %d %d %g %g %s\n",
				frame, a.Word, a.BeginFrame, a.Backscore, a.LMScore, back); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadText parses the word-trellis file format back into a BackTrellis, for
// offline second-pass runs over a first pass executed out of process.
func ReadText(r io.Reader) (*BackTrellis, error) {
	t := New()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 6 {
			return nil, fmt.Errorf("trellis: line %d: want 6 fields, got %d", lineNo, len(fields))
		}
		endFrame, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("trellis: line %d: end_frame: %w", lineNo, err)
		}
		wordID, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("trellis: line %d: word_id: %w", lineNo, err)
		}
		beginFrame, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("trellis: line %d: begin_frame: %w", lineNo, err)
		}
		score, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("trellis: line %d: score: %w", lineNo, err)
		}
		lmScore, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("trellis: line %d: lm_score: %w", lineNo, err)
		}
		back := NoBack
		if fields[5] != "-1" {
			parts := strings.SplitN(fields[5], ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("trellis: line %d: malformed back pointer %q", lineNo, fields[5])
			}
			bf, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, fmt.Errorf("trellis: line %d: back frame: %w", lineNo, err)
			}
			bs, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("trellis: line %d: back slot: %w", lineNo, err)
			}
			back = AtomID{Frame: bf, Slot: bs}
		}
		t.Add(Atom{
			Word:       types.WordID(wordID),
			EndFrame:   endFrame,
			BeginFrame: beginFrame,
			Backscore:  score,
			LMScore:    lmScore,
			Back:       back,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trellis: scan: %w", err)
	}
	return t, nil
}
