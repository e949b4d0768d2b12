package lexicon

import (
	"fmt"
	"sort"

	"github.com/kurenai-lab/lvcsr/internal/am"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// FactoringMode selects how branch-point successor lists are compressed
// once the tree is complete.
type FactoringMode int

const (
	// TwoGramFactoring leaves full word lists at every scid, for precise
	// bigram factoring at each branch.
	TwoGramFactoring FactoringMode = iota
	// OneGramFactoring collapses any scid list of size >= 2 down to the
	// max unigram score over the list, keeping singleton scids exact.
	OneGramFactoring
)

// Builder constructs a [WCHMM] from a [Dictionary] and an [am.AcousticModel],
// optionally consulting a language model for 1-gram factoring scores and a
// grammar for per-category tree roots.
type Builder struct {
	Dict *Dictionary
	AM   *am.AcousticModel
	LM   lm.Model // optional; required only for OneGramFactoring
	Mode FactoringMode

	// MultiPath inserts an explicit ε word-begin node ahead of each word's
	// first phone node, onto which a word-initial scid is moved.
	// When false, WordBegin[w] == Offset[w][0].
	MultiPath bool

	// Categories, when non-nil, builds one tree per grammar category
	// (one tree built per syntactic category): Categories[w] names the
	// terminal category each word belongs to. When nil, a single global
	// tree is built (N-gram mode).
	Categories map[types.WordID]int32
}

// childKey is the trie-sharing key for non-terminal tree positions: two
// words descend into the same child node whenever the phone symbol agrees.
// Internal (non-boundary) positions resolve to a context-independent
// monophone model precisely so that this sharing is always sound: the node
// never needs to commit to one word's particular continuation over
// another's.
type childKey struct {
	phone    string
	category int32 // tree partition key; 0 when Categories is nil
}

type builderState struct {
	b *Builder
	w *WCHMM

	// children[parent][key] = child node id. A virtual parent of -1 means
	// "tree root".
	children map[NodeID]map[childKey]NodeID
	skipArc  map[NodeID]bool
}

// Build runs the full construction: tree growth, word-end attachment,
// factoring metadata, and (optionally) multi-path scid duplication.
func (b *Builder) Build() (*WCHMM, error) {
	if b.Dict == nil || b.AM == nil {
		return nil, fmt.Errorf("lexicon: Dict and AM are required")
	}
	st := &builderState{
		b: b,
		w: &WCHMM{
			Dict:         b.Dict,
			Stend:        map[NodeID]types.WordID{},
			RootCategory: map[NodeID]int32{},
		},
		children: map[NodeID]map[childKey]NodeID{},
		skipArc:  map[NodeID]bool{},
	}

	leftCtx, rightCtx := boundaryContextSets(b.Dict)

	st.w.Offset = make([][]NodeID, b.Dict.Len())
	st.w.WordEnd = make([]NodeID, b.Dict.Len())
	st.w.WordBegin = make([]NodeID, b.Dict.Len())

	for i := range b.Dict.Words {
		word := &b.Dict.Words[i]
		if len(word.Phones) == 0 {
			return nil, fmt.Errorf("lexicon: word %q has no phones", word.Surface)
		}
		if err := st.addWord(word, leftCtx, rightCtx); err != nil {
			return nil, fmt.Errorf("lexicon: word %q: %w", word.Surface, err)
		}
	}

	st.assignFactoring()
	if b.MultiPath {
		st.applyMultiPath()
	}
	return st.w, nil
}

func boundaryContextSets(d *Dictionary) (left, right map[string]bool) {
	left, right = map[string]bool{}, map[string]bool{}
	for _, w := range d.Words {
		left[w.Phones[len(w.Phones)-1]] = true
		right[w.Phones[0]] = true
	}
	return left, right
}

func (st *builderState) categoryOf(id types.WordID) int32 {
	if st.b.Categories == nil {
		return 0
	}
	return st.b.Categories[id]
}

func (st *builderState) newNode(state *am.State, skipArc bool) NodeID {
	id := NodeID(len(st.w.Nodes))
	st.w.Nodes = append(st.w.Nodes, Node{State: state})
	st.skipArc[id] = skipArc
	return id
}

func (st *builderState) addArc(from, to NodeID, logProb float64) {
	st.w.Nodes[from].Arcs = append(st.w.Nodes[from].Arcs, Arc{To: to, LogProb: logProb})
}

// addWord walks a word's phone sequence, sharing prefix nodes where
// possible and always creating a fresh, unshared terminal node for the
// word-final phone: every word gets its own unique
// word-end node, never shared even when suffixes coincide.
func (st *builderState) addWord(word *Word, leftCtx, rightCtx map[string]bool) error {
	n := len(word.Phones)
	cat := st.categoryOf(word.ID)
	cur := NodeID(-1) // virtual root parent
	offsets := make([]NodeID, n)

	for k, ph := range word.Phones {
		isFirst := k == 0
		isLast := k == n-1

		if isLast {
			state, skip, err := st.boundaryState(word, k, leftCtx, rightCtx, isFirst, isLast)
			if err != nil {
				return err
			}
			node := st.newNode(state, skip)
			if cur >= 0 {
				st.addArc(cur, node, 0)
			} else {
				st.registerRoot(node, cat)
			}
			offsets[k] = node
			st.w.WordEnd[word.ID] = node
			st.w.Stend[node] = word.ID
			cur = node
			continue
		}

		key := childKey{phone: ph, category: cat}
		parentMap, ok := st.children[cur]
		if !ok {
			parentMap = map[childKey]NodeID{}
			st.children[cur] = parentMap
		}
		child, exists := parentMap[key]
		if !exists {
			state, skip, err := st.boundaryState(word, k, leftCtx, rightCtx, isFirst, isLast)
			if err != nil {
				return err
			}
			child = st.newNode(state, skip)
			if cur >= 0 {
				st.addArc(cur, child, 0)
			} else {
				st.registerRoot(child, cat)
			}
			parentMap[key] = child
		}
		offsets[k] = child
		cur = child
	}

	st.w.Offset[word.ID] = offsets
	st.w.WordBegin[word.ID] = offsets[0]
	return nil
}

func (st *builderState) registerRoot(node NodeID, cat int32) {
	st.w.Roots = append(st.w.Roots, node)
	st.w.RootCategory[node] = cat
}

// boundaryState resolves the am.State to install at word-phone position k,
// applying cross-word context sets at word-initial/final positions and
// falling back through the triphone → biphone → monophone chain on a
// missing exact model.
func (st *builderState) boundaryState(word *Word, k int, leftCtx, rightCtx map[string]bool, isFirst, isLast bool) (*am.State, bool, error) {
	ph := word.Phones[k]

	switch {
	case isFirst && isLast:
		state := &am.State{Style: am.StyleLRSet, ByContext: map[string]am.MixturePDF{}}
		any := false
		for l := range leftCtx {
			for r := range rightCtx {
				hmm, ok := st.b.AM.Lookup(triKey(l, ph, r), "", "", monoKey(ph))
				if !ok {
					continue
				}
				any = true
				setShared(state, l+"/"+r, hmm)
			}
		}
		if !any {
			return nil, false, fmt.Errorf("missing model: no context variant resolvable for single-phone word phone %q", ph)
		}
		if hmm, ok := st.b.AM.Phones[monoKey(ph)]; ok {
			state.Shared = sharedOf(hmm)
			return state, hmm.HasSkipArc(), nil
		}
		return state, false, nil

	case isFirst:
		right := word.Phones[k+1]
		state := &am.State{Style: am.StyleLSet, ByContext: map[string]am.MixturePDF{}}
		any := false
		for l := range leftCtx {
			hmm, ok := st.b.AM.Lookup(triKey(l, ph, right), "", biRKey(ph, right), monoKey(ph))
			if !ok {
				continue
			}
			any = true
			setShared(state, l, hmm)
		}
		if !any {
			return nil, false, fmt.Errorf("missing model: no left-context variant resolvable for phone %q (right=%q)", ph, right)
		}
		hmm, _ := st.b.AM.Lookup("", "", biRKey(ph, right), monoKey(ph))
		skip := hmm != nil && hmm.HasSkipArc()
		if hmm != nil {
			state.Shared = sharedOf(hmm)
		}
		return state, skip, nil

	case isLast:
		left := word.Phones[k-1]
		state := &am.State{Style: am.StyleRSet, ByContext: map[string]am.MixturePDF{}}
		any := false
		for r := range rightCtx {
			hmm, ok := st.b.AM.Lookup(triKey(left, ph, r), biLKey(left, ph), "", monoKey(ph))
			if !ok {
				continue
			}
			any = true
			setShared(state, r, hmm)
		}
		if !any {
			return nil, false, fmt.Errorf("missing model: no right-context variant resolvable for phone %q (left=%q)", ph, left)
		}
		hmm, _ := st.b.AM.Lookup("", biLKey(left, ph), "", monoKey(ph))
		skip := hmm != nil && hmm.HasSkipArc()
		if hmm != nil {
			state.Shared = sharedOf(hmm)
		}
		return state, skip, nil

	default:
		// Strictly internal phones are shared across every word that passes
		// through this tree position, so they cannot commit to one word's
		// particular neighbor; they always resolve to the context-independent
		// monophone model.
		hmm, ok := st.b.AM.Lookup("", "", "", monoKey(ph))
		if !ok {
			return nil, false, fmt.Errorf("missing model: no monophone model for internal phone %q", ph)
		}
		return &am.State{Style: am.StyleState, Shared: sharedOf(hmm)}, hmm.HasSkipArc(), nil
	}
}

func triKey(l, c, r string) string { return l + "-" + c + "+" + r }
func biLKey(l, c string) string    { return l + "-" + c }
func biRKey(c, r string) string    { return c + "+" + r }
func monoKey(c string) string      { return c }

func sharedOf(h *am.PhoneHMM) am.MixturePDF {
	if len(h.States) == 0 {
		return am.MixturePDF{}
	}
	return h.States[0].Shared
}

func setShared(s *am.State, key string, h *am.PhoneHMM) {
	s.ByContext[key] = sharedOf(h)
}

// assignFactoring computes, for every node, the set of words reachable by
// tree descent, installs Scid at every branch point, and applies 1-gram
// factoring compression when configured.
func (st *builderState) assignFactoring() {
	reach := make([]map[types.WordID]bool, len(st.w.Nodes))
	var dfs func(n NodeID) map[types.WordID]bool
	dfs = func(n NodeID) map[types.WordID]bool {
		if reach[n] != nil {
			return reach[n]
		}
		set := map[types.WordID]bool{}
		if wid, ok := st.w.Stend[n]; ok {
			set[wid] = true
		}
		for _, arc := range st.w.Nodes[n].Arcs {
			for wid := range dfs(arc.To) {
				set[wid] = true
			}
		}
		reach[n] = set
		return set
	}
	for n := range st.w.Nodes {
		dfs(NodeID(n))
	}

	isRoot := map[NodeID]bool{}
	for _, r := range st.w.Roots {
		isRoot[r] = true
	}

	// A root reached by exactly one word carries no ambiguity of its own,
	// but the first pass still needs an inter-word LM cache entry for it
	// since it is never visited via a shared prefix arc from another word.
	for _, r := range st.w.Roots {
		if len(reach[r]) <= 1 {
			st.w.Nodes[r].NeedsInterWordCache = true
		}
	}

	for n := range st.w.Nodes {
		nid := NodeID(n)
		set := reach[nid]
		if len(set) < 2 {
			continue
		}
		// A pure forwarding node (single child) always has the same reach as
		// its child, so it carries no new information unless it is a root —
		// the first pass needs a successor estimate the moment it enters the
		// tree. A node with more than one outgoing arc is a branch point by
		// definition regardless of what its children's reach looks like.
		if len(st.w.Nodes[n].Arcs) <= 1 && !isRoot[nid] {
			continue
		}
		words := make([]types.WordID, 0, len(set))
		for wid := range set {
			words = append(words, wid)
		}
		sort.Slice(words, func(i, j int) bool { return words[i] < words[j] })
		st.w.SuccessorLists = append(st.w.SuccessorLists, words)
		st.w.Nodes[n].Scid = int32(len(st.w.SuccessorLists))
	}

	if st.b.Mode == OneGramFactoring {
		st.compressOneGram()
	}
}

func (st *builderState) compressOneGram() {
	for n := range st.w.Nodes {
		scid := st.w.Nodes[n].Scid
		if scid <= 0 {
			continue
		}
		list := st.w.SuccessorLists[scid-1]
		if len(list) < 2 {
			continue // singleton: leave exact for precise bigram at tail
		}
		best := types.LogZero
		if st.b.LM != nil {
			for _, wid := range list {
				if s := st.b.LM.Unigram(wid); s > best {
					best = s
				}
			}
		}
		st.w.FactoringScores = append(st.w.FactoringScores, best)
		st.w.Nodes[n].Scid = -int32(len(st.w.FactoringScores))
	}
}

// applyMultiPath inserts an ε word-begin node ahead of each word and, for
// every node whose underlying phone HMM has a direct entry→exit skip arc,
// duplicates its scid onto the following phone's first node so that
// factoring still applies after a skip.
func (st *builderState) applyMultiPath() {
	for n, skip := range st.skipArc {
		if !skip || st.w.Nodes[n].Scid == 0 {
			continue
		}
		for _, arc := range st.w.Nodes[n].Arcs {
			if st.w.Nodes[arc.To].Scid == 0 {
				st.w.Nodes[arc.To].Scid = st.w.Nodes[n].Scid
			}
		}
	}

	for wid := range st.w.Offset {
		first := st.w.Offset[wid][0]
		eps := st.newNode(nil, false)
		st.addArc(eps, first, 0)
		// Move any word-initial scid from the first emitting node onto the
		// new ε word-start node.
		if st.w.Nodes[first].Scid != 0 {
			st.w.Nodes[eps].Scid = st.w.Nodes[first].Scid
			st.w.Nodes[first].Scid = 0
		}
		st.w.WordBegin[wid] = eps
		// Re-point any root registration at `first` to the new ε node.
		for i, r := range st.w.Roots {
			if r == first {
				st.w.Roots[i] = eps
				st.w.RootCategory[eps] = st.w.RootCategory[first]
				delete(st.w.RootCategory, first)
			}
		}
	}
}
