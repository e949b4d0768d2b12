package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kurenai-lab/lvcsr/internal/lm"
)

// ErrGrammarNotRegistered is returned by [Registry.Activate],
// [Registry.Deactivate], and [Registry.Delete] when no grammar set has been
// registered under the requested prefix.
var ErrGrammarNotRegistered = errors.New("config: grammar set not registered")

// grammarEntry is one named grammar set: the parsed automaton plus whether
// it currently contributes to the union the lexicon builder consumes.
type grammarEntry struct {
	grammar *lm.DfaGrammar
	active  bool
}

// Registry holds the set of named DFA word grammars currently known to the
// decoder, matching spec.md §6's CLI surface: ADDGRAM/DELGRAM load and
// discard a grammar by prefix, ACTIVATEGRAM/DEACTIVATEGRAM toggle whether an
// already-loaded grammar contributes to the active union without discarding
// it, and SYNCGRAM rebuilds the tree lexicon from whatever is currently
// active. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	grammars map[string]*grammarEntry
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{grammars: make(map[string]*grammarEntry)}
}

// Add registers (or replaces) the grammar set named prefix, active by
// default. Replacing an existing prefix preserves nothing of the old entry —
// a caller that wants to swap a grammar without a visible gap should load
// the new one under a different prefix first.
func (r *Registry) Add(prefix string, g *lm.DfaGrammar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grammars[prefix] = &grammarEntry{grammar: g, active: true}
}

// Lookup returns the grammar set registered under prefix, or nil if none is
// registered there. The returned value is the live grammar, not a copy —
// callers mutating it (e.g. ADDWORD appending to Terminals) take effect
// immediately.
func (r *Registry) Lookup(prefix string) *lm.DfaGrammar {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.grammars[prefix]
	if !ok {
		return nil
	}
	return e.grammar
}

// Delete discards the grammar set named prefix entirely (DELGRAM).
func (r *Registry) Delete(prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grammars[prefix]; !ok {
		return fmt.Errorf("%w: %q", ErrGrammarNotRegistered, prefix)
	}
	delete(r.grammars, prefix)
	return nil
}

// Activate marks an already-loaded grammar set as contributing to the
// active union (ACTIVATEGRAM).
func (r *Registry) Activate(prefix string) error {
	return r.setActive(prefix, true)
}

// Deactivate marks a loaded grammar set as excluded from the active union
// without discarding it (DEACTIVATEGRAM).
func (r *Registry) Deactivate(prefix string) error {
	return r.setActive(prefix, false)
}

func (r *Registry) setActive(prefix string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.grammars[prefix]
	if !ok {
		return fmt.Errorf("%w: %q", ErrGrammarNotRegistered, prefix)
	}
	e.active = active
	return nil
}

// Active returns the union (see [lm.Union]) of every currently active
// grammar set, in prefix-sorted order for determinism (SYNCGRAM / startup).
// Returns nil if no grammar is active.
func (r *Registry) Active() *lm.DfaGrammar {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefixes := make([]string, 0, len(r.grammars))
	for p, e := range r.grammars {
		if e.active {
			prefixes = append(prefixes, p)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	sort.Strings(prefixes)

	grammars := make([]*lm.DfaGrammar, len(prefixes))
	for i, p := range prefixes {
		grammars[i] = r.grammars[p].grammar
	}
	return lm.Union(grammars...)
}

// Info reports the prefix and active state of every registered grammar set,
// in prefix-sorted order (the GRAMINFO control command).
type Info struct {
	Prefix string
	Active bool
}

// List returns [Info] for every registered grammar set (GRAMINFO).
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.grammars))
	for p, e := range r.grammars {
		out = append(out, Info{Prefix: p, Active: e.active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
