package ctlserver

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kurenai-lab/lvcsr/internal/config"
	"github.com/kurenai-lab/lvcsr/internal/fareader"
	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/lm"
	"github.com/kurenai-lab/lvcsr/pkg/types"
)

// SyncFunc rebuilds the live tree lexicon and language model from the
// dictionary and grammar union current as of the last SYNCGRAM (or
// RESUME — spec.md §6 notes SYNCGRAM exists only to avoid the delay of
// doing this right before a RESUME). Swapping into the running Engine is
// the caller's responsibility; GrammarManager only decides when a rebuild
// is due.
type SyncFunc func(dict *lexicon.Dictionary, grammar *lm.DfaGrammar) error

// GrammarManager owns the server-side half of the CHANGEGRAM/ADDGRAM/
// DELGRAM/ACTIVATEGRAM/DEACTIVATEGRAM/SYNCGRAM/GRAMINFO/ADDWORD command
// group: a growing master word list (WordIDs are assigned by position and
// never reassigned, so grammars registered earlier keep valid references
// after a later ADDGRAM appends more words) plus the named, independently
// activatable grammar sets a [config.Registry] already tracks.
//
// Unlike the original protocol's sequential numeric grammar ids, grammars
// here are identified by their upload prefix string end to end — DELGRAM,
// ACTIVATEGRAM, and DEACTIVATEGRAM take comma/space-separated prefixes
// rather than ids, since [config.Registry] is prefix-keyed.
type GrammarManager struct {
	mu       sync.Mutex
	registry *config.Registry
	words    []lexicon.Word

	headSilence, tailSilence, shortPause string

	sync SyncFunc
}

// NewGrammarManager creates an empty GrammarManager. headSilence/tailSilence
// name the dictionary entries used as N-gram sentence boundary context;
// shortPause names the entry treated as the short-pause model. sync is
// invoked by Sync (the SYNCGRAM command) with the current merged state.
func NewGrammarManager(registry *config.Registry, headSilence, tailSilence, shortPause string, sync SyncFunc) *GrammarManager {
	return &GrammarManager{
		registry:    registry,
		headSilence: headSilence,
		tailSilence: tailSilence,
		shortPause:  shortPause,
		sync:        sync,
	}
}

// AddGrammar parses a .dfa stream and its accompanying .dict stream,
// assigns the new words WordIDs continuing on from the master list,
// resolves DfaGrammar.Terminals and ShortPauseCategory from the dictionary
// (fareader.Read deliberately leaves both nil/unset), and registers the
// result under prefix (ADDGRAM semantics: added to, not replacing, the
// currently loaded set).
func (gm *GrammarManager) AddGrammar(prefix string, dfa, dict io.Reader) error {
	grammar, err := fareader.Read(dfa, fareader.Standard)
	if err != nil {
		return fmt.Errorf("ctlserver: parse %q.dfa: %w", prefix, err)
	}
	newWords, cats, err := lexicon.ParseDict(dict, true)
	if err != nil {
		return fmt.Errorf("ctlserver: parse %q.dict: %w", prefix, err)
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	grammar.Terminals = make(map[lm.CategoryID][]types.WordID, len(cats))
	grammar.ShortPauseCategory = -1
	base := len(gm.words)
	for i, w := range newWords {
		id := types.WordID(base + i)
		cat := cats[i]
		grammar.Terminals[cat] = append(grammar.Terminals[cat], id)
		if w.Surface == gm.shortPause && gm.shortPause != "" {
			grammar.ShortPauseCategory = cat
		}
	}
	gm.words = append(gm.words, newWords...)
	gm.registry.Add(prefix, grammar)
	return nil
}

// ChangeGrammar discards every currently registered grammar set and loads
// prefix as the sole active grammar (CHANGEGRAM semantics).
func (gm *GrammarManager) ChangeGrammar(prefix string, dfa, dict io.Reader) error {
	gm.mu.Lock()
	for _, info := range gm.registry.List() {
		_ = gm.registry.Delete(info.Prefix)
	}
	gm.mu.Unlock()
	return gm.AddGrammar(prefix, dfa, dict)
}

// DeleteGrammars discards the named grammar sets (DELGRAM).
func (gm *GrammarManager) DeleteGrammars(idList string) []error {
	var errs []error
	for _, p := range splitIDList(idList) {
		if err := gm.registry.Delete(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ActivateGrammars marks the named grammar sets active (ACTIVATEGRAM).
func (gm *GrammarManager) ActivateGrammars(idList string) []error {
	var errs []error
	for _, p := range splitIDList(idList) {
		if err := gm.registry.Activate(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// DeactivateGrammars marks the named grammar sets inactive without
// discarding them (DEACTIVATEGRAM).
func (gm *GrammarManager) DeactivateGrammars(idList string) []error {
	var errs []error
	for _, p := range splitIDList(idList) {
		if err := gm.registry.Deactivate(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Info reports every registered grammar set (GRAMINFO).
func (gm *GrammarManager) Info() []config.Info {
	return gm.registry.List()
}

// AddWord appends words (read as a .dict stream, category-tagged) to the
// grammar set already registered under prefix, without requiring a full
// .dfa re-upload (ADDWORD).
func (gm *GrammarManager) AddWord(prefix string, dict io.Reader) error {
	newWords, cats, err := lexicon.ParseDict(dict, true)
	if err != nil {
		return fmt.Errorf("ctlserver: parse ADDWORD dict: %w", err)
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	grammar := gm.registry.Lookup(prefix)
	if grammar == nil {
		return fmt.Errorf("%w: %q", config.ErrGrammarNotRegistered, prefix)
	}
	base := len(gm.words)
	for i, w := range newWords {
		id := types.WordID(base + i)
		cat := cats[i]
		grammar.Terminals[cat] = append(grammar.Terminals[cat], id)
		if w.Surface == gm.shortPause && gm.shortPause != "" {
			grammar.ShortPauseCategory = cat
		}
	}
	gm.words = append(gm.words, newWords...)
	return nil
}

// Sync rebuilds the master [lexicon.Dictionary] from every word added so
// far and the active grammar union, then invokes the configured [SyncFunc]
// so the caller can rebuild the tree lexicon and swap it into the running
// Engine (SYNCGRAM).
func (gm *GrammarManager) Sync() error {
	gm.mu.Lock()
	dict := lexicon.NewDictionary(append([]lexicon.Word(nil), gm.words...), gm.headSilence, gm.tailSilence)
	active := gm.registry.Active()
	gm.mu.Unlock()

	if gm.sync == nil {
		return nil
	}
	return gm.sync(dict, active)
}

// splitIDList parses a DELGRAM/ACTIVATEGRAM/DEACTIVATEGRAM argument line:
// comma- or whitespace-separated prefixes (the client side converts commas
// to spaces before sending — see japi_grammar.c's send_idlist — but a raw
// comma-separated line is accepted too).
func splitIDList(s string) []string {
	s = strings.ReplaceAll(s, ",", " ")
	return strings.Fields(s)
}
