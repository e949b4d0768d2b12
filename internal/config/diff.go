package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded without restarting the process are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GrammarDirChanged is true when lm.grammar_dir itself changed, or when
	// lm.kind changed to/from "dfa". Diff only reports the change: this
	// package does not track individual grammar files or rescan the
	// directory, and reconciling a grammar [Registry] with the new directory
	// is left to whatever onChange callback the [Watcher] was given.
	GrammarDirChanged bool
	NewGrammarDir     string

	// SearchChanged is true when any first- or second-pass search tunable
	// changed. These apply only to Sessions created after the reload — an
	// in-flight utterance keeps the tunables it started with.
	SearchChanged bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.LM.GrammarDir != new.LM.GrammarDir || old.LM.Kind != new.LM.Kind {
		d.GrammarDirChanged = true
		d.NewGrammarDir = new.LM.GrammarDir
	}

	if old.Search.FirstPass != new.Search.FirstPass || !secondPassEqual(old.Search.SecondPass, new.Search.SecondPass) {
		d.SearchChanged = true
	}

	return d
}

// secondPassEqual compares two SecondPassConfig values field by field since
// ConfidenceAlpha is a slice and therefore not comparable with ==.
func secondPassEqual(a, b SecondPassConfig) bool {
	return a.NBest == b.NBest &&
		a.StackSize == b.StackSize &&
		a.HypoOverflow == b.HypoOverflow &&
		a.FallbackPass1 == b.FallbackPass1 &&
		a.LookTrellis == b.LookTrellis &&
		a.LookaheadWidth == b.LookaheadWidth &&
		a.Nextscan == b.Nextscan &&
		a.GraphRange == b.GraphRange &&
		a.Lattice == b.Lattice &&
		a.Confnet == b.Confnet &&
		a.ConfidenceMode == b.ConfidenceMode &&
		slices.Equal(a.ConfidenceAlpha, b.ConfidenceAlpha)
}
