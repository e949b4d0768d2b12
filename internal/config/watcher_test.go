package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kurenai-lab/lvcsr/internal/config"
)

func writeConfigFile(t *testing.T, dir, grammarDir string) string {
	t.Helper()
	path := filepath.Join(dir, "decoder.yaml")
	yaml := `
server:
  listen_addr: ":10500"
  log_level: info
am:
  binhmm_path: testdata/model.bin
  feature_type: MFCC_0_D_Z
lm:
  kind: dfa
  dict_path: testdata/vocab.dict
  grammar_dir: ` + grammarDir + `
search:
  first_pass:
    beam_width: 1000
  second_pass:
    n_best: 10
    stack_size: 500
segment:
  sp_frame_duration: 30
feature:
  frame_shift_ms: 10
  vec_len: 38
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestWatcherDetectsGrammarDirChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "grammars/v1")

	changed := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
		changed <- diff
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if w.Current().LM.GrammarDir != "grammars/v1" {
		t.Fatalf("initial GrammarDir = %q, want grammars/v1", w.Current().LM.GrammarDir)
	}

	// Bump the mtime forward so polling (mtime-gated) notices the rewrite
	// even on filesystems with coarse mtime resolution.
	time.Sleep(10 * time.Millisecond)
	writeConfigFile(t, dir, "grammars/v2")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case diff := <-changed:
		if !diff.GrammarDirChanged || diff.NewGrammarDir != "grammars/v2" {
			t.Errorf("unexpected diff: %+v", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to detect the change")
	}

	if w.Current().LM.GrammarDir != "grammars/v2" {
		t.Errorf("Current().LM.GrammarDir = %q, want grammars/v2", w.Current().LM.GrammarDir)
	}
}

func TestWatcherIgnoresTouchWithoutContentChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "grammars/v1")

	changed := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
		changed <- diff
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	select {
	case diff := <-changed:
		t.Fatalf("unexpected change callback for a content-identical touch: %+v", diff)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherInitialLoadError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected NewWatcher to fail on an invalid initial config")
	}
}
