package lexicon_test

import (
	"strings"
	"testing"

	"github.com/kurenai-lab/lvcsr/internal/lexicon"
	"github.com/kurenai-lab/lvcsr/internal/lm"
)

func TestParseDictPlain(t *testing.T) {
	src := "; comment\nHELLO _ h ax l ow\nWORLD WORLD w er l d\n\n"
	words, cats, err := lexicon.ParseDict(strings.NewReader(src), false)
	if err != nil {
		t.Fatalf("ParseDict: %v", err)
	}
	if len(cats) != 0 {
		t.Fatalf("categories = %v, want none", cats)
	}
	if len(words) != 2 {
		t.Fatalf("len(words) = %d, want 2", len(words))
	}
	if words[0].Surface != "HELLO" || words[0].Output != "HELLO" {
		t.Errorf("words[0] = %+v", words[0])
	}
	if len(words[0].Phones) != 4 {
		t.Errorf("words[0].Phones = %v, want 4 phones", words[0].Phones)
	}
	if words[1].Surface != "WORLD" || words[1].Output != "WORLD" {
		t.Errorf("words[1] = %+v", words[1])
	}
}

func TestParseDictWithCategory(t *testing.T) {
	src := "0 ONE _ w ah n\n1 TWO _ t uw\n"
	words, cats, err := lexicon.ParseDict(strings.NewReader(src), true)
	if err != nil {
		t.Fatalf("ParseDict: %v", err)
	}
	if len(words) != 2 || len(cats) != 2 {
		t.Fatalf("len(words)=%d len(cats)=%d, want 2 each", len(words), len(cats))
	}
	if cats[0] != lm.CategoryID(0) || cats[1] != lm.CategoryID(1) {
		t.Errorf("cats = %v, want [0 1]", cats)
	}
}

func TestParseDictRejectsShortLine(t *testing.T) {
	_, _, err := lexicon.ParseDict(strings.NewReader("ONLYONEFIELD\n"), false)
	if err == nil {
		t.Fatal("expected an error for a too-short line")
	}
}

func TestParseDictRejectsBadCategory(t *testing.T) {
	_, _, err := lexicon.ParseDict(strings.NewReader("notanumber ONE _ w ah n\n"), true)
	if err == nil {
		t.Fatal("expected an error for a non-numeric category field")
	}
}
