package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kurenai-lab/lvcsr/internal/lm"
)

// ParseDict reads a pronunciation dictionary: one word per line, fields
// separated by whitespace:
//
//	[<category>] <surface> <output> <phone1> <phone2> ...
//
// <category> is a non-negative integer naming the [lm.CategoryID] this word
// terminates in the DFA grammar currently being built; it is present only
// when withCategory is true (grammar-constrained recognition — see
// [internal/fareader], which leaves DfaGrammar.Terminals for the caller to
// fill in from exactly this data). It is absent for a plain N-gram
// dictionary, where every word is reachable regardless of category.
// <output> may be "_" to mean "same as surface". Blank lines and lines
// beginning with ';' are skipped.
//
// ParseDict does not assign WordIDs — categories, when present, are
// returned in a slice parallel to words, indexed before ID assignment;
// callers combine this with any already-registered words (growing a single
// master dictionary) before calling [NewDictionary].
func ParseDict(r io.Reader, withCategory bool) (words []Word, categories []lm.CategoryID, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		w, cat, perr := parseDictLine(line, withCategory)
		if perr != nil {
			return nil, nil, fmt.Errorf("lexicon: dict line %d: %w", lineNo, perr)
		}
		words = append(words, w)
		if withCategory {
			categories = append(categories, cat)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("lexicon: %w", err)
	}
	return words, categories, nil
}

func parseDictLine(line string, withCategory bool) (Word, lm.CategoryID, error) {
	fields := strings.Fields(line)
	minFields := 3
	if withCategory {
		minFields = 4
	}
	if len(fields) < minFields {
		return Word{}, 0, fmt.Errorf("expected at least %d fields, got %d", minFields, len(fields))
	}

	var cat lm.CategoryID
	if withCategory {
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return Word{}, 0, fmt.Errorf("category: %w", err)
		}
		cat = lm.CategoryID(n)
		fields = fields[1:]
	}

	surface := fields[0]
	output := fields[1]
	if output == "_" {
		output = surface
	}
	phones := append([]string(nil), fields[2:]...)

	return Word{Surface: surface, Output: output, Phones: phones}, cat, nil
}
