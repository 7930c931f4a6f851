package morph

import (
	"bufio"
	"strings"

	"github.com/pkg/errors"
)

// CoNLL-U column positions.
const (
	conlluID    = 0
	conlluForm  = 1
	conlluUpos  = 3
	conlluFeats = 5

	conlluColumns = 10
)

// ParseConllu reads CoNLL-U text into per-sentence token annotations.
// Comment lines are skipped, as are multiword-token ranges and empty
// nodes, so every kept row is a single syntactic word. Tokens without
// a part-of-speech tag get the padding placeholder; absent
// morphological features are simply not recorded.
func ParseConllu(data string) ([]Sentence, error) {
	var sentences []Sentence
	var current Sentence

	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				sentences = append(sentences, current)
				current = nil
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < conlluColumns {
			return nil, errors.Errorf("line %d: expected %d tab-separated columns, got %d", lineNo, conlluColumns, len(fields))
		}

		id := fields[conlluID]
		if strings.ContainsAny(id, "-.") {
			continue
		}

		token := TokenFeatures{"form": fields[conlluForm]}

		upos := fields[conlluUpos]
		if upos == "" || upos == "_" {
			upos = PadToken
		}
		token[UposFeature] = upos

		feats := fields[conlluFeats]
		if feats != "" && feats != "_" {
			for _, pair := range strings.Split(feats, "|") {
				name, value, ok := strings.Cut(pair, "=")
				if !ok {
					return nil, errors.Errorf("line %d: malformed feature pair %q", lineNo, pair)
				}
				token[name] = value
			}
		}

		current = append(current, token)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading conllu data")
	}
	if len(current) > 0 {
		sentences = append(sentences, current)
	}
	return sentences, nil
}
