// Package morph supplies the linguistic side of the pipeline: feature
// vocabularies, CoNLL-U parsing, offline annotation and the dataset
// that turns annotated text into training tensors.
package morph

import (
	"sort"

	"github.com/pkg/errors"
)

// PadToken is the reserved placeholder for "no tag here". It occupies
// index 0 of every vocabulary, matching the frozen padding row of the
// embedding tables.
const PadToken = "<PAD>"

// UposFeature is the feature name under which part-of-speech tags are
// keyed in token annotations and batch tensors.
const UposFeature = "upostag"

// Vocab is a fixed bijection between tag strings and integer ids, with
// the padding token pinned at id 0.
type Vocab struct {
	tokens []string
	index  map[string]int
}

// NewVocab builds a vocabulary from the given tags. The padding token
// is always inserted at id 0; duplicates and explicit padding entries
// among the tags are ignored.
func NewVocab(tags []string) *Vocab {
	v := &Vocab{
		tokens: []string{PadToken},
		index:  map[string]int{PadToken: 0},
	}
	for _, tag := range tags {
		if _, seen := v.index[tag]; seen {
			continue
		}
		v.index[tag] = len(v.tokens)
		v.tokens = append(v.tokens, tag)
	}
	return v
}

// ID maps a tag to its id. Unknown tags map to the padding id, which
// mirrors how absent tags are treated.
func (v *Vocab) ID(tag string) int32 {
	if id, ok := v.index[tag]; ok {
		return int32(id)
	}
	return int32(v.PadID())
}

// Token maps an id back to its tag.
func (v *Vocab) Token(id int) (string, error) {
	if id < 0 || id >= len(v.tokens) {
		return "", errors.Errorf("id %d out of range [0, %d)", id, len(v.tokens))
	}
	return v.tokens[id], nil
}

func (v *Vocab) Len() int   { return len(v.tokens) }
func (v *Vocab) PadID() int { return 0 }

// Registry holds one vocabulary per feature name: part-of-speech tags
// share a single flat vocabulary, every other feature has its own.
type Registry struct {
	upos   *Vocab
	ufeats map[string]*Vocab
}

// NewRegistry builds a registry from a part-of-speech vocabulary and
// per-feature vocabularies.
func NewRegistry(upos *Vocab, ufeats map[string]*Vocab) *Registry {
	if ufeats == nil {
		ufeats = map[string]*Vocab{}
	}
	return &Registry{upos: upos, ufeats: ufeats}
}

// DefaultRegistry covers the Universal Dependencies v2 tag inventory:
// the 17 universal part-of-speech tags and the lexical and
// inflectional feature value sets.
func DefaultRegistry() *Registry {
	upos := NewVocab([]string{
		"ADJ", "ADP", "ADV", "AUX", "CCONJ", "DET", "INTJ", "NOUN",
		"NUM", "PART", "PRON", "PROPN", "PUNCT", "SCONJ", "SYM",
		"VERB", "X",
	})
	ufeats := map[string]*Vocab{
		"PronType": NewVocab([]string{"Art", "Dem", "Emp", "Exc", "Ind", "Int", "Neg", "Prs", "Rcp", "Rel", "Tot"}),
		"NumType":  NewVocab([]string{"Card", "Dist", "Frac", "Mult", "Ord", "Range", "Sets"}),
		"Poss":     NewVocab([]string{"Yes"}),
		"Reflex":   NewVocab([]string{"Yes"}),
		"Abbr":     NewVocab([]string{"Yes"}),
		"Foreign":  NewVocab([]string{"Yes"}),
		"Typo":     NewVocab([]string{"Yes"}),
		"Gender":   NewVocab([]string{"Com", "Fem", "Masc", "Neut"}),
		"Animacy":  NewVocab([]string{"Anim", "Hum", "Inan", "Nhum"}),
		"Number":   NewVocab([]string{"Coll", "Count", "Dual", "Grpa", "Grpl", "Inv", "Pauc", "Plur", "Ptan", "Sing", "Tri"}),
		"Case": NewVocab([]string{
			"Abe", "Abl", "Abs", "Acc", "Add", "Ade", "All", "Ben", "Cau", "Cmp",
			"Com", "Dat", "Del", "Dis", "Ela", "Equ", "Erg", "Ess", "Gen", "Ill",
			"Ine", "Ins", "Lat", "Loc", "Nom", "Par", "Per", "Sub", "Sup", "Tem",
			"Ter", "Tra", "Voc",
		}),
		"Definite": NewVocab([]string{"Com", "Cons", "Def", "Ind", "Spec"}),
		"Degree":   NewVocab([]string{"Abs", "Aug", "Cmp", "Dim", "Equ", "Pos", "Sup"}),
		"VerbForm": NewVocab([]string{"Conv", "Fin", "Gdv", "Ger", "Inf", "Part", "Sup", "Vnoun"}),
		"Mood":     NewVocab([]string{"Adm", "Cnd", "Des", "Imp", "Ind", "Irr", "Jus", "Nec", "Opt", "Pot", "Prp", "Qot", "Sub"}),
		"Tense":    NewVocab([]string{"Fut", "Imp", "Past", "Pqp", "Pres"}),
		"Aspect":   NewVocab([]string{"Hab", "Imp", "Iter", "Perf", "Prog", "Prosp"}),
		"Voice":    NewVocab([]string{"Act", "Antip", "Bfoc", "Cau", "Dir", "Inv", "Lfoc", "Mid", "Pass", "Rcp"}),
		"Evident":  NewVocab([]string{"Fh", "Nfh"}),
		"Polarity": NewVocab([]string{"Neg", "Pos"}),
		"Person":   NewVocab([]string{"0", "1", "2", "3", "4"}),
		"Polite":   NewVocab([]string{"Elev", "Form", "Humb", "Infm"}),
		"Clusivity": NewVocab([]string{"Ex", "In"}),
	}
	return NewRegistry(upos, ufeats)
}

// Feature resolves the vocabulary for a feature name.
func (r *Registry) Feature(name string) (*Vocab, error) {
	if name == UposFeature {
		return r.upos, nil
	}
	if v, ok := r.ufeats[name]; ok {
		return v, nil
	}
	return nil, errors.Errorf("no vocabulary registered for feature %q", name)
}

// RegisterFeature adds or replaces the vocabulary for a non-UPOS
// feature name.
func (r *Registry) RegisterFeature(name string, v *Vocab) {
	r.ufeats[name] = v
}

// UfeatNames lists the registered non-UPOS feature names in sorted
// order, which fixes the fusion order across runs.
func (r *Registry) UfeatNames() []string {
	names := make([]string, 0, len(r.ufeats))
	for name := range r.ufeats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
