package morph

import (
	"github.com/pkg/errors"

	"github.com/mvidmar/morphbert/tensor"
)

// TokenFeatures holds one token's annotations as string key/value
// pairs: "form" for the surface word, "upostag" for the
// part-of-speech tag and zero or more universal feature pairs. Keys
// absent from the map mean the tagger predicted nothing for them.
type TokenFeatures map[string]string

// Sentence is the ordered token annotations of one sentence.
type Sentence []TokenFeatures

// Form returns the token's surface text.
func (t TokenFeatures) Form() string { return t["form"] }

// Tag returns the value for a feature name, or the padding placeholder
// when the tagger left it out.
func (t TokenFeatures) Tag(feature string) string {
	if v, ok := t[feature]; ok {
		return v
	}
	return PadToken
}

// EncodeFeature flattens the sentences into one token stream and
// encodes the named feature as fixed-length id and mask tensors.
// Positions past the token count carry the padding id with mask 0;
// token streams longer than maxSeqLen are truncated.
func EncodeFeature(sentences []Sentence, feature string, vocab *Vocab, maxSeqLen int) (*tensor.Tensor, *tensor.Tensor, error) {
	if vocab == nil {
		return nil, nil, errors.Errorf("feature %q has no vocabulary", feature)
	}
	if maxSeqLen <= 0 {
		return nil, nil, errors.Errorf("max sequence length must be positive, got %d", maxSeqLen)
	}

	ids := make([]int32, maxSeqLen)
	mask := make([]float32, maxSeqLen)

	pos := 0
	for _, sent := range sentences {
		for _, token := range sent {
			if pos >= maxSeqLen {
				break
			}
			ids[pos] = vocab.ID(token.Tag(feature))
			mask[pos] = 1
			pos++
		}
	}

	idTensor, err := tensor.NewTensor([]int{maxSeqLen}, tensor.Int32, tensor.CPU, ids)
	if err != nil {
		return nil, nil, err
	}
	maskTensor, err := tensor.NewTensor([]int{maxSeqLen}, tensor.Float32, tensor.CPU, mask)
	if err != nil {
		return nil, nil, err
	}
	return idTensor, maskTensor, nil
}

// Text joins all token forms with single spaces, reconstructing an
// approximation of the annotated input.
func Text(sentences []Sentence) string {
	var out []byte
	for _, sent := range sentences {
		for _, token := range sent {
			if len(out) > 0 {
				out = append(out, ' ')
			}
			out = append(out, token.Form()...)
		}
	}
	return string(out)
}
