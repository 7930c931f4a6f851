package encoder

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"unicode"

	"github.com/mvidmar/morphbert/tensor"
)

// Reserved token ids shared by the tokenizer and the reference encoder.
const (
	padTokenID int32 = 0
	clsTokenID int32 = 1
	sepTokenID int32 = 2
	unkTokenID int32 = 3

	numReservedTokens = 4
)

// BagEncoder is a frozen bag-of-embeddings encoder: a deterministic
// random projection table indexed by token id, mean-pooled over valid
// positions and squashed with tanh for the summary vector. It stands in
// for a pretrained transformer wherever one is not available; its
// parameters never train.
type BagEncoder struct {
	hiddenSize int
	vocabSize  int
	table      []float32
}

// NewBagEncoder builds the frozen table from a seed, so the same seed
// always yields the same encoder.
func NewBagEncoder(vocabSize, hiddenSize int, seed int64) (*BagEncoder, error) {
	if vocabSize <= numReservedTokens || hiddenSize <= 0 {
		return nil, fmt.Errorf("invalid encoder sizes: vocab=%d hidden=%d", vocabSize, hiddenSize)
	}
	rng := rand.New(rand.NewSource(seed))
	table := make([]float32, vocabSize*hiddenSize)
	std := 1.0 / math.Sqrt(float64(hiddenSize))
	for i := range table {
		table[i] = float32(rng.NormFloat64() * std)
	}
	// Padding embeds to zero.
	for j := 0; j < hiddenSize; j++ {
		table[int(padTokenID)*hiddenSize+j] = 0
	}
	return &BagEncoder{
		hiddenSize: hiddenSize,
		vocabSize:  vocabSize,
		table:      table,
	}, nil
}

func (e *BagEncoder) HiddenSize() int { return e.hiddenSize }

func (e *BagEncoder) Encode(inputIDs, tokenTypeIDs, attentionMask *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if inputIDs.DType != tensor.Int32 {
		return nil, nil, fmt.Errorf("input ids must be Int32, got %s", inputIDs.DType)
	}
	if len(inputIDs.Shape) != 2 {
		return nil, nil, fmt.Errorf("input ids must be 2D [batch, seq], got shape %v", inputIDs.Shape)
	}
	if attentionMask == nil || !sameShape(attentionMask.Shape, inputIDs.Shape) {
		return nil, nil, fmt.Errorf("attention mask shape does not match input ids shape %v", inputIDs.Shape)
	}

	batch, seqLen := inputIDs.Shape[0], inputIDs.Shape[1]
	ids := inputIDs.Data.([]int32)
	maskData := attentionMask.Data.([]float32)

	seqOut := make([]float32, batch*seqLen*e.hiddenSize)
	pooledOut := make([]float32, batch*e.hiddenSize)

	for b := 0; b < batch; b++ {
		var count float32
		for t := 0; t < seqLen; t++ {
			id := ids[b*seqLen+t]
			if id < 0 || int(id) >= e.vocabSize {
				id = unkTokenID
			}
			src := e.table[int(id)*e.hiddenSize : (int(id)+1)*e.hiddenSize]
			dst := seqOut[(b*seqLen+t)*e.hiddenSize : (b*seqLen+t+1)*e.hiddenSize]
			copy(dst, src)

			if maskData[b*seqLen+t] != 0 {
				count++
				acc := pooledOut[b*e.hiddenSize : (b+1)*e.hiddenSize]
				for j := range acc {
					acc[j] += src[j]
				}
			}
		}
		if count > 0 {
			acc := pooledOut[b*e.hiddenSize : (b+1)*e.hiddenSize]
			for j := range acc {
				acc[j] = float32(math.Tanh(float64(acc[j] / count)))
			}
		}
	}

	sequence, err := tensor.NewTensor([]int{batch, seqLen, e.hiddenSize}, tensor.Float32, inputIDs.Device, seqOut)
	if err != nil {
		return nil, nil, err
	}
	pooled, err := tensor.NewTensor([]int{batch, e.hiddenSize}, tensor.Float32, inputIDs.Device, pooledOut)
	if err != nil {
		return nil, nil, err
	}
	return sequence, pooled, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HashTokenizer is a vocabulary-free WordPiece stand-in: it lowercases,
// splits on whitespace and punctuation and hashes each token into the
// id space above the reserved ids. Sequences are wrapped in CLS/SEP and
// padded to the requested length.
type HashTokenizer struct {
	vocabSize int
}

func NewHashTokenizer(vocabSize int) (*HashTokenizer, error) {
	if vocabSize <= numReservedTokens {
		return nil, fmt.Errorf("vocab size %d leaves no room for hashed tokens", vocabSize)
	}
	return &HashTokenizer{vocabSize: vocabSize}, nil
}

func (tk *HashTokenizer) Encode(text string, maxSeqLen int) ([]int32, []int32, []float32) {
	inputIDs := make([]int32, maxSeqLen)
	tokenTypeIDs := make([]int32, maxSeqLen)
	attentionMask := make([]float32, maxSeqLen)

	words := splitTokens(strings.ToLower(text))

	pos := 0
	put := func(id int32) {
		if pos < maxSeqLen {
			inputIDs[pos] = id
			attentionMask[pos] = 1
			pos++
		}
	}

	put(clsTokenID)
	for _, w := range words {
		if pos >= maxSeqLen-1 {
			break
		}
		put(tk.hashToken(w))
	}
	put(sepTokenID)

	return inputIDs, tokenTypeIDs, attentionMask
}

func (tk *HashTokenizer) hashToken(w string) int32 {
	h := fnv.New32a()
	h.Write([]byte(w))
	span := uint32(tk.vocabSize - numReservedTokens)
	return int32(h.Sum32()%span) + numReservedTokens
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}
