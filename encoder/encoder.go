// Package encoder defines the pretrained base encoder collaborator the
// classification model is built around, together with a tokenizer
// contract and a lightweight frozen reference encoder for end-to-end
// runs without an external model server.
package encoder

import (
	"github.com/mvidmar/morphbert/tensor"
)

// Encoder maps token id sequences to contextual representations plus a
// pooled per-example summary. Implementations are opaque to the rest of
// the system: gradients never flow into an Encoder.
type Encoder interface {
	// Encode consumes [B, T] input ids and token type ids (Int32) and a
	// [B, T] attention mask (Float32, 0/1) and returns token-level
	// representations [B, T, H] and a pooled summary [B, H].
	Encode(inputIDs, tokenTypeIDs, attentionMask *tensor.Tensor) (sequence, pooled *tensor.Tensor, err error)

	// HiddenSize reports H. Queried once, at model construction, to
	// size the classification head.
	HiddenSize() int
}

// Tokenizer converts raw text into the fixed-length id/mask sequences
// an Encoder consumes.
type Tokenizer interface {
	// Encode returns input ids, token type ids and an attention mask,
	// each of length maxSeqLen (truncated or padded as needed).
	Encode(text string, maxSeqLen int) (inputIDs, tokenTypeIDs []int32, attentionMask []float32)
}
