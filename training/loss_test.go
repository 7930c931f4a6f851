package training

import (
	"math"
	"testing"

	"github.com/mvidmar/morphbert/tensor"
)

func TestCrossEntropyLossValidation(t *testing.T) {
	ce := NewCrossEntropyLoss()

	logits, err := tensor.Zeros([]int{2, 3}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}

	t.Run("NilInputs", func(t *testing.T) {
		if _, err := ce.Forward(nil, nil); err == nil {
			t.Error("expected error for nil inputs")
		}
	})

	t.Run("WrongLabelDType", func(t *testing.T) {
		labels, err := tensor.Zeros([]int{2}, tensor.Float32, tensor.CPU)
		if err != nil {
			t.Fatalf("Zeros failed: %v", err)
		}
		if _, err := ce.Forward(logits, labels); err == nil {
			t.Error("expected error for float labels")
		}
	})

	t.Run("LabelOutOfRange", func(t *testing.T) {
		labels, err := tensor.NewTensor([]int{2}, tensor.Int32, tensor.CPU, []int32{0, 3})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if _, err := ce.Forward(logits, labels); err == nil {
			t.Error("expected error for label outside class range")
		}
	})

	t.Run("BatchMismatch", func(t *testing.T) {
		labels, err := tensor.NewTensor([]int{3}, tensor.Int32, tensor.CPU, []int32{0, 1, 2})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if _, err := ce.Forward(logits, labels); err == nil {
			t.Error("expected error for mismatched batch sizes")
		}
	})
}

func TestCrossEntropyLossValue(t *testing.T) {
	ce := NewCrossEntropyLoss()

	logits, err := tensor.Zeros([]int{2, 4}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	labels, err := tensor.NewTensor([]int{2}, tensor.Int32, tensor.CPU, []int32{1, 2})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}

	loss, err := ce.Forward(logits, labels)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	got := float64(loss.Data.([]float32)[0])
	want := math.Log(4)
	if math.Abs(got-want) > 1e-5 {
		t.Errorf("uniform logits over 4 classes should give ln(4)=%v, got %v", want, got)
	}
}
