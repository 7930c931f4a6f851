package training

import (
	"testing"

	"github.com/mvidmar/morphbert/tensor"
)

func exampleWith(t *testing.T, x []float32, label int32) Example {
	t.Helper()
	xt, err := tensor.NewTensor([]int{len(x)}, tensor.Float32, tensor.CPU, x)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	lt, err := tensor.NewTensor([]int{1}, tensor.Int32, tensor.CPU, []int32{label})
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return Example{"x": xt, "labels": lt}
}

func TestDataLoaderBatching(t *testing.T) {
	examples := []Example{
		exampleWith(t, []float32{1, 2}, 0),
		exampleWith(t, []float32{3, 4}, 1),
		exampleWith(t, []float32{5, 6}, 0),
	}
	loader, err := NewDataLoader(NewSliceDataset(examples), 2)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	if loader.NumBatches() != 2 {
		t.Fatalf("expected 2 batches, got %d", loader.NumBatches())
	}

	t.Run("FullBatch", func(t *testing.T) {
		batch, err := loader.GetBatch(0)
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		x := batch["x"]
		if x.Shape[0] != 2 || x.Shape[1] != 2 {
			t.Errorf("expected x shape [2 2], got %v", x.Shape)
		}
		got := x.Data.([]float32)
		want := []float32{1, 2, 3, 4}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("element %d: got %v, want %v", i, got[i], want[i])
			}
		}
		labels := batch["labels"]
		if labels.DType != tensor.Int32 {
			t.Errorf("labels should stay Int32, got %s", labels.DType)
		}
	})

	t.Run("ShortFinalBatch", func(t *testing.T) {
		batch, err := loader.GetBatch(1)
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if batch["x"].Shape[0] != 1 {
			t.Errorf("expected final batch of 1 example, got %v", batch["x"].Shape)
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		if _, err := loader.GetBatch(2); err == nil {
			t.Error("expected error for batch index past the end")
		}
	})
}

func TestDataLoaderInconsistentExamples(t *testing.T) {
	examples := []Example{
		exampleWith(t, []float32{1, 2}, 0),
		{"labels": exampleWith(t, []float32{1}, 1)["labels"]},
	}
	loader, err := NewDataLoader(NewSliceDataset(examples), 2)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if _, err := loader.GetBatch(0); err == nil {
		t.Error("expected error for example missing a field")
	}
}

func TestSubsetDataset(t *testing.T) {
	examples := []Example{
		exampleWith(t, []float32{0}, 0),
		exampleWith(t, []float32{1}, 1),
		exampleWith(t, []float32{2}, 0),
	}
	base := NewSliceDataset(examples)

	subset, err := NewSubsetDataset(base, []int{2, 0})
	if err != nil {
		t.Fatalf("NewSubsetDataset failed: %v", err)
	}
	if subset.Len() != 2 {
		t.Fatalf("expected length 2, got %d", subset.Len())
	}

	ex, err := subset.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := ex["x"].Data.([]float32)[0]; got != 2 {
		t.Errorf("subset index 0 should map to original index 2, got x=%v", got)
	}

	if _, err := NewSubsetDataset(base, []int{3}); err == nil {
		t.Error("expected error for out-of-range index")
	}
}
