package tensor

import (
	"math"
	"testing"
)

func mustTensor(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	out, err := NewTensor(shape, Float32, CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return out
}

func mustInt32Tensor(t *testing.T, shape []int, data []int32) *Tensor {
	t.Helper()
	out, err := NewTensor(shape, Int32, CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return out
}

func assertClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Errorf("element %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTensorCreation(t *testing.T) {
	t.Run("ZeroInitialized", func(t *testing.T) {
		z, err := Zeros([]int{2, 3}, Float32, CPU)
		if err != nil {
			t.Fatalf("Zeros failed: %v", err)
		}
		if z.NumElems != 6 {
			t.Errorf("expected 6 elements, got %d", z.NumElems)
		}
		for i, v := range z.Data.([]float32) {
			if v != 0 {
				t.Errorf("element %d: expected 0, got %v", i, v)
			}
		}
	})

	t.Run("InvalidShape", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 0}, Float32, CPU, nil); err == nil {
			t.Error("expected error for zero dimension")
		}
	})

	t.Run("DataSizeMismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3}); err == nil {
			t.Error("expected error for mismatched data length")
		}
	})
}

func TestElementwiseOps(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		a := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
		b := mustTensor(t, []int{2, 2}, []float32{10, 20, 30, 40})
		sum, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		assertClose(t, sum.Data.([]float32), []float32{11, 22, 33, 44}, 1e-6)
	})

	t.Run("BroadcastAdd", func(t *testing.T) {
		a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		bias := mustTensor(t, []int{3}, []float32{10, 20, 30})
		sum, err := Add(a, bias)
		if err != nil {
			t.Fatalf("broadcast Add failed: %v", err)
		}
		assertClose(t, sum.Data.([]float32), []float32{11, 22, 33, 14, 25, 36}, 1e-6)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		b := mustTensor(t, []int{2, 2}, []float32{1, 2, 3, 4})
		if _, err := Add(a, b); err == nil {
			t.Error("expected error for incompatible shapes")
		}
	})
}

func TestMatMul(t *testing.T) {
	a := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b := mustTensor(t, []int{3, 2}, []float32{7, 8, 9, 10, 11, 12})
	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	if c.Shape[0] != 2 || c.Shape[1] != 2 {
		t.Fatalf("expected shape [2 2], got %v", c.Shape)
	}
	assertClose(t, c.Data.([]float32), []float32{58, 64, 139, 154}, 1e-5)
}

func TestSoftmax(t *testing.T) {
	x := mustTensor(t, []int{1, 3}, []float32{1, 2, 3})
	s, err := Softmax(x, 1)
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}
	data := s.Data.([]float32)
	var sum float32
	for _, v := range data {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Errorf("softmax should sum to 1, got %v", sum)
	}
	if !(data[2] > data[1] && data[1] > data[0]) {
		t.Errorf("softmax should preserve ordering, got %v", data)
	}
}

func TestArgMax(t *testing.T) {
	logits := mustTensor(t, []int{2, 3}, []float32{0.1, 0.7, 0.2, 0.9, 0.05, 0.05})
	pred, err := ArgMax(logits)
	if err != nil {
		t.Fatalf("ArgMax failed: %v", err)
	}
	got := pred.Data.([]int32)
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("expected predictions [1 0], got %v", got)
	}
}

func TestAutogradAdd(t *testing.T) {
	a := mustTensor(t, []int{2}, []float32{1, 2})
	b := mustTensor(t, []int{2}, []float32{3, 4})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out := AddAutograd(a, b)
	grad := mustTensor(t, []int{2}, []float32{1, 1})
	if err := out.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	assertClose(t, a.Grad().Data.([]float32), []float32{1, 1}, 1e-6)
	assertClose(t, b.Grad().Data.([]float32), []float32{1, 1}, 1e-6)
}

func TestAutogradMulChain(t *testing.T) {
	// d/da of (a*b + a) is b + 1.
	a := mustTensor(t, []int{2}, []float32{2, 3})
	b := mustTensor(t, []int{2}, []float32{5, 7})
	a.SetRequiresGrad(true)

	out := AddAutograd(MulAutograd(a, b), a)
	grad := mustTensor(t, []int{2}, []float32{1, 1})
	if err := out.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	assertClose(t, a.Grad().Data.([]float32), []float32{6, 8}, 1e-6)
}

func TestAutogradMatMul(t *testing.T) {
	a := mustTensor(t, []int{1, 2}, []float32{1, 2})
	w := mustTensor(t, []int{2, 2}, []float32{1, 0, 0, 1})
	w.SetRequiresGrad(true)

	out := MatMulAutograd(a, w)
	grad := mustTensor(t, []int{1, 2}, []float32{1, 1})
	if err := out.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// gradW = a^T * gradOut
	assertClose(t, w.Grad().Data.([]float32), []float32{1, 1, 2, 2}, 1e-6)
}

func TestAutogradBroadcastBias(t *testing.T) {
	x := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias := mustTensor(t, []int{3}, []float32{0, 0, 0})
	bias.SetRequiresGrad(true)

	out := AddAutograd(x, bias)
	grad := mustTensor(t, []int{2, 3}, []float32{1, 1, 1, 1, 1, 1})
	if err := out.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// Bias gradient sums over the batch dimension.
	assertClose(t, bias.Grad().Data.([]float32), []float32{2, 2, 2}, 1e-6)
}

func TestEmbeddingGradient(t *testing.T) {
	table := mustTensor(t, []int{3, 2}, []float32{0, 0, 1, 2, 3, 4})
	table.SetRequiresGrad(true)
	ids := mustInt32Tensor(t, []int{1, 3}, []int32{1, 1, 0})

	out := EmbeddingAutograd(table, ids, 0)
	if out.Shape[0] != 1 || out.Shape[1] != 3 || out.Shape[2] != 2 {
		t.Fatalf("expected shape [1 3 2], got %v", out.Shape)
	}

	grad := mustTensor(t, []int{1, 3, 2}, []float32{1, 1, 1, 1, 1, 1})
	if err := out.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	gradData := table.Grad().Data.([]float32)
	// Row 1 was gathered twice, padding row 0 must stay at zero grad.
	assertClose(t, gradData, []float32{0, 0, 2, 2, 0, 0}, 1e-6)
}

func TestCrossEntropy(t *testing.T) {
	t.Run("UniformLogits", func(t *testing.T) {
		logits := mustTensor(t, []int{2, 4}, make([]float32, 8))
		labels := mustInt32Tensor(t, []int{2}, []int32{0, 3})
		loss := CrossEntropyAutograd(logits, labels)
		want := float32(math.Log(4))
		assertClose(t, loss.Data.([]float32), []float32{want}, 1e-5)
	})

	t.Run("Gradient", func(t *testing.T) {
		logits := mustTensor(t, []int{1, 2}, []float32{0, 0})
		logits.SetRequiresGrad(true)
		labels := mustInt32Tensor(t, []int{1}, []int32{0})

		loss := CrossEntropyAutograd(logits, labels)
		if err := loss.Backward(nil); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		// softmax is [0.5 0.5], so grad is [-0.5 0.5].
		assertClose(t, logits.Grad().Data.([]float32), []float32{-0.5, 0.5}, 1e-6)
	})

	t.Run("ConfidentCorrect", func(t *testing.T) {
		logits := mustTensor(t, []int{1, 2}, []float32{20, -20})
		labels := mustInt32Tensor(t, []int{1}, []int32{0})
		loss := CrossEntropyAutograd(logits, labels)
		if loss.Data.([]float32)[0] > 1e-5 {
			t.Errorf("confident correct prediction should have near-zero loss, got %v", loss.Data.([]float32)[0])
		}
	})
}

func TestBackwardRequiresScalar(t *testing.T) {
	x := mustTensor(t, []int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)
	out := AddAutograd(x, x)
	if err := out.Backward(nil); err == nil {
		t.Error("expected error for nil gradient on multi-element tensor")
	}
}

func TestConcatForwardBackward(t *testing.T) {
	a := mustTensor(t, []int{1, 2}, []float32{1, 2})
	b := mustTensor(t, []int{1, 3}, []float32{3, 4, 5})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out := ConcatAutograd([]*Tensor{a, b}, 1)
	if out.Shape[1] != 5 {
		t.Fatalf("expected concat width 5, got %v", out.Shape)
	}
	assertClose(t, out.Data.([]float32), []float32{1, 2, 3, 4, 5}, 1e-6)

	grad := mustTensor(t, []int{1, 5}, []float32{10, 20, 30, 40, 50})
	if err := out.Backward(grad); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	assertClose(t, a.Grad().Data.([]float32), []float32{10, 20}, 1e-6)
	assertClose(t, b.Grad().Data.([]float32), []float32{30, 40, 50}, 1e-6)
}

func TestReshapeSharesData(t *testing.T) {
	x := mustTensor(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	r, err := x.Reshape([]int{3, -1})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if r.Shape[0] != 3 || r.Shape[1] != 2 {
		t.Fatalf("expected shape [3 2], got %v", r.Shape)
	}
	r.Data.([]float32)[0] = 99
	if x.Data.([]float32)[0] != 99 {
		t.Error("reshape should share underlying data")
	}
}
