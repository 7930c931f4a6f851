package tensor

import (
	"fmt"
	"math"
)

// MatMul computes the matrix product of two 2D Float32 tensors.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("MatMul only supports Float32 tensors")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul expects 2D tensors, got shapes %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("inner dimensions do not match: %v x %v", t1.Shape, t2.Shape)
	}

	m, k, n := t1.Shape[0], t1.Shape[1], t2.Shape[1]
	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	out := make([]float32, m*n)

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			row := b[p*n : (p+1)*n]
			dst := out[i*n : (i+1)*n]
			for j := range row {
				dst[j] += av * row[j]
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, t1.Device, out)
}

// Transpose swaps the two dimensions of a 2D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose only supports Float32 tensors")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose expects a 2D tensor, got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	out := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return NewTensor([]int{cols, rows}, Float32, t.Device, out)
}

// dimSplit factors a shape around dim into (outer, size, inner) extents.
func dimSplit(shape []int, dim int) (int, int, int, error) {
	if dim < 0 || dim >= len(shape) {
		return 0, 0, 0, fmt.Errorf("dimension %d out of bounds for shape %v", dim, shape)
	}
	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner, nil
}

// Sum reduces a Float32 tensor over one dimension, removing it.
func Sum(t *Tensor, dim int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sum only supports Float32 tensors")
	}
	outer, size, inner, err := dimSplit(t.Shape, dim)
	if err != nil {
		return nil, err
	}

	outShape := make([]int, 0, len(t.Shape)-1)
	for i, d := range t.Shape {
		if i != dim {
			outShape = append(outShape, d)
		}
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	data := t.Data.([]float32)
	out := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for k := 0; k < size; k++ {
			base := (o*size + k) * inner
			dst := out[o*inner : (o+1)*inner]
			for i := 0; i < inner; i++ {
				dst[i] += data[base+i]
			}
		}
	}
	return NewTensor(outShape, Float32, t.Device, out)
}

// Softmax normalizes a Float32 tensor along one dimension using the
// max-subtraction trick for numerical stability.
func Softmax(t *Tensor, dim int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Softmax only supports Float32 tensors")
	}
	outer, size, inner, err := dimSplit(t.Shape, dim)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := make([]float32, len(data))
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			maxVal := float32(math.Inf(-1))
			for k := 0; k < size; k++ {
				v := data[(o*size+k)*inner+i]
				if v > maxVal {
					maxVal = v
				}
			}
			var sum float32
			for k := 0; k < size; k++ {
				idx := (o*size+k)*inner + i
				e := float32(math.Exp(float64(data[idx] - maxVal)))
				out[idx] = e
				sum += e
			}
			for k := 0; k < size; k++ {
				out[(o*size+k)*inner+i] /= sum
			}
		}
	}
	return NewTensor(t.Shape, Float32, t.Device, out)
}

// Concat joins Float32 tensors along one dimension. All other
// dimensions must match.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat requires at least one tensor")
	}
	first := tensors[0]
	if first.DType != Float32 {
		return nil, fmt.Errorf("Concat only supports Float32 tensors")
	}
	if dim < 0 || dim >= len(first.Shape) {
		return nil, fmt.Errorf("dimension %d out of bounds for shape %v", dim, first.Shape)
	}

	outShape := append([]int{}, first.Shape...)
	total := 0
	for _, t := range tensors {
		if len(t.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("rank mismatch in Concat: %v vs %v", first.Shape, t.Shape)
		}
		for i, d := range t.Shape {
			if i != dim && d != first.Shape[i] {
				return nil, fmt.Errorf("shape mismatch in Concat along dim %d: %v vs %v", dim, first.Shape, t.Shape)
			}
		}
		total += t.Shape[dim]
	}
	outShape[dim] = total

	outer, _, inner, _ := dimSplit(first.Shape, dim)
	out := make([]float32, calculateNumElements(outShape))
	offset := 0
	for _, t := range tensors {
		size := t.Shape[dim]
		data := t.Data.([]float32)
		for o := 0; o < outer; o++ {
			src := data[o*size*inner : (o+1)*size*inner]
			dstBase := (o*total + offset) * inner
			copy(out[dstBase:dstBase+size*inner], src)
		}
		offset += size
	}
	return NewTensor(outShape, Float32, first.Device, out)
}

// Select extracts the index-th slice along one dimension, removing it.
func Select(t *Tensor, dim, index int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Select only supports Float32 tensors")
	}
	outer, size, inner, err := dimSplit(t.Shape, dim)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= size {
		return nil, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", index, dim, size)
	}

	outShape := make([]int, 0, len(t.Shape)-1)
	for i, d := range t.Shape {
		if i != dim {
			outShape = append(outShape, d)
		}
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	data := t.Data.([]float32)
	out := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		base := (o*size + index) * inner
		copy(out[o*inner:(o+1)*inner], data[base:base+inner])
	}
	return NewTensor(outShape, Float32, t.Device, out)
}

// ArgMax returns the index of the maximum entry along the last
// dimension of a 2D Float32 tensor, as an Int32 tensor of shape [rows].
func ArgMax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("ArgMax only supports Float32 tensors")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("ArgMax expects a 2D tensor, got shape %v", t.Shape)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	out := make([]int32, rows)
	for i := 0; i < rows; i++ {
		best := 0
		bestVal := data[i*cols]
		for j := 1; j < cols; j++ {
			if data[i*cols+j] > bestVal {
				bestVal = data[i*cols+j]
				best = j
			}
		}
		out[i] = int32(best)
	}
	return NewTensor([]int{rows}, Int32, t.Device, out)
}
