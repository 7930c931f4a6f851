package tensor

import (
	"fmt"
	"math"
)

// BroadcastShapes computes the shape two operands broadcast to, using
// trailing-dimension alignment. Dimensions must match or one of them
// must be 1.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	n := len(shape1)
	if len(shape2) > n {
		n = len(shape2)
	}
	result := make([]int, n)
	for i := 0; i < n; i++ {
		d1, d2 := 1, 1
		if idx := len(shape1) - n + i; idx >= 0 {
			d1 = shape1[idx]
		}
		if idx := len(shape2) - n + i; idx >= 0 {
			d2 = shape2[idx]
		}
		switch {
		case d1 == d2:
			result[i] = d1
		case d1 == 1:
			result[i] = d2
		case d2 == 1:
			result[i] = d1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}
	return result, nil
}

// broadcastStrides returns per-output-dimension strides into a tensor
// with the given shape, with stride 0 on broadcast dimensions.
func broadcastStrides(shape []int, outShape []int) []int {
	strides := calculateStrides(shape)
	out := make([]int, len(outShape))
	offset := len(outShape) - len(shape)
	for i := range outShape {
		src := i - offset
		if src < 0 || shape[src] == 1 {
			out[i] = 0
		} else {
			out[i] = strides[src]
		}
	}
	return out
}

func elementwiseBinary(t1, t2 *Tensor, f func(a, b float32) float32) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("elementwise ops only support Float32 tensors, got %s and %s", t1.DType, t2.DType)
	}

	outShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outShape, Float32, t1.Device)
	if err != nil {
		return nil, err
	}

	d1 := t1.Data.([]float32)
	d2 := t2.Data.([]float32)
	out := result.Data.([]float32)

	// Fast path for identical shapes.
	if shapesEqual(t1.Shape, t2.Shape) {
		for i := range out {
			out[i] = f(d1[i], d2[i])
		}
		return result, nil
	}

	s1 := broadcastStrides(t1.Shape, outShape)
	s2 := broadcastStrides(t2.Shape, outShape)
	coords := make([]int, len(outShape))
	for i := 0; i < result.NumElems; i++ {
		i1, i2 := 0, 0
		for d := range coords {
			i1 += coords[d] * s1[d]
			i2 += coords[d] * s2[d]
		}
		out[i] = f(d1[i1], d2[i2])

		for d := len(coords) - 1; d >= 0; d-- {
			coords[d]++
			if coords[d] < outShape[d] {
				break
			}
			coords[d] = 0
		}
	}
	return result, nil
}

func elementwiseUnary(t *Tensor, f func(v float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("elementwise ops only support Float32 tensors, got %s", t.DType)
	}
	data := t.Data.([]float32)
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = f(v)
	}
	return NewTensor(t.Shape, Float32, t.Device, out)
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a * b })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	return elementwiseBinary(t1, t2, func(a, b float32) float32 { return a / b })
}

func Tanh(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 { return float32(1.0 / (1.0 + math.Exp(-float64(v)))) })
}

func Exp(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Sqrt computes the element-wise square root; negative entries yield NaN.
func Sqrt(t *Tensor) (*Tensor, error) {
	return elementwiseUnary(t, func(v float32) float32 {
		if v < 0 {
			return float32(math.NaN())
		}
		return float32(math.Sqrt(float64(v)))
	})
}

// Scale multiplies every element by a scalar.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	f := float32(s)
	return elementwiseUnary(t, func(v float32) float32 { return v * f })
}
