package tensor

import (
	"fmt"
	"math/rand"
)

// NewTensor creates a tensor with the given shape and data. When data
// is nil a zero-filled buffer of the right size is allocated.
func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if device != CPU {
		return nil, fmt.Errorf("unsupported device: %s", device)
	}

	t := &Tensor{
		Shape:    append([]int{}, shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device,
		NumElems: calculateNumElements(shape),
	}

	if data == nil {
		switch dtype {
		case Float32:
			t.Data = make([]float32, t.NumElems)
		case Int32:
			t.Data = make([]int32, t.NumElems)
		default:
			return nil, fmt.Errorf("unsupported dtype: %s", dtype)
		}
		return t, nil
	}

	switch dtype {
	case Float32:
		src, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32 for Float32 tensor, got %T", data)
		}
		if len(src) != t.NumElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(src), shape, t.NumElems)
		}
		t.Data = src
	case Int32:
		src, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("expected []int32 for Int32 tensor, got %T", data)
		}
		if len(src) != t.NumElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(src), shape, t.NumElems)
		}
		t.Data = src
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	return t, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	return NewTensor(shape, dtype, device, nil)
}

// Ones creates a one-filled tensor.
func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, device, nil)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case Float32:
		data := t.Data.([]float32)
		for i := range data {
			data[i] = 1
		}
	case Int32:
		data := t.Data.([]int32)
		for i := range data {
			data[i] = 1
		}
	}
	return t, nil
}

// Full creates a tensor filled with a constant value.
func Full(shape []int, value float32, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, device, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// RandomUniform creates a Float32 tensor with entries drawn uniformly
// from [-bound, bound) using the supplied source.
func RandomUniform(shape []int, bound float64, rng *rand.Rand, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, device, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t, nil
}

// RandomNormal creates a Float32 tensor with entries drawn from
// N(mean, std^2) using the supplied source.
func RandomNormal(shape []int, mean, std float64, rng *rand.Rand, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, Float32, device, nil)
	if err != nil {
		return nil, err
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = float32(rng.NormFloat64()*std + mean)
	}
	return t, nil
}

// FromScalar creates a one-element tensor from a float64 value.
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	switch dtype {
	case Int32:
		t, _ := NewTensor([]int{1}, dtype, device, []int32{int32(value)})
		return t
	default:
		t, _ := NewTensor([]int{1}, Float32, device, []float32{float32(value)})
		return t
	}
}
