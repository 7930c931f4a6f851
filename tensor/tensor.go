package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// DeviceType identifies the compute device a tensor lives on. Only the
// CPU backend exists; the type is kept so device selection stays an
// explicit construction-time argument rather than ambient state.
type DeviceType int

const (
	CPU DeviceType = iota
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// Operation is implemented by autograd operations. Forward records the
// inputs and produces the output tensor; Backward maps the output
// gradient to one gradient per input, in input order.
type Operation interface {
	Forward(...*Tensor) *Tensor
	Backward(gradOut *Tensor) []*Tensor
	Inputs() []*Tensor
}

type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Device       DeviceType
	Data         interface{}
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetData replaces the tensor's backing buffer in place. The new data
// must match the tensor's dtype and element count.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float32:
		src, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 for Float32 tensor, got %T", data)
		}
		if len(src) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(t.Data.([]float32), src)
	case Int32:
		src, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 for Int32 tensor, got %T", data)
		}
		if len(src) != t.NumElems {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(t.Data.([]int32), src)
	default:
		return fmt.Errorf("unsupported dtype for SetData: %s", t.DType)
	}
	return nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
