package tensor

import (
	"fmt"
	"math/rand"
)

// reduceGradientToShape sums a gradient over dimensions that were
// broadcast during the forward pass so it matches the input's shape.
func reduceGradientToShape(grad *Tensor, targetShape []int) *Tensor {
	if shapesEqual(grad.Shape, targetShape) {
		return grad
	}

	result := grad
	var err error

	// Sum away leading dimensions the input never had.
	for len(result.Shape) > len(targetShape) {
		result, err = Sum(result, 0)
		if err != nil {
			panic(fmt.Sprintf("gradient reduction failed: %v", err))
		}
	}

	// Sum dimensions that were broadcast from size 1, keeping rank.
	for i := range targetShape {
		if targetShape[i] == 1 && result.Shape[i] > 1 {
			summed, err := Sum(result, i)
			if err != nil {
				panic(fmt.Sprintf("gradient reduction failed: %v", err))
			}
			keep := append([]int{}, result.Shape...)
			keep[i] = 1
			result, err = summed.Reshape(keep)
			if err != nil {
				panic(fmt.Sprintf("gradient reshape failed: %v", err))
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		reshaped, err := result.Reshape(targetShape)
		if err != nil {
			panic(fmt.Sprintf("gradient reshape failed: %v", err))
		}
		result = reshaped
	}
	return result
}

func anyRequiresGrad(tensors []*Tensor) bool {
	for _, t := range tensors {
		if t.requiresGrad {
			return true
		}
	}
	return false
}

// addOp implements broadcast addition.
type addOp struct {
	inputs []*Tensor
}

func (op *addOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("addOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = anyRequiresGrad(inputs)
	return result
}

func (op *addOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{
		reduceGradientToShape(gradOut, op.inputs[0].Shape),
		reduceGradientToShape(gradOut, op.inputs[1].Shape),
	}
}

func (op *addOp) Inputs() []*Tensor { return op.inputs }

// mulOp implements broadcast element-wise multiplication.
type mulOp struct {
	inputs []*Tensor
}

func (op *mulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("mulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = anyRequiresGrad(inputs)
	return result
}

func (op *mulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]
	gradA, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradB, err := Mul(gradOut, a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{
		reduceGradientToShape(gradA, a.Shape),
		reduceGradientToShape(gradB, b.Shape),
	}
}

func (op *mulOp) Inputs() []*Tensor { return op.inputs }

// matMulOp implements 2D matrix multiplication.
type matMulOp struct {
	inputs []*Tensor
}

func (op *matMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("matMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = anyRequiresGrad(inputs)
	return result
}

func (op *matMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	bT, err := Transpose(b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}

	aT, err := Transpose(a)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

func (op *matMulOp) Inputs() []*Tensor { return op.inputs }

// reshapeOp reshapes while keeping the graph connected.
type reshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *reshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("reshapeOp requires exactly 1 input")
	}
	op.inputs = inputs
	view, err := inputs[0].Reshape(op.shape)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	// Copy so the output owns its buffer; the graph links back to the input.
	result, err := view.Clone()
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *reshapeOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := gradOut.Reshape(op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *reshapeOp) Inputs() []*Tensor { return op.inputs }

// sumDimOp reduces over one dimension.
type sumDimOp struct {
	inputs []*Tensor
	dim    int
}

func (op *sumDimOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("sumDimOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Sum(inputs[0], op.dim)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *sumDimOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	outer, size, inner, err := dimSplit(in.Shape, op.dim)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	gradData := gradOut.Data.([]float32)
	out := make([]float32, in.NumElems)
	for o := 0; o < outer; o++ {
		src := gradData[o*inner : (o+1)*inner]
		for k := 0; k < size; k++ {
			copy(out[(o*size+k)*inner:(o*size+k+1)*inner], src)
		}
	}
	grad, err := NewTensor(in.Shape, Float32, in.Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *sumDimOp) Inputs() []*Tensor { return op.inputs }

// softmaxOp normalizes along one dimension.
type softmaxOp struct {
	inputs []*Tensor
	dim    int
	output *Tensor
}

func (op *softmaxOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("softmaxOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Softmax(inputs[0], op.dim)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	op.output = result
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *softmaxOp) Backward(gradOut *Tensor) []*Tensor {
	// dL/dx = p * (dL/dy - sum_k p_k * dL/dy_k) along dim
	in := op.inputs[0]
	outer, size, inner, err := dimSplit(in.Shape, op.dim)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	p := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)
	out := make([]float32, in.NumElems)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var dot float32
			for k := 0; k < size; k++ {
				idx := (o*size+k)*inner + i
				dot += p[idx] * g[idx]
			}
			for k := 0; k < size; k++ {
				idx := (o*size+k)*inner + i
				out[idx] = p[idx] * (g[idx] - dot)
			}
		}
	}
	grad, err := NewTensor(in.Shape, Float32, in.Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *softmaxOp) Inputs() []*Tensor { return op.inputs }

// concatOp joins tensors along one dimension.
type concatOp struct {
	inputs []*Tensor
	dim    int
}

func (op *concatOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) == 0 {
		panic("concatOp requires at least 1 input")
	}
	op.inputs = inputs
	result, err := Concat(inputs, op.dim)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = anyRequiresGrad(inputs)
	return result
}

func (op *concatOp) Backward(gradOut *Tensor) []*Tensor {
	outer, total, inner, err := dimSplit(gradOut.Shape, op.dim)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	g := gradOut.Data.([]float32)
	grads := make([]*Tensor, len(op.inputs))
	offset := 0
	for idx, in := range op.inputs {
		size := in.Shape[op.dim]
		out := make([]float32, in.NumElems)
		for o := 0; o < outer; o++ {
			srcBase := (o*total + offset) * inner
			copy(out[o*size*inner:(o+1)*size*inner], g[srcBase:srcBase+size*inner])
		}
		grad, err := NewTensor(in.Shape, Float32, in.Device, out)
		if err != nil {
			panic(fmt.Sprintf("backward pass failed: %v", err))
		}
		grads[idx] = grad
		offset += size
	}
	return grads
}

func (op *concatOp) Inputs() []*Tensor { return op.inputs }

// embeddingOp looks up rows of a [vocab, emb] table for an Int32 id
// tensor. The padding row's gradient is forced to zero so the padding
// vector never drifts during training.
type embeddingOp struct {
	inputs     []*Tensor // table, ids
	paddingIdx int
}

func (op *embeddingOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("embeddingOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	table, ids := inputs[0], inputs[1]
	if table.DType != Float32 || ids.DType != Int32 {
		panic("embeddingOp expects a Float32 table and Int32 ids")
	}
	if len(table.Shape) != 2 {
		panic(fmt.Sprintf("embedding table must be 2D, got shape %v", table.Shape))
	}

	vocab, emb := table.Shape[0], table.Shape[1]
	tableData := table.Data.([]float32)
	idData := ids.Data.([]int32)

	outShape := append(append([]int{}, ids.Shape...), emb)
	out := make([]float32, ids.NumElems*emb)
	for i, id := range idData {
		if id < 0 || int(id) >= vocab {
			panic(fmt.Sprintf("embedding id %d out of range [0, %d)", id, vocab))
		}
		copy(out[i*emb:(i+1)*emb], tableData[int(id)*emb:(int(id)+1)*emb])
	}

	result, err := NewTensor(outShape, Float32, table.Device, out)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = table.requiresGrad
	return result
}

func (op *embeddingOp) Backward(gradOut *Tensor) []*Tensor {
	table, ids := op.inputs[0], op.inputs[1]
	emb := table.Shape[1]
	g := gradOut.Data.([]float32)
	idData := ids.Data.([]int32)

	out := make([]float32, table.NumElems)
	for i, id := range idData {
		if int(id) == op.paddingIdx {
			continue
		}
		dst := out[int(id)*emb : (int(id)+1)*emb]
		src := g[i*emb : (i+1)*emb]
		for j := range dst {
			dst[j] += src[j]
		}
	}
	grad, err := NewTensor(table.Shape, Float32, table.Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad, nil}
}

func (op *embeddingOp) Inputs() []*Tensor { return op.inputs }

// selectOp extracts one slice along a dimension.
type selectOp struct {
	inputs []*Tensor
	dim    int
	index  int
}

func (op *selectOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("selectOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Select(inputs[0], op.dim, op.index)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *selectOp) Backward(gradOut *Tensor) []*Tensor {
	in := op.inputs[0]
	outer, size, inner, err := dimSplit(in.Shape, op.dim)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	g := gradOut.Data.([]float32)
	out := make([]float32, in.NumElems)
	for o := 0; o < outer; o++ {
		base := (o*size + op.index) * inner
		copy(out[base:base+inner], g[o*inner:(o+1)*inner])
	}
	grad, err := NewTensor(in.Shape, Float32, in.Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *selectOp) Inputs() []*Tensor { return op.inputs }

// tanhOp applies the hyperbolic tangent.
type tanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *tanhOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("tanhOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Tanh(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	op.output = result
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *tanhOp) Backward(gradOut *Tensor) []*Tensor {
	y := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)
	out := make([]float32, len(g))
	for i := range out {
		out[i] = g[i] * (1 - y[i]*y[i])
	}
	grad, err := NewTensor(op.inputs[0].Shape, Float32, op.inputs[0].Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *tanhOp) Inputs() []*Tensor { return op.inputs }

// sigmoidOp applies the logistic function.
type sigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *sigmoidOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("sigmoidOp requires exactly 1 input")
	}
	op.inputs = inputs
	result, err := Sigmoid(inputs[0])
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	op.output = result
	result.creator = op
	result.requiresGrad = inputs[0].requiresGrad
	return result
}

func (op *sigmoidOp) Backward(gradOut *Tensor) []*Tensor {
	y := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)
	out := make([]float32, len(g))
	for i := range out {
		out[i] = g[i] * y[i] * (1 - y[i])
	}
	grad, err := NewTensor(op.inputs[0].Shape, Float32, op.inputs[0].Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *sigmoidOp) Inputs() []*Tensor { return op.inputs }

// dropoutOp applies inverted dropout with a fixed keep mask.
type dropoutOp struct {
	inputs []*Tensor
	mask   []float32
}

func (op *dropoutOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("dropoutOp requires exactly 1 input")
	}
	op.inputs = inputs
	in := inputs[0]
	data := in.Data.([]float32)
	out := make([]float32, len(data))
	for i := range out {
		out[i] = data[i] * op.mask[i]
	}
	result, err := NewTensor(in.Shape, Float32, in.Device, out)
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = in.requiresGrad
	return result
}

func (op *dropoutOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Data.([]float32)
	out := make([]float32, len(g))
	for i := range out {
		out[i] = g[i] * op.mask[i]
	}
	grad, err := NewTensor(op.inputs[0].Shape, Float32, op.inputs[0].Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

func (op *dropoutOp) Inputs() []*Tensor { return op.inputs }

// Autograd entry points. Each builds the computational graph so that
// Backward on a downstream tensor reaches the inputs.

func AddAutograd(a, b *Tensor) *Tensor {
	op := &addOp{}
	return op.Forward(a, b)
}

func MulAutograd(a, b *Tensor) *Tensor {
	op := &mulOp{}
	return op.Forward(a, b)
}

func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &matMulOp{}
	return op.Forward(a, b)
}

func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &reshapeOp{shape: append([]int{}, shape...)}
	return op.Forward(a)
}

func SumAutograd(a *Tensor, dim int) *Tensor {
	op := &sumDimOp{dim: dim}
	return op.Forward(a)
}

func SoftmaxAutograd(a *Tensor, dim int) *Tensor {
	op := &softmaxOp{dim: dim}
	return op.Forward(a)
}

func ConcatAutograd(tensors []*Tensor, dim int) *Tensor {
	op := &concatOp{dim: dim}
	return op.Forward(tensors...)
}

// EmbeddingAutograd gathers rows of table for ids; paddingIdx never
// receives gradient.
func EmbeddingAutograd(table, ids *Tensor, paddingIdx int) *Tensor {
	op := &embeddingOp{paddingIdx: paddingIdx}
	return op.Forward(table, ids)
}

func SelectAutograd(a *Tensor, dim, index int) *Tensor {
	op := &selectOp{dim: dim, index: index}
	return op.Forward(a)
}

func TanhAutograd(a *Tensor) *Tensor {
	op := &tanhOp{}
	return op.Forward(a)
}

func SigmoidAutograd(a *Tensor) *Tensor {
	op := &sigmoidOp{}
	return op.Forward(a)
}

// DropoutAutograd zeroes each element with probability p and scales the
// survivors by 1/(1-p), drawing the keep mask from rng.
func DropoutAutograd(a *Tensor, p float64, rng *rand.Rand) *Tensor {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout probability must be in [0, 1), got %v", p))
	}
	mask := make([]float32, a.NumElems)
	scale := float32(1.0 / (1.0 - p))
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = scale
		}
	}
	op := &dropoutOp{mask: mask}
	return op.Forward(a)
}

// Backward propagates grad from t through the recorded graph,
// accumulating gradients on every reachable leaf tensor that requires
// them. A nil grad is allowed only for one-element tensors and defaults
// to 1.
func (t *Tensor) Backward(grad *Tensor) error {
	if grad == nil {
		if t.NumElems != 1 {
			return fmt.Errorf("backward without explicit gradient requires a one-element tensor, got %d elements", t.NumElems)
		}
		var err error
		grad, err = Ones(t.Shape, Float32, t.Device)
		if err != nil {
			return err
		}
	}
	if !shapesEqual(grad.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	// Topological order over the graph reachable from t.
	visited := make(map[*Tensor]bool)
	var order []*Tensor
	var visit func(*Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(t)

	grads := map[*Tensor]*Tensor{t: grad}
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		g := grads[n]
		if g == nil {
			continue
		}

		if n.creator == nil {
			if n.requiresGrad {
				if err := n.accumulateGrad(g); err != nil {
					return err
				}
			}
			continue
		}

		inputGrads := n.creator.Backward(g)
		inputs := n.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}
		for j, in := range inputs {
			ig := inputGrads[j]
			if ig == nil {
				continue
			}
			if existing := grads[in]; existing != nil {
				summed, err := Add(existing, ig)
				if err != nil {
					return fmt.Errorf("gradient accumulation failed: %v", err)
				}
				grads[in] = summed
			} else {
				grads[in] = ig
			}
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if t.grad == nil {
		zero, err := Zeros(t.Shape, Float32, t.Device)
		if err != nil {
			return err
		}
		t.grad = zero
	}
	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	if len(dst) != len(src) {
		return fmt.Errorf("gradient size %d does not match parameter size %d", len(src), len(dst))
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}
