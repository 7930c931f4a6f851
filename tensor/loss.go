package tensor

import (
	"fmt"
	"math"
)

// crossEntropyOp fuses softmax and negative log likelihood with mean
// reduction over the batch. Working from logits keeps the backward pass
// numerically stable: the gradient is (softmax - onehot) / batch.
type crossEntropyOp struct {
	inputs []*Tensor
	probs  []float32
	batch  int
	labels []int32
}

func (op *crossEntropyOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("crossEntropyOp requires exactly 2 inputs")
	}
	op.inputs = inputs
	logits, labels := inputs[0], inputs[1]
	if len(logits.Shape) != 2 {
		panic(fmt.Sprintf("cross entropy expects 2D logits, got shape %v", logits.Shape))
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	if len(labels.Shape) != 1 || labels.Shape[0] != batch {
		panic(fmt.Sprintf("label shape %v does not match logits shape %v", labels.Shape, logits.Shape))
	}
	if labels.DType != Int32 {
		panic("cross entropy expects Int32 labels")
	}

	logitData := logits.Data.([]float32)
	labelData := labels.Data.([]int32)

	op.batch = batch
	op.labels = labelData
	op.probs = make([]float32, batch*classes)

	var total float64
	for b := 0; b < batch; b++ {
		row := logitData[b*classes : (b+1)*classes]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for c, v := range row {
			e := math.Exp(float64(v - maxVal))
			op.probs[b*classes+c] = float32(e)
			sum += e
		}
		for c := range row {
			op.probs[b*classes+c] /= float32(sum)
		}

		label := labelData[b]
		if label < 0 || int(label) >= classes {
			panic(fmt.Sprintf("label %d out of range [0, %d)", label, classes))
		}
		p := float64(op.probs[b*classes+int(label)])
		if p < 1e-45 {
			p = 1e-45
		}
		total -= math.Log(p)
	}

	result, err := NewTensor([]int{1}, Float32, logits.Device, []float32{float32(total / float64(batch))})
	if err != nil {
		panic(fmt.Sprintf("forward pass failed: %v", err))
	}
	result.creator = op
	result.requiresGrad = logits.requiresGrad
	return result
}

func (op *crossEntropyOp) Backward(gradOut *Tensor) []*Tensor {
	logits := op.inputs[0]
	classes := logits.Shape[1]
	scale := gradOut.Data.([]float32)[0] / float32(op.batch)

	out := make([]float32, op.batch*classes)
	copy(out, op.probs)
	for b := 0; b < op.batch; b++ {
		out[b*classes+int(op.labels[b])] -= 1
	}
	for i := range out {
		out[i] *= scale
	}

	grad, err := NewTensor(logits.Shape, Float32, logits.Device, out)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	// Labels are discrete and receive no gradient.
	return []*Tensor{grad, nil}
}

func (op *crossEntropyOp) Inputs() []*Tensor { return op.inputs }

// CrossEntropyAutograd computes mean cross entropy between [batch,
// classes] logits and [batch] Int32 class labels as a one-element
// tensor wired into the autograd graph.
func CrossEntropyAutograd(logits, labels *Tensor) *Tensor {
	op := &crossEntropyOp{}
	return op.Forward(logits, labels)
}
