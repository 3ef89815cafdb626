package nn

import (
	"math"
	"math/rand"
)

// Param is a single trainable parameter tensor with its gradient.
type Param struct {
	Value *Tensor
	Grad  *Tensor
}

// newParam allocates a parameter and a matching zero gradient.
func newParam(shape ...int) *Param {
	return &Param{
		Value: NewTensor(shape...),
		Grad:  NewTensor(shape...),
	}
}

// ZeroGrad resets the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad.Data {
		p.Grad.Data[i] = 0
	}
}

// Layer is one stage of the network. Forward consumes the previous layer's
// output; Backward consumes the gradient of the loss with respect to this
// layer's output and returns the gradient with respect to its input.
// Layers must retain whatever forward state Backward needs.
type Layer interface {
	Name() string
	Forward(x *Tensor, training bool) *Tensor
	Backward(grad *Tensor) *Tensor
	Params() []*Param
	SetTrainable(trainable bool)
	Trainable() bool
}

// baseLayer carries the trainability flag shared by all layers.
type baseLayer struct {
	trainable bool
}

func (b *baseLayer) SetTrainable(trainable bool) { b.trainable = trainable }
func (b *baseLayer) Trainable() bool             { return b.trainable }

// heInit fills a parameter with He-normal initialized values, the standard
// choice for layers followed by ReLU. fanIn is the number of inputs feeding
// each output unit.
func heInit(p *Param, fanIn int, rng *rand.Rand) {
	std := 1.0
	if fanIn > 0 {
		std = math.Sqrt(2.0 / float64(fanIn))
	}
	for i := range p.Value.Data {
		p.Value.Data[i] = rng.NormFloat64() * std
	}
}
