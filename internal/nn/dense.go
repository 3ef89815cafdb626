package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense is a fully connected layer over [B, In] inputs.
type Dense struct {
	baseLayer
	name   string
	in     int
	out    int
	weight *Param // [in, out]
	bias   *Param // [out]
	lastIn *Tensor
}

// NewDense creates a fully connected layer with He-initialized weights.
func NewDense(name string, in, out int, rng *rand.Rand) *Dense {
	d := &Dense{
		name:   name,
		in:     in,
		out:    out,
		weight: newParam(in, out),
		bias:   newParam(out),
	}
	d.trainable = true
	heInit(d.weight, in, rng)
	return d
}

func (d *Dense) Name() string     { return d.name }
func (d *Dense) Params() []*Param { return []*Param{d.weight, d.bias} }

// Forward computes x*W + b for a [B, in] batch.
func (d *Dense) Forward(x *Tensor, training bool) *Tensor {
	if len(x.Shape) != 2 || x.Shape[1] != d.in {
		panic(fmt.Sprintf("dense %s: bad input shape %v, want [B, %d]", d.name, x.Shape, d.in))
	}
	d.lastIn = x

	b := x.Shape[0]
	xm := mat.NewDense(b, d.in, x.Data)
	wm := mat.NewDense(d.in, d.out, d.weight.Value.Data)

	out := NewTensor(b, d.out)
	om := mat.NewDense(b, d.out, out.Data)
	om.Mul(xm, wm)

	for n := 0; n < b; n++ {
		for j := 0; j < d.out; j++ {
			out.Data[n*d.out+j] += d.bias.Value.Data[j]
		}
	}
	return out
}

// Backward accumulates dW = Xᵀ·dY and db, and returns dX = dY·Wᵀ.
func (d *Dense) Backward(grad *Tensor) *Tensor {
	b := d.lastIn.Shape[0]
	xm := mat.NewDense(b, d.in, d.lastIn.Data)
	gm := mat.NewDense(b, d.out, grad.Data)
	wm := mat.NewDense(d.in, d.out, d.weight.Value.Data)

	dw := mat.NewDense(d.in, d.out, nil)
	dw.Mul(xm.T(), gm)
	for i := range d.weight.Grad.Data {
		d.weight.Grad.Data[i] += dw.RawMatrix().Data[i]
	}

	for n := 0; n < b; n++ {
		for j := 0; j < d.out; j++ {
			d.bias.Grad.Data[j] += grad.Data[n*d.out+j]
		}
	}

	dx := NewTensor(b, d.in)
	dxm := mat.NewDense(b, d.in, dx.Data)
	dxm.Mul(gm, wm.T())
	return dx
}

// ReLU applies max(0, x) elementwise.
type ReLU struct {
	baseLayer
	mask []bool
}

// NewReLU creates a ReLU activation layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

func (r *ReLU) Name() string     { return "relu" }
func (r *ReLU) Params() []*Param { return nil }

func (r *ReLU) Forward(x *Tensor, training bool) *Tensor {
	out := NewTensor(x.Shape...)
	r.mask = make([]bool, x.Len())
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
			r.mask[i] = true
		}
	}
	return out
}

func (r *ReLU) Backward(grad *Tensor) *Tensor {
	dx := NewTensor(grad.Shape...)
	for i, pass := range r.mask {
		if pass {
			dx.Data[i] = grad.Data[i]
		}
	}
	return dx
}

// Dropout zeroes a fraction of activations during training, scaling the
// survivors so the expected activation is unchanged (inverted dropout).
// It is the identity outside training.
type Dropout struct {
	baseLayer
	rate float64
	rng  *rand.Rand
	mask []float64
}

// NewDropout creates a dropout layer with the given drop rate in [0, 1).
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	return &Dropout{rate: rate, rng: rng}
}

func (d *Dropout) Name() string     { return "dropout" }
func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Forward(x *Tensor, training bool) *Tensor {
	if !training || d.rate <= 0 {
		d.mask = nil
		return x
	}
	out := NewTensor(x.Shape...)
	d.mask = make([]float64, x.Len())
	scale := 1.0 / (1.0 - d.rate)
	for i, v := range x.Data {
		if d.rng.Float64() >= d.rate {
			d.mask[i] = scale
			out.Data[i] = v * scale
		}
	}
	return out
}

func (d *Dropout) Backward(grad *Tensor) *Tensor {
	if d.mask == nil {
		return grad
	}
	dx := NewTensor(grad.Shape...)
	for i, m := range d.mask {
		dx.Data[i] = grad.Data[i] * m
	}
	return dx
}
