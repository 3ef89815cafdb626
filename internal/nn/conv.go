package nn

import (
	"fmt"
	"math/rand"
)

// Conv2D is a 3x3 convolution with stride 1 and same padding.
// Input and output are NCHW tensors; spatial size is preserved.
type Conv2D struct {
	baseLayer
	name    string
	inC     int
	outC    int
	weight  *Param // [outC, inC, 3, 3]
	bias    *Param // [outC]
	lastIn  *Tensor
}

const convKernel = 3

// NewConv2D creates a 3x3 same-padded convolution with He-initialized weights.
func NewConv2D(name string, inC, outC int, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		name:   name,
		inC:    inC,
		outC:   outC,
		weight: newParam(outC, inC, convKernel, convKernel),
		bias:   newParam(outC),
	}
	c.trainable = true
	heInit(c.weight, inC*convKernel*convKernel, rng)
	return c
}

func (c *Conv2D) Name() string     { return c.name }
func (c *Conv2D) Params() []*Param { return []*Param{c.weight, c.bias} }

// Forward computes the convolution over a [B, inC, H, W] batch.
func (c *Conv2D) Forward(x *Tensor, training bool) *Tensor {
	if len(x.Shape) != 4 || x.Shape[1] != c.inC {
		panic(fmt.Sprintf("conv2d %s: bad input shape %v, want [B, %d, H, W]", c.name, x.Shape, c.inC))
	}
	c.lastIn = x

	b, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	out := NewTensor(b, c.outC, h, w)
	pad := convKernel / 2

	for n := 0; n < b; n++ {
		for oc := 0; oc < c.outC; oc++ {
			bias := c.bias.Value.Data[oc]
			for oy := 0; oy < h; oy++ {
				for ox := 0; ox < w; ox++ {
					sum := bias
					for ic := 0; ic < c.inC; ic++ {
						for ky := 0; ky < convKernel; ky++ {
							iy := oy + ky - pad
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < convKernel; kx++ {
								ix := ox + kx - pad
								if ix < 0 || ix >= w {
									continue
								}
								wv := c.weight.Value.Data[((oc*c.inC+ic)*convKernel+ky)*convKernel+kx]
								xv := x.Data[((n*c.inC+ic)*h+iy)*w+ix]
								sum += wv * xv
							}
						}
					}
					out.Data[((n*c.outC+oc)*h+oy)*w+ox] = sum
				}
			}
		}
	}
	return out
}

// Backward accumulates weight and bias gradients and returns the gradient
// with respect to the input batch.
func (c *Conv2D) Backward(grad *Tensor) *Tensor {
	x := c.lastIn
	b, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	dx := NewTensor(x.Shape...)
	pad := convKernel / 2

	for n := 0; n < b; n++ {
		for oc := 0; oc < c.outC; oc++ {
			for oy := 0; oy < h; oy++ {
				for ox := 0; ox < w; ox++ {
					g := grad.Data[((n*c.outC+oc)*h+oy)*w+ox]
					if g == 0 {
						continue
					}
					c.bias.Grad.Data[oc] += g
					for ic := 0; ic < c.inC; ic++ {
						for ky := 0; ky < convKernel; ky++ {
							iy := oy + ky - pad
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < convKernel; kx++ {
								ix := ox + kx - pad
								if ix < 0 || ix >= w {
									continue
								}
								wIdx := ((oc*c.inC+ic)*convKernel+ky)*convKernel + kx
								xIdx := ((n*c.inC+ic)*h+iy)*w + ix
								c.weight.Grad.Data[wIdx] += g * x.Data[xIdx]
								dx.Data[xIdx] += g * c.weight.Value.Data[wIdx]
							}
						}
					}
				}
			}
		}
	}
	return dx
}

// MaxPool2 is a 2x2 max pooling layer with stride 2.
// Odd trailing rows/columns are dropped.
type MaxPool2 struct {
	baseLayer
	inShape []int
	argmax  []int
}

// NewMaxPool2 creates a 2x2/stride-2 max pooling layer.
func NewMaxPool2() *MaxPool2 {
	return &MaxPool2{}
}

func (p *MaxPool2) Name() string     { return "maxpool2" }
func (p *MaxPool2) Params() []*Param { return nil }

func (p *MaxPool2) Forward(x *Tensor, training bool) *Tensor {
	b, ch, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := h/2, w/2
	out := NewTensor(b, ch, oh, ow)
	p.inShape = append([]int(nil), x.Shape...)
	p.argmax = make([]int, out.Len())

	for n := 0; n < b; n++ {
		for c := 0; c < ch; c++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					best := -1
					bestV := 0.0
					for ky := 0; ky < 2; ky++ {
						for kx := 0; kx < 2; kx++ {
							idx := ((n*ch+c)*h+oy*2+ky)*w + ox*2 + kx
							if best < 0 || x.Data[idx] > bestV {
								best = idx
								bestV = x.Data[idx]
							}
						}
					}
					oIdx := ((n*ch+c)*oh+oy)*ow + ox
					out.Data[oIdx] = bestV
					p.argmax[oIdx] = best
				}
			}
		}
	}
	return out
}

func (p *MaxPool2) Backward(grad *Tensor) *Tensor {
	dx := NewTensor(p.inShape...)
	for i, src := range p.argmax {
		dx.Data[src] += grad.Data[i]
	}
	return dx
}

// GlobalAvgPool reduces [B, C, H, W] to [B, C] by spatial averaging.
type GlobalAvgPool struct {
	baseLayer
	inShape []int
}

// NewGlobalAvgPool creates a global average pooling layer.
func NewGlobalAvgPool() *GlobalAvgPool {
	return &GlobalAvgPool{}
}

func (p *GlobalAvgPool) Name() string     { return "gap" }
func (p *GlobalAvgPool) Params() []*Param { return nil }

func (p *GlobalAvgPool) Forward(x *Tensor, training bool) *Tensor {
	b, ch, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	p.inShape = append([]int(nil), x.Shape...)
	out := NewTensor(b, ch)
	area := float64(h * w)
	for n := 0; n < b; n++ {
		for c := 0; c < ch; c++ {
			sum := 0.0
			base := ((n*ch + c) * h) * w
			for i := 0; i < h*w; i++ {
				sum += x.Data[base+i]
			}
			out.Data[n*ch+c] = sum / area
		}
	}
	return out
}

func (p *GlobalAvgPool) Backward(grad *Tensor) *Tensor {
	b, ch, h, w := p.inShape[0], p.inShape[1], p.inShape[2], p.inShape[3]
	dx := NewTensor(p.inShape...)
	area := float64(h * w)
	for n := 0; n < b; n++ {
		for c := 0; c < ch; c++ {
			g := grad.Data[n*ch+c] / area
			base := ((n*ch + c) * h) * w
			for i := 0; i < h*w; i++ {
				dx.Data[base+i] = g
			}
		}
	}
	return dx
}
