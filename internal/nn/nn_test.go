package nn

import (
	"math"
	"math/rand"
	"testing"
)

func TestSoftmaxCrossEntropy_UniformLogits(t *testing.T) {
	logits := NewTensor(2, 3)
	labels := []int{0, 2}

	var loss SoftmaxCrossEntropy
	mean, probs := loss.Forward(logits, labels)

	// All-zero logits give uniform probabilities and loss ln(3).
	if math.Abs(mean-math.Log(3)) > 1e-9 {
		t.Errorf("expected loss ln(3)=%.6f, got %.6f", math.Log(3), mean)
	}
	for i, p := range probs.Data {
		if math.Abs(p-1.0/3) > 1e-9 {
			t.Errorf("prob %d: expected 1/3, got %f", i, p)
		}
	}
}

func TestSoftmaxCrossEntropy_GradientRowsSumToZero(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	logits := NewTensor(4, 3)
	for i := range logits.Data {
		logits.Data[i] = rng.NormFloat64()
	}
	labels := []int{0, 1, 2, 1}

	var loss SoftmaxCrossEntropy
	loss.Forward(logits, labels)
	grad := loss.Backward()

	for n := 0; n < 4; n++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += grad.Data[n*3+j]
		}
		if math.Abs(sum) > 1e-9 {
			t.Errorf("row %d: gradient sums to %g, want 0", n, sum)
		}
	}
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1, 3, 2})

	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %f, want 1", sum)
	}
	if !(probs[1] > probs[2] && probs[2] > probs[0]) {
		t.Errorf("softmax did not preserve ordering: %v", probs)
	}
}

// numericGrad estimates dLoss/dParam[i] by central differences through the
// given forward pass.
func numericGrad(p *Param, i int, forward func() float64) float64 {
	const eps = 1e-5
	orig := p.Value.Data[i]
	p.Value.Data[i] = orig + eps
	plus := forward()
	p.Value.Data[i] = orig - eps
	minus := forward()
	p.Value.Data[i] = orig
	return (plus - minus) / (2 * eps)
}

func TestDense_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	layer := NewDense("fc", 4, 3, rng)

	x := NewTensor(2, 4)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	labels := []int{1, 2}

	forward := func() float64 {
		var loss SoftmaxCrossEntropy
		mean, _ := loss.Forward(layer.Forward(x, true), labels)
		return mean
	}

	// One analytic backward pass.
	var loss SoftmaxCrossEntropy
	loss.Forward(layer.Forward(x, true), labels)
	layer.Backward(loss.Backward())

	weight := layer.Params()[0]
	for _, i := range []int{0, 5, 11} {
		want := numericGrad(weight, i, forward)
		got := weight.Grad.Data[i]
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("weight grad %d: analytic %g, numeric %g", i, got, want)
		}
	}
}

func TestConv2D_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	conv := NewConv2D("conv", 1, 2, rng)

	x := NewTensor(1, 1, 4, 4)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}

	// Scalar loss: sum of outputs. Its gradient w.r.t. every output is 1.
	forward := func() float64 {
		out := conv.Forward(x, true)
		sum := 0.0
		for _, v := range out.Data {
			sum += v
		}
		return sum
	}

	out := conv.Forward(x, true)
	ones := NewTensor(out.Shape...)
	for i := range ones.Data {
		ones.Data[i] = 1
	}
	conv.Backward(ones)

	weight := conv.Params()[0]
	for _, i := range []int{0, 4, 9, 17} {
		want := numericGrad(weight, i, forward)
		got := weight.Grad.Data[i]
		if math.Abs(got-want) > 1e-6 {
			t.Errorf("weight grad %d: analytic %g, numeric %g", i, got, want)
		}
	}
}

func TestConv2D_OutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	conv := NewConv2D("conv", 3, 8, rng)

	out := conv.Forward(NewTensor(2, 3, 16, 16), false)

	want := []int{2, 8, 16, 16}
	for i, d := range want {
		if out.Shape[i] != d {
			t.Fatalf("dim %d: got %d, want %d", i, out.Shape[i], d)
		}
	}
}

func TestMaxPool2(t *testing.T) {
	pool := NewMaxPool2()

	x := NewTensor(1, 1, 4, 4)
	copy(x.Data, []float64{
		1, 2, 5, 3,
		4, 0, 1, 2,
		7, 1, 0, 0,
		2, 8, 3, 9,
	})

	out := pool.Forward(x, false)
	want := []float64{4, 5, 8, 9}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("pooled value %d: got %f, want %f", i, out.Data[i], v)
		}
	}

	// Backward routes each gradient to the argmax position only.
	grad := NewTensor(1, 1, 2, 2)
	copy(grad.Data, []float64{10, 20, 30, 40})
	dx := pool.Backward(grad)

	if dx.Data[4] != 10 { // value 4 at row 1 col 0
		t.Errorf("expected grad 10 at argmax of first window, got %f", dx.Data[4])
	}
	if dx.Data[2] != 20 { // value 5 at row 0 col 2
		t.Errorf("expected grad 20 at argmax of second window, got %f", dx.Data[2])
	}
	if dx.Data[13] != 30 || dx.Data[15] != 40 {
		t.Errorf("bottom windows misrouted: %v", dx.Data)
	}
}

func TestGlobalAvgPool(t *testing.T) {
	pool := NewGlobalAvgPool()

	x := NewTensor(1, 2, 2, 2)
	copy(x.Data, []float64{1, 2, 3, 4, 10, 20, 30, 40})

	out := pool.Forward(x, false)
	if out.Shape[0] != 1 || out.Shape[1] != 2 {
		t.Fatalf("unexpected output shape %v", out.Shape)
	}
	if out.Data[0] != 2.5 || out.Data[1] != 25 {
		t.Errorf("expected channel means [2.5 25], got %v", out.Data)
	}
}

func TestReLU(t *testing.T) {
	relu := NewReLU()

	x := NewTensor(1, 4)
	copy(x.Data, []float64{-1, 2, 0, 3})

	out := relu.Forward(x, true)
	want := []float64{0, 2, 0, 3}
	for i, v := range want {
		if out.Data[i] != v {
			t.Errorf("relu output %d: got %f, want %f", i, out.Data[i], v)
		}
	}

	grad := NewTensor(1, 4)
	copy(grad.Data, []float64{5, 5, 5, 5})
	dx := relu.Backward(grad)
	wantDx := []float64{0, 5, 0, 5}
	for i, v := range wantDx {
		if dx.Data[i] != v {
			t.Errorf("relu grad %d: got %f, want %f", i, dx.Data[i], v)
		}
	}
}

func TestDropout_EvalIsIdentity(t *testing.T) {
	drop := NewDropout(0.5, rand.New(rand.NewSource(2)))

	x := NewTensor(1, 100)
	for i := range x.Data {
		x.Data[i] = 1
	}

	out := drop.Forward(x, false)
	for i, v := range out.Data {
		if v != 1 {
			t.Fatalf("eval-mode dropout changed value %d: %f", i, v)
		}
	}
}

func TestDropout_TrainingScalesSurvivors(t *testing.T) {
	drop := NewDropout(0.5, rand.New(rand.NewSource(2)))

	x := NewTensor(1, 1000)
	for i := range x.Data {
		x.Data[i] = 1
	}

	out := drop.Forward(x, true)
	zeros := 0
	for _, v := range out.Data {
		switch v {
		case 0:
			zeros++
		case 2:
			// Survivors are scaled by 1/(1-rate).
		default:
			t.Fatalf("unexpected dropout output %f", v)
		}
	}
	if zeros < 400 || zeros > 600 {
		t.Errorf("expected roughly half dropped, got %d of 1000", zeros)
	}
}

func TestSGD_Step(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := NewDense("fc", 2, 2, rng)
	weight := layer.Params()[0]
	weight.Value.Data[0] = 1.0
	weight.Grad.Data[0] = 1.0

	opt := NewSGD(0.1, 0, 0)
	opt.Step([]Layer{layer}, 1.0)

	if math.Abs(weight.Value.Data[0]-0.9) > 1e-12 {
		t.Errorf("expected weight 0.9 after step, got %f", weight.Value.Data[0])
	}
	if weight.Grad.Data[0] != 0 {
		t.Errorf("expected gradient cleared after step, got %f", weight.Grad.Data[0])
	}
}

func TestSGD_FrozenLayerUntouched(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := NewDense("fc", 2, 2, rng)
	layer.SetTrainable(false)

	weight := layer.Params()[0]
	before := append([]float64(nil), weight.Value.Data...)
	for i := range weight.Grad.Data {
		weight.Grad.Data[i] = 5
	}

	opt := NewSGD(0.1, 0.9, 0)
	opt.Step([]Layer{layer}, 1.0)

	for i, v := range weight.Value.Data {
		if v != before[i] {
			t.Fatalf("frozen weight %d changed: %f -> %f", i, before[i], v)
		}
	}
	if weight.Grad.Data[0] != 0 {
		t.Errorf("frozen layer gradients should still be cleared, got %f", weight.Grad.Data[0])
	}
}

func TestSGD_LRScale(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	layer := NewDense("fc", 1, 1, rng)
	weight := layer.Params()[0]
	weight.Value.Data[0] = 1.0
	weight.Grad.Data[0] = 1.0

	opt := NewSGD(0.1, 0, 0)
	opt.Step([]Layer{layer}, 0.1)

	if math.Abs(weight.Value.Data[0]-0.99) > 1e-12 {
		t.Errorf("expected weight 0.99 with scaled lr, got %f", weight.Value.Data[0])
	}
}
