package nn

import "math"

// SoftmaxCrossEntropy is the fused softmax + categorical cross-entropy loss.
// Fusing the two keeps the backward pass numerically trivial: the gradient of
// the loss with respect to the logits is (probs - onehot) / batch.
type SoftmaxCrossEntropy struct {
	probs  *Tensor
	labels []int
}

// Forward computes class probabilities and the mean cross-entropy loss for a
// [B, L] logits batch against integer labels.
func (l *SoftmaxCrossEntropy) Forward(logits *Tensor, labels []int) (float64, *Tensor) {
	b, classes := logits.Shape[0], logits.Shape[1]
	probs := NewTensor(b, classes)

	loss := 0.0
	for n := 0; n < b; n++ {
		row := logits.Data[n*classes : (n+1)*classes]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		sum := 0.0
		for j, v := range row {
			e := math.Exp(v - maxV)
			probs.Data[n*classes+j] = e
			sum += e
		}
		for j := 0; j < classes; j++ {
			probs.Data[n*classes+j] /= sum
		}
		p := probs.Data[n*classes+labels[n]]
		loss -= math.Log(math.Max(p, 1e-12))
	}

	l.probs = probs
	l.labels = labels
	return loss / float64(b), probs
}

// Backward returns the gradient of the mean loss with respect to the logits.
func (l *SoftmaxCrossEntropy) Backward() *Tensor {
	b, classes := l.probs.Shape[0], l.probs.Shape[1]
	grad := NewTensor(b, classes)
	inv := 1.0 / float64(b)
	for n := 0; n < b; n++ {
		for j := 0; j < classes; j++ {
			g := l.probs.Data[n*classes+j]
			if j == l.labels[n] {
				g -= 1
			}
			grad.Data[n*classes+j] = g * inv
		}
	}
	return grad
}

// Softmax converts a single logits vector into a probability distribution.
// Used on the inference path where no loss is involved.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
