package nn

// Forward runs x through the layers in order.
func Forward(layers []Layer, x *Tensor, training bool) *Tensor {
	out := x
	for _, l := range layers {
		out = l.Forward(out, training)
	}
	return out
}

// Backward propagates the loss gradient through the layers in reverse,
// accumulating parameter gradients along the way.
func Backward(layers []Layer, grad *Tensor) {
	g := grad
	for i := len(layers) - 1; i >= 0; i-- {
		g = layers[i].Backward(g)
	}
}

// TrainableParams counts the number of scalar parameters currently trainable.
func TrainableParams(layers []Layer) int {
	n := 0
	for _, l := range layers {
		if !l.Trainable() {
			continue
		}
		for _, p := range l.Params() {
			n += p.Value.Len()
		}
	}
	return n
}
