package nn

// SGD is a stochastic gradient descent optimizer with classical momentum.
// Frozen layers keep their velocity but are never updated, so unfreezing a
// layer mid-run starts it from a clean slate.
type SGD struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	velocity map[*Param][]float64
}

// NewSGD creates an optimizer with the given base learning rate.
func NewSGD(lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		LearningRate: lr,
		Momentum:     momentum,
		WeightDecay:  weightDecay,
		velocity:     make(map[*Param][]float64),
	}
}

// Step applies one update to every trainable layer and clears all gradients.
// lrScale multiplies the base learning rate; fine-tuning passes a reduction
// factor here.
func (s *SGD) Step(layers []Layer, lrScale float64) {
	lr := s.LearningRate * lrScale
	for _, layer := range layers {
		params := layer.Params()
		if !layer.Trainable() {
			for _, p := range params {
				p.ZeroGrad()
			}
			continue
		}
		for _, p := range params {
			v, ok := s.velocity[p]
			if !ok {
				v = make([]float64, p.Value.Len())
				s.velocity[p] = v
			}
			for i := range p.Value.Data {
				g := p.Grad.Data[i] + s.WeightDecay*p.Value.Data[i]
				v[i] = s.Momentum*v[i] - lr*g
				p.Value.Data[i] += v[i]
			}
			p.ZeroGrad()
		}
	}
}
