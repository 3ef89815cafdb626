// Package model assembles the gesture classifier: a small convolutional
// backbone, global average pooling, dropout and a dense classification head.
// The backbone can be initialized from a pretrained checkpoint and frozen or
// partially unfrozen for fine-tuning.
package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/ayusman/mudra/internal/nn"
)

// ErrCheckpointIncompatible is returned when a checkpoint's label set, label
// order, input resolution or backbone does not match what the caller expects.
// Callers must not fall back to a mismatched model.
var ErrCheckpointIncompatible = errors.New("checkpoint incompatible")

// BackboneID identifies the native convolutional backbone architecture.
const BackboneID = "mudranet-v1"

// backbone channel progression; each block halves the spatial resolution.
var blockChannels = []int{8, 16, 32}

// Config describes the classifier to build.
type Config struct {
	InputSize   int      // square input resolution in pixels
	Labels      []string // class labels in index order, fixed at build time
	DropoutRate float64
}

// Validate checks the build configuration.
func (c Config) Validate() error {
	if c.InputSize < 1<<len(blockChannels) {
		return fmt.Errorf("model: input size %d too small for %d pooling stages", c.InputSize, len(blockChannels))
	}
	if len(c.Labels) < 2 {
		return fmt.Errorf("model: need at least 2 labels, got %d", len(c.Labels))
	}
	if c.DropoutRate < 0 || c.DropoutRate >= 1 {
		return fmt.Errorf("model: dropout rate %.2f out of [0, 1)", c.DropoutRate)
	}
	return nil
}

// Metadata is the architecture description stored in every checkpoint. The
// inference side validates it before loading any weights.
type Metadata struct {
	FormatVersion int
	Backbone      string
	InputSize     int
	Labels        []string
}

// Compatible reports whether a checkpoint produced with this metadata can be
// used by a caller expecting the given label ordering and input resolution.
func (m Metadata) Compatible(labels []string, inputSize int) error {
	if m.InputSize != inputSize {
		return fmt.Errorf("%w: input size %d, want %d", ErrCheckpointIncompatible, m.InputSize, inputSize)
	}
	if len(m.Labels) != len(labels) {
		return fmt.Errorf("%w: %d labels, want %d", ErrCheckpointIncompatible, len(m.Labels), len(labels))
	}
	for i, l := range labels {
		if m.Labels[i] != l {
			return fmt.Errorf("%w: label %d is %q, want %q", ErrCheckpointIncompatible, i, m.Labels[i], l)
		}
	}
	return nil
}

// Prediction is a probability distribution over the label set for one input,
// plus the arg-max class and its confidence.
type Prediction struct {
	Probs      []float64
	Class      int
	Label      string
	Confidence float64
}

// Classifier is anything that can score a preprocessed frame. Both the
// native model and the ONNX-backed classifier implement it.
type Classifier interface {
	Labels() []string
	InputSize() int
	Classify(t *nn.Tensor) (Prediction, error)
	Close() error
}

// Model is the native trainable classifier.
type Model struct {
	meta   Metadata
	blocks [][]nn.Layer // backbone blocks, bottom-up
	head   []nn.Layer   // pooling, dropout, dense scores
}

// Build constructs a classifier with freshly initialized weights drawn from
// rng. The model starts fully trainable; call Freeze before warmup training.
func Build(cfg Config, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		meta: Metadata{
			FormatVersion: checkpointFormatVersion,
			Backbone:      BackboneID,
			InputSize:     cfg.InputSize,
			Labels:        append([]string(nil), cfg.Labels...),
		},
	}

	inC := 3
	for i, outC := range blockChannels {
		block := []nn.Layer{
			nn.NewConv2D(fmt.Sprintf("conv%d", i+1), inC, outC, rng),
			nn.NewReLU(),
			nn.NewMaxPool2(),
		}
		m.blocks = append(m.blocks, block)
		inC = outC
	}

	features := blockChannels[len(blockChannels)-1]
	m.head = []nn.Layer{
		nn.NewGlobalAvgPool(),
		nn.NewDropout(cfg.DropoutRate, rng),
		nn.NewDense("scores", features, len(cfg.Labels), rng),
	}
	return m, nil
}

// Metadata returns the architecture metadata.
func (m *Model) Metadata() Metadata { return m.meta }

// Labels returns the label set in index order.
func (m *Model) Labels() []string { return m.meta.Labels }

// InputSize returns the square input resolution.
func (m *Model) InputSize() int { return m.meta.InputSize }

// Layers returns all layers bottom-up, backbone then head.
func (m *Model) Layers() []nn.Layer {
	var all []nn.Layer
	for _, b := range m.blocks {
		all = append(all, b...)
	}
	return append(all, m.head...)
}

// Freeze fixes every backbone parameter; only the head trains.
func (m *Model) Freeze() {
	m.setBackboneTrainable(0)
}

// Unfreeze makes the top n backbone blocks trainable for fine-tuning.
// n <= 0 keeps the backbone frozen; n >= the block count unfreezes all of it.
func (m *Model) Unfreeze(n int) {
	if n > len(m.blocks) {
		n = len(m.blocks)
	}
	m.setBackboneTrainable(n)
}

func (m *Model) setBackboneTrainable(topN int) {
	cut := len(m.blocks) - topN
	for i, block := range m.blocks {
		for _, l := range block {
			l.SetTrainable(i >= cut)
		}
	}
	for _, l := range m.head {
		l.SetTrainable(true)
	}
}

// Forward runs a [B, 3, S, S] batch through the network and returns logits.
func (m *Model) Forward(x *nn.Tensor, training bool) *nn.Tensor {
	return nn.Forward(m.Layers(), x, training)
}

// Backward propagates the loss gradient through the whole network.
func (m *Model) Backward(grad *nn.Tensor) {
	nn.Backward(m.Layers(), grad)
}

// Classify scores a single preprocessed frame.
func (m *Model) Classify(t *nn.Tensor) (Prediction, error) {
	want := 3 * m.meta.InputSize * m.meta.InputSize
	if t.Len() != want {
		return Prediction{}, fmt.Errorf("model: input has %d values, want %d", t.Len(), want)
	}
	logits := m.Forward(t, false)
	return fromProbs(nn.Softmax(logits.Data), m.meta.Labels), nil
}

// Close implements Classifier; the native model holds no external resources.
func (m *Model) Close() error { return nil }

// fromProbs builds a Prediction from a probability vector.
func fromProbs(probs []float64, labels []string) Prediction {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return Prediction{
		Probs:      probs,
		Class:      best,
		Label:      labels[best],
		Confidence: probs[best],
	}
}
