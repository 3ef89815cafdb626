package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ayusman/mudra/internal/nn"
)

// ONNXMetadata is the JSON sidecar describing an exported ONNX model.
type ONNXMetadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Labels      []string `json:"labels"`
	ImageSize   int      `json:"image_size"`
}

// ONNXClassifier runs inference through an ONNX Runtime session. It covers
// models trained and exported elsewhere (the embedded device ships one); it
// is not trainable. It implements Classifier.
type ONNXClassifier struct {
	session      *ort.AdvancedSession
	meta         ONNXMetadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXClassifier loads an exported model plus its metadata sidecar and
// validates the label set against the expected ordering. A mismatch fails
// with ErrCheckpointIncompatible before any inference runs.
func NewONNXClassifier(modelPath, metadataPath string, expectLabels []string) (*ONNXClassifier, error) {
	raw, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("model: reading onnx metadata: %w", err)
	}
	var meta ONNXMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("model: parsing onnx metadata: %w", err)
	}

	if len(expectLabels) > 0 {
		shim := Metadata{InputSize: meta.ImageSize, Labels: meta.Labels}
		if err := shim.Compatible(expectLabels, meta.ImageSize); err != nil {
			return nil, err
		}
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("model: initializing onnx runtime: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("model: creating input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("model: creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("model: creating onnx session: %w", err)
	}

	return &ONNXClassifier{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Labels returns the label set in index order.
func (c *ONNXClassifier) Labels() []string { return c.meta.Labels }

// InputSize returns the square input resolution.
func (c *ONNXClassifier) InputSize() int { return c.meta.ImageSize }

// Classify runs one forward pass. The input tensor must match the model's
// declared input shape.
func (c *ONNXClassifier) Classify(t *nn.Tensor) (Prediction, error) {
	in := c.inputTensor.GetData()
	if t.Len() != len(in) {
		return Prediction{}, fmt.Errorf("model: onnx input has %d values, want %d", t.Len(), len(in))
	}
	copy(in, t.Float32())

	if err := c.session.Run(); err != nil {
		return Prediction{}, fmt.Errorf("model: onnx inference: %w", err)
	}

	out := c.outputTensor.GetData()
	scores := make([]float64, len(out))
	for i, v := range out {
		scores[i] = float64(v)
	}
	return fromProbs(normalizeScores(scores), c.meta.Labels), nil
}

// Close destroys the session and its tensors.
func (c *ONNXClassifier) Close() error {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	return nil
}

// normalizeScores passes through outputs that are already a probability
// distribution and applies softmax to raw logits.
func normalizeScores(scores []float64) []float64 {
	sum := 0.0
	for _, v := range scores {
		if v < 0 || v > 1 {
			return nn.Softmax(scores)
		}
		sum += v
	}
	if math.Abs(sum-1) > 0.01 {
		return nn.Softmax(scores)
	}
	return scores
}
