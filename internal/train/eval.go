package train

import (
	"fmt"
	"os"

	"github.com/montanaflynn/stats"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/preprocess"
)

// Evaluation holds held-out test metrics for one classifier.
type Evaluation struct {
	Accuracy       float64
	Confusion      [][]int // [actual][predicted]
	PerClassRecall []float64
	MeanConfidence float64
	StdConfidence  float64
	Samples        int
}

// Evaluate scores every labeled image through the classifier, one image at a
// time through the exact classify path live inference uses, so offline and
// live numbers can never disagree for the same checkpoint and split.
func Evaluate(clf model.Classifier, pre *preprocess.Preprocessor, images []dataset.LabeledImage) (*Evaluation, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("train: nothing to evaluate")
	}

	classes := len(clf.Labels())
	confusion := make([][]int, classes)
	for i := range confusion {
		confusion[i] = make([]int, classes)
	}

	correct := 0
	confidences := make([]float64, 0, len(images))
	for _, img := range images {
		data, err := os.ReadFile(img.Path)
		if err != nil {
			return nil, fmt.Errorf("train: reading %q: %w", img.Path, err)
		}
		t, err := pre.Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("train: preprocessing %q: %w", img.Path, err)
		}
		pred, err := clf.Classify(t)
		if err != nil {
			return nil, fmt.Errorf("train: classifying %q: %w", img.Path, err)
		}

		confusion[img.Class][pred.Class]++
		if pred.Class == img.Class {
			correct++
		}
		confidences = append(confidences, pred.Confidence)
	}

	recall := make([]float64, classes)
	for i := range confusion {
		total := 0
		for _, n := range confusion[i] {
			total += n
		}
		if total > 0 {
			recall[i] = float64(confusion[i][i]) / float64(total)
		}
	}

	mean, err := stats.Mean(confidences)
	if err != nil {
		return nil, err
	}
	std, err := stats.StandardDeviation(confidences)
	if err != nil {
		return nil, err
	}

	return &Evaluation{
		Accuracy:       float64(correct) / float64(len(images)),
		Confusion:      confusion,
		PerClassRecall: recall,
		MeanConfidence: mean,
		StdConfidence:  std,
		Samples:        len(images),
	}, nil
}
