package model

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/ayusman/mudra/internal/nn"
)

func testConfig() Config {
	return Config{
		InputSize:   16,
		Labels:      []string{"rock", "paper", "scissors"},
		DropoutRate: 0.2,
	}
}

func buildModel(t *testing.T) *Model {
	t.Helper()
	m, err := Build(testConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return m
}

func randomInput(size int, seed int64) *nn.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := nn.NewTensor(1, 3, size, size)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return x
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.InputSize = 4
	if err := bad.Validate(); err == nil {
		t.Error("expected error for input size below pooling depth")
	}

	bad = cfg
	bad.Labels = []string{"only"}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for single label")
	}

	bad = cfg
	bad.DropoutRate = 1.0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for dropout rate 1.0")
	}
}

func TestModel_ClassifyDistribution(t *testing.T) {
	m := buildModel(t)

	pred, err := m.Classify(randomInput(16, 2))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if len(pred.Probs) != 3 {
		t.Fatalf("expected 3 probabilities, got %d", len(pred.Probs))
	}
	sum := 0.0
	for _, p := range pred.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %f, want 1", sum)
	}
	if pred.Class < 0 || pred.Class > 2 {
		t.Errorf("class index out of range: %d", pred.Class)
	}
	if pred.Label != m.Labels()[pred.Class] {
		t.Errorf("label %q does not match class %d", pred.Label, pred.Class)
	}
	if math.Abs(pred.Confidence-pred.Probs[pred.Class]) > 1e-12 {
		t.Errorf("confidence %f does not match argmax prob %f", pred.Confidence, pred.Probs[pred.Class])
	}
}

func TestModel_ClassifyWrongSize(t *testing.T) {
	m := buildModel(t)

	if _, err := m.Classify(randomInput(8, 1)); err == nil {
		t.Fatal("expected error for wrong input resolution")
	}
}

func TestModel_FreezeUnfreeze(t *testing.T) {
	m := buildModel(t)

	countTrainable := func() int {
		n := 0
		for _, layer := range m.Layers() {
			if len(layer.Params()) > 0 && layer.Trainable() {
				n++
			}
		}
		return n
	}

	all := countTrainable()
	if all == 0 {
		t.Fatal("freshly built model has no trainable layers")
	}

	m.Freeze()
	frozen := countTrainable()
	// Only the dense head stays trainable after a freeze.
	if frozen != 1 {
		t.Errorf("expected 1 trainable layer after Freeze, got %d", frozen)
	}

	m.Unfreeze(1)
	partial := countTrainable()
	if partial <= frozen || partial >= all {
		t.Errorf("expected partial unfreeze between %d and %d, got %d", frozen, all, partial)
	}
}

func TestCheckpoint_Roundtrip(t *testing.T) {
	m := buildModel(t)
	path := filepath.Join(t.TempDir(), "best.ckpt")

	input := randomInput(16, 7)
	before, err := m.Classify(input)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	after, err := loaded.Classify(input)
	if err != nil {
		t.Fatalf("Classify on loaded model failed: %v", err)
	}

	// The loaded model must reproduce the saved model's outputs exactly.
	for i := range before.Probs {
		if before.Probs[i] != after.Probs[i] {
			t.Fatalf("prob %d differs after roundtrip: %v vs %v", i, before.Probs[i], after.Probs[i])
		}
	}
}

func TestCheckpoint_LabelOrderMismatch(t *testing.T) {
	m := buildModel(t)
	path := filepath.Join(t.TempDir(), "best.ckpt")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	meta, err := PeekMetadata(path)
	if err != nil {
		t.Fatalf("PeekMetadata failed: %v", err)
	}

	// Same labels in a different order must be rejected, not remapped.
	err = meta.Compatible([]string{"paper", "rock", "scissors"}, 16)
	if !errors.Is(err, ErrCheckpointIncompatible) {
		t.Fatalf("expected ErrCheckpointIncompatible, got %v", err)
	}

	if err := meta.Compatible([]string{"rock", "paper", "scissors"}, 32); !errors.Is(err, ErrCheckpointIncompatible) {
		t.Fatalf("expected ErrCheckpointIncompatible for resolution mismatch, got %v", err)
	}

	if err := meta.Compatible([]string{"rock", "paper", "scissors"}, 16); err != nil {
		t.Fatalf("matching metadata rejected: %v", err)
	}
}

func TestCheckpoint_LoadMissingFile(t *testing.T) {
	if _, err := LoadCheckpoint(filepath.Join(t.TempDir(), "absent.ckpt")); err == nil {
		t.Fatal("expected error loading a missing checkpoint")
	}
}

func TestRestoreBackbone(t *testing.T) {
	source := buildModel(t)
	path := filepath.Join(t.TempDir(), "pretrained.ckpt")
	if err := source.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target, err := Build(testConfig(), rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := target.RestoreBackbone(path); err != nil {
		t.Fatalf("RestoreBackbone failed: %v", err)
	}

	// Backbone weights must now match the source exactly.
	srcLayers := source.Layers()
	dstLayers := target.Layers()
	restored := 0
	for i := range srcLayers {
		sp, dp := srcLayers[i].Params(), dstLayers[i].Params()
		if len(sp) == 0 {
			continue
		}
		if srcLayers[i].Name() == "scores" {
			continue
		}
		for j := range sp {
			for k := range sp[j].Value.Data {
				if sp[j].Value.Data[k] != dp[j].Value.Data[k] {
					t.Fatalf("layer %s param %d value %d not restored", srcLayers[i].Name(), j, k)
				}
			}
		}
		restored++
	}
	if restored == 0 {
		t.Fatal("no backbone layers were compared")
	}
}

func TestBuild_SeedDeterminism(t *testing.T) {
	a, err := Build(testConfig(), rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := Build(testConfig(), rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	input := randomInput(16, 3)
	pa, _ := a.Classify(input)
	pb, _ := b.Classify(input)
	for i := range pa.Probs {
		if pa.Probs[i] != pb.Probs[i] {
			t.Fatalf("same-seed builds disagree at prob %d", i)
		}
	}
}
