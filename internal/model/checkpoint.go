package model

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
)

// checkpointFormatVersion is bumped whenever the on-disk layout changes.
const checkpointFormatVersion = 1

// checkpointFile is the gob-encoded on-disk representation: architecture
// metadata plus every parameter tensor keyed by layer name.
type checkpointFile struct {
	Meta   Metadata
	Params map[string][][]float64
}

// Save writes the model's metadata and all parameters to path. The file is
// written to a temp name and renamed so a crash never leaves a torn
// checkpoint behind.
func (m *Model) Save(path string) error {
	cf := checkpointFile{
		Meta:   m.meta,
		Params: make(map[string][][]float64),
	}
	for _, layer := range m.Layers() {
		params := layer.Params()
		if len(params) == 0 {
			continue
		}
		values := make([][]float64, len(params))
		for i, p := range params {
			values[i] = append([]float64(nil), p.Value.Data...)
		}
		cf.Params[layer.Name()] = values
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("model: creating checkpoint %q: %w", path, err)
	}
	if err := gob.NewEncoder(f).Encode(&cf); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("model: encoding checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("model: closing checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint reads a checkpoint and reconstructs the model it describes.
// Format or architecture mismatches fail with ErrCheckpointIncompatible.
func LoadCheckpoint(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: opening checkpoint %q: %w", path, err)
	}
	defer f.Close()

	var cf checkpointFile
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return nil, fmt.Errorf("model: decoding checkpoint %q: %w", path, err)
	}
	if cf.Meta.FormatVersion != checkpointFormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d",
			ErrCheckpointIncompatible, cf.Meta.FormatVersion, checkpointFormatVersion)
	}
	if cf.Meta.Backbone != BackboneID {
		return nil, fmt.Errorf("%w: backbone %q, want %q",
			ErrCheckpointIncompatible, cf.Meta.Backbone, BackboneID)
	}

	// Weight restore overwrites the random init, so the rng seed is irrelevant.
	m, err := Build(Config{
		InputSize: cf.Meta.InputSize,
		Labels:    cf.Meta.Labels,
	}, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, err
	}

	if err := m.restore(cf.Params, false); err != nil {
		return nil, err
	}
	return m, nil
}

// RestoreBackbone copies only the backbone parameters from a checkpoint into
// this model, leaving the head untouched. This is the transfer-learning entry
// point: a backbone pretrained on a larger gesture corpus seeds a new run.
func (m *Model) RestoreBackbone(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("model: opening backbone checkpoint %q: %w", path, err)
	}
	defer f.Close()

	var cf checkpointFile
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return fmt.Errorf("model: decoding backbone checkpoint %q: %w", path, err)
	}
	if cf.Meta.Backbone != BackboneID {
		return fmt.Errorf("%w: backbone %q, want %q",
			ErrCheckpointIncompatible, cf.Meta.Backbone, BackboneID)
	}
	if cf.Meta.InputSize != m.meta.InputSize {
		return fmt.Errorf("%w: backbone input size %d, want %d",
			ErrCheckpointIncompatible, cf.Meta.InputSize, m.meta.InputSize)
	}
	return m.restore(cf.Params, true)
}

// restore copies stored parameter values into the model's layers.
// backboneOnly skips layers not present in the backbone blocks (the head).
func (m *Model) restore(stored map[string][][]float64, backboneOnly bool) error {
	layers := m.Layers()
	if backboneOnly {
		layers = nil
		for _, b := range m.blocks {
			layers = append(layers, b...)
		}
	}

	for _, layer := range layers {
		params := layer.Params()
		if len(params) == 0 {
			continue
		}
		values, ok := stored[layer.Name()]
		if !ok {
			return fmt.Errorf("%w: missing parameters for layer %q", ErrCheckpointIncompatible, layer.Name())
		}
		if len(values) != len(params) {
			return fmt.Errorf("%w: layer %q has %d parameter tensors, want %d",
				ErrCheckpointIncompatible, layer.Name(), len(values), len(params))
		}
		for i, p := range params {
			if len(values[i]) != p.Value.Len() {
				return fmt.Errorf("%w: layer %q parameter %d has %d values, want %d",
					ErrCheckpointIncompatible, layer.Name(), i, len(values[i]), p.Value.Len())
			}
			copy(p.Value.Data, values[i])
		}
	}
	return nil
}

// PeekMetadata reads only the metadata of a checkpoint without building the
// model, for registry listings and compatibility checks.
func PeekMetadata(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("model: opening checkpoint %q: %w", path, err)
	}
	defer f.Close()

	var cf checkpointFile
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return Metadata{}, fmt.Errorf("model: decoding checkpoint %q: %w", path, err)
	}
	return cf.Meta, nil
}
