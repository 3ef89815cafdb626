// Package train orchestrates the two-phase transfer-learning schedule:
// head-only warmup on a frozen backbone, then fine-tuning with the top
// backbone blocks unfrozen at a reduced learning rate, followed by held-out
// evaluation. The whole run is deterministic under a fixed seed.
package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/nn"
	"github.com/ayusman/mudra/internal/preprocess"
	"github.com/ayusman/mudra/internal/store"
)

// Phase is the training controller's state.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseWarmup    Phase = "warmup"
	PhaseFineTune  Phase = "finetune"
	PhaseEvaluated Phase = "evaluated"
	PhaseTerminal  Phase = "terminal"
)

// DivergedError reports a NaN or infinite loss. It aborts the current phase
// with enough context to diagnose where the run went off the rails.
type DivergedError struct {
	Phase Phase
	Epoch int
	Loss  float64
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("training diverged in %s phase: epoch %d, loss %v", e.Phase, e.Epoch, e.Loss)
}

// Config drives one training run. Zero values are invalid; use Defaults and
// override.
type Config struct {
	DataDir   string
	OutputDir string

	Seed      int64
	BatchSize int

	WarmupEpochs   int
	WarmupPatience int

	FineTuneEpochs   int
	FineTunePatience int
	FineTuneLRFactor float64 // multiplies the base learning rate
	UnfreezeBlocks   int     // top-N backbone blocks unfrozen during fine-tuning

	LearningRate float64
	Momentum     float64
	WeightDecay  float64

	TrainFraction float64
	ValFraction   float64

	Augment         bool
	BackboneWeights string // optional pretrained backbone checkpoint
}

// Defaults returns a training configuration with the tuned default schedule.
func Defaults() Config {
	return Config{
		Seed:             1,
		BatchSize:        16,
		WarmupEpochs:     10,
		WarmupPatience:   3,
		FineTuneEpochs:   20,
		FineTunePatience: 5,
		FineTuneLRFactor: 0.1,
		UnfreezeBlocks:   1,
		LearningRate:     0.01,
		Momentum:         0.9,
		WeightDecay:      1e-4,
		TrainFraction:    0.7,
		ValFraction:      0.15,
		Augment:          true,
	}
}

// Validate checks the run configuration before any work starts.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("train: data directory not set")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("train: output directory not set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("train: batch size must be positive, got %d", c.BatchSize)
	}
	if c.WarmupEpochs <= 0 {
		return fmt.Errorf("train: warmup epochs must be positive, got %d", c.WarmupEpochs)
	}
	if c.FineTuneEpochs < 0 {
		return fmt.Errorf("train: fine-tune epochs must not be negative, got %d", c.FineTuneEpochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("train: learning rate must be positive, got %v", c.LearningRate)
	}
	if c.FineTuneLRFactor <= 0 || c.FineTuneLRFactor > 1 {
		return fmt.Errorf("train: fine-tune LR factor %v out of (0, 1]", c.FineTuneLRFactor)
	}
	if c.TrainFraction <= 0 || c.ValFraction < 0 || c.TrainFraction+c.ValFraction >= 1 {
		return fmt.Errorf("train: invalid split fractions train=%v val=%v", c.TrainFraction, c.ValFraction)
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	RunID          string
	Phase          Phase
	BestValLoss    float64
	CheckpointPath string
	Evaluation     *Evaluation
}

// Controller runs the training state machine. It is single-use: one
// controller drives one run and is then discarded.
type Controller struct {
	cfg      Config
	modelCfg model.Config
	pre      *preprocess.Preprocessor
	registry *store.Store // optional
	log      zerolog.Logger

	phase       Phase
	rng         *rand.Rand
	m           *model.Model
	opt         *nn.SGD
	split       *dataset.Split
	trainLoader *dataset.Loader
	evalLoader  *dataset.Loader

	runID          string
	bestValLoss    float64
	checkpointPath string
}

// New creates a training controller. registry may be nil to skip run
// persistence.
func New(cfg Config, modelCfg model.Config, pre *preprocess.Preprocessor, registry *store.Store, log zerolog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := modelCfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:         cfg,
		modelCfg:    modelCfg,
		pre:         pre,
		registry:    registry,
		log:         log,
		phase:       PhaseInit,
		bestValLoss: math.Inf(1),
	}, nil
}

// Phase returns the controller's current state.
func (c *Controller) Phase() Phase {
	return c.phase
}

// Run executes the full schedule: Init, WarmupTraining, FineTuning,
// Evaluated, Terminal. Dataset problems fail before the first training step;
// a diverging loss aborts with DivergedError. ctx cancellation stops the run
// at the next epoch boundary.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if err := c.init(); err != nil {
		c.fail(err)
		return nil, err
	}

	c.setPhase(PhaseWarmup)
	c.m.Freeze()
	c.log.Info().Int("trainable_params", nn.TrainableParams(c.m.Layers())).Msg("starting warmup training")
	if err := c.trainPhase(ctx, PhaseWarmup, c.cfg.WarmupEpochs, c.cfg.WarmupPatience, 1.0); err != nil {
		c.fail(err)
		return nil, err
	}

	if c.cfg.FineTuneEpochs > 0 && c.cfg.UnfreezeBlocks > 0 {
		c.setPhase(PhaseFineTune)
		c.m.Unfreeze(c.cfg.UnfreezeBlocks)
		c.log.Info().
			Int("unfrozen_blocks", c.cfg.UnfreezeBlocks).
			Float64("lr_factor", c.cfg.FineTuneLRFactor).
			Int("trainable_params", nn.TrainableParams(c.m.Layers())).
			Msg("starting fine-tuning")
		if err := c.trainPhase(ctx, PhaseFineTune, c.cfg.FineTuneEpochs, c.cfg.FineTunePatience, c.cfg.FineTuneLRFactor); err != nil {
			c.fail(err)
			return nil, err
		}
	}

	c.setPhase(PhaseEvaluated)
	eval, err := c.evaluate()
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.setPhase(PhaseTerminal)
	if c.registry != nil {
		if err := c.registry.Runs().Finish(c.runID, c.bestValLoss, eval.Accuracy, ""); err != nil {
			c.log.Warn().Err(err).Msg("recording run completion")
		}
	}

	c.log.Info().
		Str("run_id", c.runID).
		Float64("best_val_loss", c.bestValLoss).
		Float64("test_accuracy", eval.Accuracy).
		Str("checkpoint", c.checkpointPath).
		Msg("training finished")

	return &Result{
		RunID:          c.runID,
		Phase:          c.phase,
		BestValLoss:    c.bestValLoss,
		CheckpointPath: c.checkpointPath,
		Evaluation:     eval,
	}, nil
}

// init loads the dataset, builds the model and wires the optimizer. All I/O
// failures here are fatal and reported before any training step.
func (c *Controller) init() error {
	c.rng = rand.New(rand.NewSource(c.cfg.Seed))
	c.runID = uuid.NewString()
	c.checkpointPath = filepath.Join(c.cfg.OutputDir, "best.ckpt")

	ds, err := dataset.Load(c.cfg.DataDir, c.modelCfg.Labels)
	if err != nil {
		return err
	}
	c.split, err = ds.Split(c.cfg.TrainFraction, c.cfg.ValFraction, c.rng)
	if err != nil {
		return err
	}
	c.log.Info().
		Ints("class_counts", ds.ClassCounts()).
		Int("train", len(c.split.Train)).
		Int("val", len(c.split.Val)).
		Int("test", len(c.split.Test)).
		Msg("dataset loaded")

	var augmenter *dataset.Augmenter
	if c.cfg.Augment {
		augmenter = dataset.NewAugmenter(c.rng)
	}
	c.trainLoader, err = dataset.NewLoader(c.pre, c.cfg.BatchSize, augmenter)
	if err != nil {
		return err
	}
	c.evalLoader, err = dataset.NewLoader(c.pre, c.cfg.BatchSize, nil)
	if err != nil {
		return err
	}

	c.m, err = model.Build(c.modelCfg, c.rng)
	if err != nil {
		return err
	}
	if c.cfg.BackboneWeights != "" {
		if err := c.m.RestoreBackbone(c.cfg.BackboneWeights); err != nil {
			return err
		}
		c.log.Info().Str("path", c.cfg.BackboneWeights).Msg("restored pretrained backbone")
	}

	c.opt = nn.NewSGD(c.cfg.LearningRate, c.cfg.Momentum, c.cfg.WeightDecay)

	if c.registry != nil {
		err := c.registry.Runs().Create(&store.Run{
			ID:        c.runID,
			Phase:     string(PhaseInit),
			Seed:      c.cfg.Seed,
			InputSize: c.modelCfg.InputSize,
			Labels:    c.modelCfg.Labels,
		})
		if err != nil {
			return fmt.Errorf("train: recording run: %w", err)
		}
	}
	return nil
}

// trainPhase runs epochs until the budget is exhausted, validation loss
// stagnates past the patience window, or the loss diverges. Each validation
// improvement persists a checkpoint.
func (c *Controller) trainPhase(ctx context.Context, phase Phase, epochs, patience int, lrScale float64) error {
	sinceImproved := 0
	for epoch := 1; epoch <= epochs; epoch++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		trainLoss, trainAcc, err := c.trainEpoch(phase, epoch, lrScale)
		if err != nil {
			return err
		}
		valLoss, valAcc, err := c.validate(phase, epoch)
		if err != nil {
			return err
		}

		c.log.Info().
			Str("phase", string(phase)).
			Int("epoch", epoch).
			Float64("train_loss", trainLoss).
			Float64("train_acc", trainAcc).
			Float64("val_loss", valLoss).
			Float64("val_acc", valAcc).
			Msg("epoch complete")

		if c.registry != nil {
			err := c.registry.Runs().AddEpochMetric(&store.EpochMetric{
				RunID:         c.runID,
				Phase:         string(phase),
				Epoch:         epoch,
				TrainLoss:     trainLoss,
				TrainAccuracy: trainAcc,
				ValLoss:       valLoss,
				ValAccuracy:   valAcc,
			})
			if err != nil {
				c.log.Warn().Err(err).Msg("recording epoch metric")
			}
		}

		if valLoss < c.bestValLoss {
			c.bestValLoss = valLoss
			sinceImproved = 0
			if err := c.saveCheckpoint(valLoss); err != nil {
				return err
			}
		} else {
			sinceImproved++
			if patience > 0 && sinceImproved >= patience {
				c.log.Info().
					Str("phase", string(phase)).
					Int("epoch", epoch).
					Int("patience", patience).
					Msg("early stopping: validation loss stagnated")
				return nil
			}
		}
	}
	return nil
}

// trainEpoch runs one pass over the training subset.
func (c *Controller) trainEpoch(phase Phase, epoch int, lrScale float64) (loss, accuracy float64, err error) {
	var lossFn nn.SoftmaxCrossEntropy
	totalLoss := 0.0
	correct, seen, batches := 0, 0, 0

	err = c.trainLoader.Epoch(c.split.Train, c.rng, func(x *nn.Tensor, labels []int) error {
		logits := c.m.Forward(x, true)
		batchLoss, probs := lossFn.Forward(logits, labels)
		if math.IsNaN(batchLoss) || math.IsInf(batchLoss, 0) {
			return &DivergedError{Phase: phase, Epoch: epoch, Loss: batchLoss}
		}
		c.m.Backward(lossFn.Backward())
		c.opt.Step(c.m.Layers(), lrScale)

		totalLoss += batchLoss
		batches++
		correct += countCorrect(probs, labels)
		seen += len(labels)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return totalLoss / float64(batches), float64(correct) / float64(seen), nil
}

// validate runs one pass over the validation subset without updates.
func (c *Controller) validate(phase Phase, epoch int) (loss, accuracy float64, err error) {
	var lossFn nn.SoftmaxCrossEntropy
	totalLoss := 0.0
	correct, seen, batches := 0, 0, 0

	err = c.evalLoader.Epoch(c.split.Val, nil, func(x *nn.Tensor, labels []int) error {
		logits := c.m.Forward(x, false)
		batchLoss, probs := lossFn.Forward(logits, labels)
		if math.IsNaN(batchLoss) || math.IsInf(batchLoss, 0) {
			return &DivergedError{Phase: phase, Epoch: epoch, Loss: batchLoss}
		}
		totalLoss += batchLoss
		batches++
		correct += countCorrect(probs, labels)
		seen += len(labels)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if batches == 0 {
		return 0, 0, nil
	}
	return totalLoss / float64(batches), float64(correct) / float64(seen), nil
}

// evaluate loads the persisted best checkpoint and scores the held-out test
// subset through the same classify path live inference uses.
func (c *Controller) evaluate() (*Evaluation, error) {
	best, err := model.LoadCheckpoint(c.checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("train: loading best checkpoint for evaluation: %w", err)
	}
	eval, err := Evaluate(best, c.pre, c.split.Test)
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Float64("accuracy", eval.Accuracy).
		Float64("mean_confidence", eval.MeanConfidence).
		Msg("held-out evaluation complete")
	return eval, nil
}

// saveCheckpoint persists the current weights as the new best and registers
// the snapshot.
func (c *Controller) saveCheckpoint(valLoss float64) error {
	if err := c.m.Save(c.checkpointPath); err != nil {
		return err
	}
	c.log.Info().
		Float64("val_loss", valLoss).
		Str("path", c.checkpointPath).
		Msg("checkpoint saved")

	if c.registry != nil {
		err := c.registry.Checkpoints().Register(&store.Checkpoint{
			ID:      uuid.NewString(),
			RunID:   c.runID,
			Path:    c.checkpointPath,
			ValLoss: valLoss,
			IsBest:  true,
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("registering checkpoint")
		}
	}
	return nil
}

// setPhase advances the state machine and mirrors it into the registry.
func (c *Controller) setPhase(p Phase) {
	c.phase = p
	if c.registry != nil && c.runID != "" {
		if err := c.registry.Runs().SetPhase(c.runID, string(p)); err != nil {
			c.log.Warn().Err(err).Msg("recording phase transition")
		}
	}
}

// fail records the aborted run. No error is silently swallowed: the phase
// and cause always land in the log and, when available, the registry.
func (c *Controller) fail(err error) {
	c.log.Error().Err(err).Str("phase", string(c.phase)).Msg("training run aborted")
	if c.registry != nil && c.runID != "" {
		if rerr := c.registry.Runs().Finish(c.runID, c.bestValLoss, 0, err.Error()); rerr != nil {
			c.log.Warn().Err(rerr).Msg("recording run failure")
		}
	}
}

// countCorrect counts batch rows whose arg-max probability matches the label.
func countCorrect(probs *nn.Tensor, labels []int) int {
	b, classes := probs.Shape[0], probs.Shape[1]
	correct := 0
	for n := 0; n < b; n++ {
		best := 0
		for j := 1; j < classes; j++ {
			if probs.Data[n*classes+j] > probs.Data[n*classes+best] {
				best = j
			}
		}
		if best == labels[n] {
			correct++
		}
	}
	return correct
}
