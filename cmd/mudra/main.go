package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/display"
	"github.com/ayusman/mudra/internal/infer"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/overlay"
	"github.com/ayusman/mudra/internal/preprocess"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
	"github.com/ayusman/mudra/internal/train"
	"github.com/ayusman/mudra/internal/tray"
)

const usage = `Mudra - Rock/Paper/Scissors hand gesture recognition

Usage:
  mudra train [-config file]   train a classifier from a labelled image directory
  mudra run   [-config file]   classify frames from a live camera stream
  mudra eval  [-config file]   evaluate a saved checkpoint on the held-out split
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "train":
		err = runTrain(ctx, cfg)
	case "run":
		err = runLive(ctx, cfg)
	case "eval":
		err = runEval(cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
		os.Exit(1)
	}
}

func runTrain(ctx context.Context, cfg *config.Config) error {
	pre, err := preprocess.New(cfg.InputSize)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open run registry: %w", err)
	}
	defer st.Close()

	tc := train.Defaults()
	tc.DataDir = cfg.DataDir
	tc.OutputDir = cfg.OutputDir
	tc.Seed = cfg.Seed
	tc.BatchSize = cfg.BatchSize
	tc.WarmupEpochs = cfg.WarmupEpochs
	tc.FineTuneEpochs = cfg.FineTuneEpochs
	tc.LearningRate = cfg.LearningRate
	tc.Augment = cfg.Augment
	tc.BackboneWeights = cfg.PretrainedPath

	mc := model.Config{
		InputSize:   cfg.InputSize,
		Labels:      dataset.DefaultLabels,
		DropoutRate: cfg.DropoutRate,
	}

	ctl, err := train.New(tc, mc, pre, st, logging.Component("train"))
	if err != nil {
		return err
	}

	res, err := ctl.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("run_id", res.RunID).
		Float64("best_val_loss", res.BestValLoss).
		Float64("test_accuracy", res.Evaluation.Accuracy).
		Str("checkpoint", res.CheckpointPath).
		Msg("training complete")
	return nil
}

func runLive(ctx context.Context, cfg *config.Config) error {
	clf, err := loadClassifier(cfg)
	if err != nil {
		return err
	}

	pre, err := preprocess.New(clf.InputSize())
	if err != nil {
		return err
	}

	source, err := openSource(ctx, cfg)
	if err != nil {
		clf.Close()
		return err
	}

	// The session owns the source and classifier from here on and closes
	// both when its run loop exits.
	sess, err := infer.NewSession(infer.Config{
		WindowSize: cfg.WindowSize,
		QueueSize:  cfg.QueueSize,
	}, clf, pre, source, logging.Component("infer"))
	if err != nil {
		source.Close()
		clf.Close()
		return err
	}

	renderer := overlay.New(clf.Labels())

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open run registry: %w", err)
	}
	defer st.Close()

	srv := server.New(server.Config{Store: st})
	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("status server listening")
		if err := srv.ListenAndServe(cfg.ServerAddr); err != nil {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	var win *display.Window
	if cfg.Display {
		win = display.NewWindow("mudra")
		defer win.Close()
	}

	var paused atomic.Bool
	sess.Subscribe(func(res infer.Result) {
		if paused.Load() {
			return
		}
		annotated := renderer.Render(res.Frame.Image, res)
		srv.Predictions.Publish(res)
		srv.Preview.Update(annotated)
		if win != nil {
			win.Show(annotated)
		}
	})

	if cfg.Tray {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		t := tray.New()
		t.OnToggle(func(enabled bool) { paused.Store(!enabled) })
		t.OnQuit(cancel)
		sess.Subscribe(func(res infer.Result) {
			if res.Smoothed.Class >= 0 {
				t.SetLastPrediction(res.Smoothed.Label)
			}
		})
		go func() {
			if err := sess.Run(ctx); err != nil {
				log.Error().Err(err).Msg("inference session stopped")
			}
			t.Quit()
		}()
		t.Run()
		return nil
	}

	return sess.Run(ctx)
}

func runEval(cfg *config.Config) error {
	clf, err := loadClassifier(cfg)
	if err != nil {
		return err
	}
	defer clf.Close()

	pre, err := preprocess.New(clf.InputSize())
	if err != nil {
		return err
	}

	ds, err := dataset.Load(cfg.DataDir, clf.Labels())
	if err != nil {
		return err
	}
	// The same seed and fractions as training reproduce the recorded split,
	// so eval scores the held-out test subset and nothing it trained on.
	defaults := train.Defaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	split, err := ds.Split(defaults.TrainFraction, defaults.ValFraction, rng)
	if err != nil {
		return err
	}

	ev, err := train.Evaluate(clf, pre, split.Test)
	if err != nil {
		return err
	}
	fmt.Printf("samples:          %d\n", ev.Samples)
	fmt.Printf("accuracy:         %.4f\n", ev.Accuracy)
	fmt.Printf("mean confidence:  %.4f (stddev %.4f)\n", ev.MeanConfidence, ev.StdConfidence)
	for i, label := range clf.Labels() {
		fmt.Printf("recall %-9s %.4f\n", label+":", ev.PerClassRecall[i])
	}
	printConfusion(clf.Labels(), ev.Confusion)
	return nil
}

// printConfusion writes the confusion matrix with actual classes as rows
// and predicted classes as columns.
func printConfusion(labels []string, confusion [][]int) {
	fmt.Printf("%-10s", "")
	for _, l := range labels {
		fmt.Printf("%10s", l)
	}
	fmt.Println()
	for i, l := range labels {
		fmt.Printf("%-10s", l)
		for j := range labels {
			fmt.Printf("%10d", confusion[i][j])
		}
		fmt.Println()
	}
}

// loadClassifier picks the inference backend: a native checkpoint by
// default, or an exported ONNX model when one is configured.
func loadClassifier(cfg *config.Config) (model.Classifier, error) {
	if cfg.ONNXModel != "" {
		return model.NewONNXClassifier(cfg.ONNXModel, cfg.ONNXMeta, dataset.DefaultLabels)
	}
	return model.LoadCheckpoint(cfg.CheckpointPath)
}

func openSource(ctx context.Context, cfg *config.Config) (stream.Source, error) {
	sc := stream.DefaultConfig(cfg.StreamURL)
	sc.ReadTimeout = cfg.StreamTimeout
	sc.MaxRetries = cfg.MaxRetries

	switch cfg.Source {
	case "mjpeg":
		c := stream.NewClient(sc, logging.Component("stream"))
		c.Start(ctx)
		return c, nil
	case "snapshot":
		p := stream.NewPoller(sc, 0, logging.Component("stream"))
		p.Start(ctx)
		return p, nil
	case "camera":
		cam := capture.NewCamera(cfg.CameraID)
		if err := cam.Start(ctx); err != nil {
			return nil, err
		}
		return cam, nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}
