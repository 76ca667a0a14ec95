package predictor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"flrpredict/internal/fetcher"
)

// ModelOptions parameterise the local inference stage.
type ModelOptions struct {
	// ArtifactPath locates the pre-trained .onnx model.
	ArtifactPath string
	// RuntimeLibrary optionally points at the onnxruntime shared library.
	RuntimeLibrary string
	// InputName and OutputName are the model's tensor names.
	InputName  string
	OutputName string
}

// LocalModel runs a pre-trained ONNX artifact over the series when one is
// present. The stage is optional by design: a missing artifact or any
// load/run failure declines silently (a logged warning, never an error).
type LocalModel struct {
	opts   ModelOptions
	logger zerolog.Logger
	now    func() time.Time

	initOnce sync.Once
	initErr  error
}

// NewLocalModel constructs the ONNX inference stage.
func NewLocalModel(opts ModelOptions, logger zerolog.Logger) *LocalModel {
	if opts.ArtifactPath == "" {
		opts.ArtifactPath = "model.onnx"
	}
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}
	return &LocalModel{
		opts:   opts,
		logger: logger.With().Str("component", "local_model").Logger(),
		now:    time.Now,
	}
}

// Name identifies the stage.
func (l *LocalModel) Name() string { return SourceONNX }

// Attempt probes for the artifact, loads it, and reads a scalar prediction
// from a single [1, len(series)] input row.
func (l *LocalModel) Attempt(_ context.Context, series []fetcher.Observation) (*Result, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}

	// Lightweight existence check before touching the runtime at all.
	if _, err := os.Stat(l.opts.ArtifactPath); err != nil {
		l.logger.Debug().Str("path", l.opts.ArtifactPath).Msg("no local model artifact, skipping")
		return nil, nil
	}

	if err := l.ensureRuntime(); err != nil {
		l.logger.Warn().Err(err).Msg("onnx runtime unavailable")
		return nil, nil
	}

	price, err := l.run(series)
	if err != nil {
		l.logger.Warn().Err(err).Str("path", l.opts.ArtifactPath).Msg("local model inference failed")
		return nil, nil
	}

	return &Result{
		Price:       price,
		Explanation: "Prediction generated by the local model trained on historical price data.",
		Source:      SourceONNX,
		GeneratedAt: l.now().Unix(),
	}, nil
}

func (l *LocalModel) ensureRuntime() error {
	l.initOnce.Do(func() {
		if l.opts.RuntimeLibrary != "" {
			ort.SetSharedLibraryPath(l.opts.RuntimeLibrary)
		}
		if !ort.IsInitialized() {
			l.initErr = ort.InitializeEnvironment()
		}
	})
	return l.initErr
}

func (l *LocalModel) run(series []fetcher.Observation) (float64, error) {
	row := make([]float32, len(series))
	for i, obs := range series {
		row[i] = float32(obs.Price)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(row))), row)
	if err != nil {
		return 0, err
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, err
	}
	defer output.Destroy()

	session, err := ort.NewAdvancedSession(
		l.opts.ArtifactPath,
		[]string{l.opts.InputName},
		[]string{l.opts.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return 0, err
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return 0, err
	}

	return float64(output.GetData()[0]), nil
}

var _ Strategy = (*LocalModel)(nil)
