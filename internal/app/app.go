package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flrpredict/internal/alerting"
	"flrpredict/internal/config"
	"flrpredict/internal/fetcher"
	"flrpredict/internal/predictor"
	"flrpredict/internal/scheduler"
	"flrpredict/internal/service"
	"flrpredict/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newOracle() *fetcher.Oracle {
	return fetcher.NewOracle(fetcher.OracleOptions{
		RPCURL:          a.Config.Oracle.RPCURL,
		ContractAddress: a.Config.Oracle.ContractAddress,
		PrivateKey:      a.Config.Oracle.PrivateKey,
		GasLimit:        a.Config.Oracle.GasLimit,
		MaxFeeGwei:      a.Config.Oracle.MaxFeeGwei,
		MaxTipGwei:      a.Config.Oracle.MaxTipGwei,
		Timeout:         a.Config.Oracle.RequestTimeout,
	}, a.Logger)
}

func (a *App) newHistory(source fetcher.Source) *fetcher.History {
	return fetcher.NewHistory(source, fetcher.HistoryOptions{
		MaxBatch:    a.Config.Retrieval.MaxBatch,
		MaxAttempts: a.Config.Retrieval.MaxAttempts,
		RetryDelay:  a.Config.Retrieval.RetryDelay,
	}, a.Logger)
}

func (a *App) newCascade() *predictor.Cascade {
	mistral := predictor.NewMistral(predictor.MistralOptions{
		BaseURL:     a.Config.Mistral.BaseURL,
		APIKey:      a.Config.Mistral.APIKey,
		Model:       a.Config.Mistral.Model,
		MaxTokens:   a.Config.Mistral.MaxTokens,
		Temperature: a.Config.Mistral.Temperature,
		Timeout:     a.Config.Mistral.RequestTimeout,
	}, a.Logger)

	model := predictor.NewLocalModel(predictor.ModelOptions{
		ArtifactPath:   a.Config.Model.ArtifactPath,
		RuntimeLibrary: a.Config.Model.RuntimeLibrary,
		InputName:      a.Config.Model.InputName,
		OutputName:     a.Config.Model.OutputName,
	}, a.Logger)

	heuristic := predictor.NewHeuristic(a.Logger)

	return predictor.NewCascade(a.Logger, mistral, model, heuristic)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if path := a.Config.Database.MigrationsPath; path != "" {
		if err := storage.ApplyMigrations(ctx, pool, path); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running record-and-predict service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	oracle := a.newOracle()
	history := a.newHistory(oracle)
	cascade := a.newCascade()
	notifier := a.newNotifier()

	var recorder fetcher.Recorder
	if a.Config.Scheduler.RecordEachCycle && a.Config.Oracle.PrivateKey != "" {
		recorder = oracle
	}

	var obsStore storage.ObservationStore
	var predStore storage.PredictionStore
	if store != nil {
		obsStore = store
		predStore = store
	}

	svc := service.New(a.Config, sched, history, recorder, cascade, obsStore, predStore, notifier, a.Logger)

	a.Logger.Info().Msg("starting prediction service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("prediction service stopped")
	return nil
}

// FetchOptions configure the fetch command.
type FetchOptions struct {
	Count int
}

// PredictOptions configure the predict command. Prices, when set, feed the
// cascade directly instead of fetching from the oracle.
type PredictOptions struct {
	Count  int
	Prices []float64
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting historical observations.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
