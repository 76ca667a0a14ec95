package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flrpredict/internal/alerting"
	"flrpredict/internal/config"
	"flrpredict/internal/fetcher"
	"flrpredict/internal/predictor"
	"flrpredict/internal/scheduler"
	"flrpredict/internal/storage"
)

// HistoryFetcher retrieves recent observations.
type HistoryFetcher interface {
	FetchRecent(ctx context.Context, n int) ([]fetcher.Observation, error)
}

// Predictor runs the prediction cascade.
type Predictor interface {
	Predict(ctx context.Context, series []fetcher.Observation) (*predictor.Result, error)
}

// Service orchestrates recording, retrieval, prediction, persistence, and
// alerting for the periodic run loop.
type Service struct {
	scheduler *scheduler.Scheduler
	history   HistoryFetcher
	recorder  fetcher.Recorder
	cascade   Predictor
	obsStore  storage.ObservationStore
	predStore storage.PredictionStore
	notifier  alerting.Notifier
	logger    zerolog.Logger

	historySize int
	recordFirst bool
	threshold   decimal.Decimal
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// New constructs the pipeline service.
func New(cfg *config.Config, sched *scheduler.Scheduler, history HistoryFetcher, recorder fetcher.Recorder, cascade Predictor, obsStore storage.ObservationStore, predStore storage.PredictionStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := obsStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:   sched,
		history:     history,
		recorder:    recorder,
		cascade:     cascade,
		obsStore:    obsStore,
		predStore:   predStore,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		historySize: cfg.Retrieval.HistorySize,
		recordFirst: cfg.Scheduler.RecordEachCycle,
		threshold:   threshold,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the periodic sampling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one record-fetch-predict pass, guarded by the
// advisory lock when storage is shared between runners.
func (s *Service) ProcessCycle(ctx context.Context, startedAt time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("started_at", startedAt).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, startedAt)
}

func (s *Service) executeCycle(ctx context.Context, startedAt time.Time) error {
	if s.recordFirst && s.recorder != nil {
		receipt, err := s.recorder.Record(ctx)
		if err != nil {
			// Recording is best effort here; the history may still be
			// readable from earlier submissions.
			s.logger.Warn().Err(err).Msg("failed to record new observation")
		} else {
			s.logger.Info().Str("tx", receipt.TxHash).Msg("observation recorded")
		}
	}

	series, err := s.history.FetchRecent(ctx, s.historySize)
	if err != nil {
		if errors.Is(err, fetcher.ErrNoDataAvailable) {
			s.logger.Warn().Msg("no observations recorded yet; record data first")
			return nil
		}
		return fmt.Errorf("fetch recent observations: %w", err)
	}

	SortAscending(series)

	result, err := s.cascade.Predict(ctx, series)
	if err != nil {
		return fmt.Errorf("predict next price: %w", err)
	}

	lastPrice := series[len(series)-1].Price
	s.persist(ctx, series, result, lastPrice)

	s.logger.Info().
		Float64("predicted", result.Price).
		Float64("last", lastPrice).
		Str("source", result.Source).
		Msg("prediction generated")

	s.maybeAlert(ctx, series, result, lastPrice)
	return nil
}

func (s *Service) persist(ctx context.Context, series []fetcher.Observation, result *predictor.Result, lastPrice float64) {
	if s.obsStore != nil {
		rows := make([]storage.ObservationRow, 0, len(series))
		for _, obs := range series {
			rows = append(rows, storage.ObservationRow{
				ObservedAt: time.Unix(obs.Timestamp, 0).UTC(),
				Price:      decimal.NewFromFloat(obs.Price),
			})
		}
		if err := s.obsStore.UpsertObservations(ctx, rows); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist observations")
		}
	}

	if s.predStore != nil {
		row := storage.PredictionRow{
			Price:        decimal.NewFromFloat(result.Price),
			Explanation:  result.Explanation,
			Source:       result.Source,
			LastObserved: decimal.NewFromFloat(lastPrice),
			SeriesCount:  len(series),
			GeneratedAt:  time.Unix(result.GeneratedAt, 0).UTC(),
		}
		if _, err := s.predStore.InsertPrediction(ctx, row); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist prediction")
		}
	}
}

func (s *Service) maybeAlert(ctx context.Context, series []fetcher.Observation, result *predictor.Result, lastPrice float64) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() || lastPrice == 0 {
		return
	}

	last := decimal.NewFromFloat(lastPrice)
	predicted := decimal.NewFromFloat(result.Price)
	changePct := predicted.Sub(last).Div(last).Mul(decimal.NewFromInt(100))

	if changePct.Abs().LessThanOrEqual(s.threshold) {
		return
	}

	note := alerting.Notification{
		ObservedAt:     time.Unix(series[len(series)-1].Timestamp, 0).UTC(),
		LastPrice:      last,
		PredictedPrice: predicted,
		ChangePct:      changePct,
		ThresholdPct:   s.threshold,
		Direction:      classifyChange(changePct),
		Source:         result.Source,
		Explanation:    result.Explanation,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Msg("failed to dispatch prediction alert")
	}
}

// SortAscending orders a series oldest to newest, the order the prediction
// stages expect.
func SortAscending(series []fetcher.Observation) {
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp < series[j].Timestamp
	})
}

func classifyChange(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
