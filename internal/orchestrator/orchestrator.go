// Package orchestrator sequences the per-source fetch, normalize, and
// persist path and reports each source's outcome without aborting the run.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/greenpulse/greenpulse/internal/config"
	"github.com/greenpulse/greenpulse/internal/database"
	"github.com/greenpulse/greenpulse/internal/metrics"
	"github.com/greenpulse/greenpulse/internal/models"
	"github.com/greenpulse/greenpulse/internal/normalize"
	"github.com/greenpulse/greenpulse/internal/sources"
	"github.com/greenpulse/greenpulse/internal/storage"
)

// Orchestrator runs every configured source in isolation. No mutable state
// is shared between per-source paths; the run report is the only merge
// point.
type Orchestrator struct {
	sources []sources.Client
	store   *storage.Store
	repo    database.ObservationRepository
	retry   config.RetryConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// New builds an orchestrator. The repository may be nil when no database
// sink is configured; the metrics may be nil in tests.
func New(
	srcs []sources.Client,
	store *storage.Store,
	repo database.ObservationRepository,
	retry config.RetryConfig,
	logger *logrus.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		sources: srcs,
		store:   store,
		repo:    repo,
		retry:   retry,
		logger:  logger,
		metrics: m,
	}
}

// Run fetches all sources concurrently and returns the per-source report.
// A failure in one source never halts the others.
func (o *Orchestrator) Run(ctx context.Context) *models.RunReport {
	report := &models.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[string]models.SourceOutcome, len(o.sources)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, src := range o.sources {
		wg.Add(1)
		go func(src sources.Client) {
			defer wg.Done()
			outcome := o.processSource(ctx, src)
			mu.Lock()
			report.Outcomes[src.Name()] = outcome
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	report.CompletedAt = time.Now().UTC()

	o.logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"succeeded": report.SuccessCount(),
		"failed":    report.FailureCount(),
		"duration":  report.CompletedAt.Sub(report.StartedAt).String(),
	}).Info("Run completed")

	return report
}

func (o *Orchestrator) processSource(ctx context.Context, src sources.Client) models.SourceOutcome {
	log := o.logger.WithField("source", src.Name())
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.FetchDuration.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
		}
	}()

	raw, err := o.fetchWithRetry(ctx, src)
	if err != nil {
		return o.fail(log, src.Name(), err)
	}

	if _, err := o.store.SaveRaw(raw); err != nil {
		return o.fail(log, src.Name(), err)
	}

	table, err := normalize.Normalize(raw)
	if err != nil {
		return o.fail(log, src.Name(), err)
	}

	if _, err := o.store.SaveTable(src.Name(), table); err != nil {
		return o.fail(log, src.Name(), err)
	}

	if o.repo != nil {
		if err := o.repo.ReplaceObservations(ctx, src.Name(), table); err != nil {
			return o.fail(log, src.Name(), err)
		}
	}

	if o.metrics != nil {
		o.metrics.FetchTotal.WithLabelValues(src.Name(), "success").Inc()
		o.metrics.RowsNormalized.WithLabelValues(src.Name()).Add(float64(len(table)))
	}
	log.WithField("rows", len(table)).Info("Source processed")

	return models.SourceOutcome{Success: true, RowCount: len(table)}
}

// fetchWithRetry applies the configured retry policy to transient failures
// only. Bad responses and schema problems are not retried.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, src sources.Client) (*models.RawRecord, error) {
	backoff := o.retry.InitialBackoff
	attempts := o.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
			if o.retry.MaxBackoff > 0 && backoff > o.retry.MaxBackoff {
				backoff = o.retry.MaxBackoff
			}
		}

		raw, err := src.Fetch(ctx)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !errors.Is(err, sources.ErrSourceUnavailable) {
			break
		}
		o.logger.WithFields(logrus.Fields{
			"source":  src.Name(),
			"attempt": attempt,
		}).Warn("Fetch failed, source unavailable")
	}
	return nil, lastErr
}

func (o *Orchestrator) fail(log *logrus.Entry, source string, err error) models.SourceOutcome {
	kind := classify(err)
	if o.metrics != nil {
		o.metrics.FetchTotal.WithLabelValues(source, string(kind)).Inc()
	}
	log.WithField("kind", string(kind)).WithError(err).Error("Source failed")
	return models.SourceOutcome{Kind: kind, Message: err.Error()}
}

func classify(err error) models.FailureKind {
	switch {
	case errors.Is(err, sources.ErrSourceUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return models.FailureSourceUnavailable
	case errors.Is(err, sources.ErrSourceResponse):
		return models.FailureSourceResponse
	case errors.Is(err, normalize.ErrSchemaViolation), errors.Is(err, normalize.ErrUnknownUnit):
		return models.FailureSchemaViolation
	default:
		return models.FailureStorage
	}
}
