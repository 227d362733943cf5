// Package scheduler runs the pipeline on a cron spec.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/greenpulse/greenpulse/internal/models"
)

// Runner is the unit of work the scheduler triggers.
type Runner interface {
	Run(ctx context.Context) *models.RunReport
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) *models.RunReport

func (f RunnerFunc) Run(ctx context.Context) *models.RunReport { return f(ctx) }

type Scheduler struct {
	ctx    context.Context
	runner Runner
	logger *logrus.Logger
	cron   *cron.Cron
	spec   string
}

func NewScheduler(ctx context.Context, runner Runner, logger *logrus.Logger, spec string) *Scheduler {
	return &Scheduler{
		ctx:    ctx,
		runner: runner,
		logger: logger,
		cron:   cron.New(),
		spec:   spec,
	}
}

// Start registers the periodic run and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.collect)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) collect() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Minute)
	defer cancel()

	report := s.runner.Run(ctx)
	if report.SuccessCount() == 0 {
		s.logger.WithField("run_id", report.RunID).Error("Scheduled run fetched no sources")
	}
}

// Stop halts the cron loop; in-flight runs finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
