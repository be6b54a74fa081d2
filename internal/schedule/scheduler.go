// Package schedule runs periodic maintenance jobs on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/logger"
	"github.com/newsiq/newsengine/internal/metrics"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name implements Job.
func (j JobFunc) Name() string { return j.JobName }

// Run implements Job.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Scheduler runs jobs on standard five-field cron expressions (descriptors
// such as @hourly are accepted). A job never overlaps with itself: a tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a stopped scheduler.
func New(logger *zap.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Add registers job under spec. An empty spec leaves the job disabled.
func (s *Scheduler) Add(job Job, spec string) error {
	name := job.Name()
	if spec == "" {
		s.logger.Info("Job disabled", zap.String("job", name))
		return nil
	}
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		return fmt.Errorf("schedule job %q (%s): %w", name, spec, err)
	}
	s.entries[name] = id
	s.logger.Info("Job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Next returns the next activation of a scheduled job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins firing jobs. Runs receive a context derived from ctx that is
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// Stop prevents new runs, cancels running ones and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	<-done.Done()
}

func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		log := s.logger.With(zap.String("job", job.Name()), zap.String("spec", spec))
		if !running.CompareAndSwap(false, true) {
			metrics.JobRunsTotal.WithLabelValues(job.Name(), "skipped").Inc()
			log.Info("Job skipped: still running")
			return
		}
		defer running.Store(false)

		s.run(logger.ContextWithLogger(s.ctx, log), job, log)
	}
}

func (s *Scheduler) run(ctx context.Context, job Job, log *zap.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.JobRunsTotal.WithLabelValues(job.Name(), "error").Inc()
			log.Error("Job panicked", zap.Any("panic", rec), zap.Stack("stack"))
		}
	}()

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(job.Name(), "error").Inc()
		log.Error("Job failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	metrics.JobRunsTotal.WithLabelValues(job.Name(), "success").Inc()
	log.Info("Job finished", zap.Duration("duration", elapsed))
}
