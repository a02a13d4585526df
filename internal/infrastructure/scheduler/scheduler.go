// Package scheduler runs the periodic metering jobs on cron schedules.
// Each run takes a named lock so that only one replica executes a job at
// a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aimeter/backend/internal/domain/shared"
	"github.com/aimeter/backend/internal/infrastructure/config"
	"github.com/aimeter/backend/internal/infrastructure/telemetry"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const lockKeyPrefix = "scheduler:"

// JobStatus is the outcome of one job run
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	// JobStatusSkipped means another replica held the job lock
	JobStatusSkipped JobStatus = "skipped"
)

// Job is a named unit of periodic work
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// JobRun records one execution of a job
type JobRun struct {
	Name       string        `json:"name"`
	Status     JobStatus     `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type registeredJob struct {
	job   Job
	entry cron.EntryID
}

// Scheduler runs registered jobs on their cron specs
type Scheduler struct {
	cfg    config.SchedulerConfig
	locker shared.Locker
	logger *zap.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]registeredJob
	lastRun map[string]JobRun
	baseCtx context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a Scheduler. Schedules are evaluated in UTC.
func New(cfg config.SchedulerConfig, locker shared.Locker, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cronLogger := zapCronLogger{logger: logger.Sugar()}

	return &Scheduler{
		cfg:    cfg,
		locker: locker,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		now:     time.Now,
		jobs:    make(map[string]registeredJob),
		lastRun: make(map[string]JobRun),
		baseCtx: context.Background(),
	}
}

// Register validates the job's cron spec and schedules it
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run function", ErrInvalidConfig)
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("%w: job %s has invalid schedule %q: %v", ErrInvalidConfig, job.Name, job.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	entry, err := s.cron.AddFunc(job.Spec, func() {
		s.mu.Lock()
		ctx := s.baseCtx
		s.mu.Unlock()
		_ = s.execute(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s.jobs[job.Name] = registeredJob{job: job, entry: entry}
	s.logger.Info("job registered", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// Start begins dispatching scheduled runs. Runs inherit ctx values and
// are cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", zap.Strings("jobs", s.jobNamesLocked()))
	return nil
}

// Stop stops dispatching, cancels in-flight runs and waits for them
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	stopped := s.cron.Stop()
	cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// RunNow executes a registered job immediately, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobRun, error) {
	s.mu.Lock()
	registered, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return JobRun{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	run := s.execute(ctx, registered.job)
	if run.Status == JobStatusFailed {
		return run, errors.New(run.Error)
	}
	return run, nil
}

// LastRun returns the most recent run of a job
func (s *Scheduler) LastRun(name string) (JobRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.lastRun[name]
	return run, ok
}

// NextRun returns when a job is next due. The zero time is returned
// while the scheduler is stopped.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	registered, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(registered.entry).Next, true
}

// Jobs returns the registered job names in sorted order
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobNamesLocked()
}

func (s *Scheduler) jobNamesLocked() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) execute(ctx context.Context, job Job) JobRun {
	timeout := s.cfg.JobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "scheduler."+job.Name, attribute.String("job", job.Name))

	run := JobRun{Name: job.Name, Status: JobStatusRunning, StartedAt: s.now()}
	err := s.runLocked(ctx, job, timeout)
	run.FinishedAt = s.now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)

	switch {
	case errors.Is(err, shared.ErrLockNotAcquired):
		run.Status = JobStatusSkipped
		err = nil
		s.logger.Debug("job skipped, lock held elsewhere", zap.String("job", job.Name))
	case err != nil:
		run.Status = JobStatusFailed
		run.Error = err.Error()
		s.logger.Error("job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", run.Duration),
			zap.Error(err),
		)
	default:
		run.Status = JobStatusSuccess
		s.logger.Info("job completed",
			zap.String("job", job.Name),
			zap.Duration("duration", run.Duration),
		)
	}
	telemetry.EndSpan(span, err)

	s.mu.Lock()
	s.lastRun[job.Name] = run
	s.mu.Unlock()
	return run
}

func (s *Scheduler) runLocked(ctx context.Context, job Job, ttl time.Duration) error {
	if s.locker == nil {
		return job.Run(ctx)
	}
	lock, err := s.locker.Acquire(ctx, lockKeyPrefix+job.Name, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.Warn("failed to release job lock", zap.String("job", job.Name), zap.Error(releaseErr))
		}
	}()
	return job.Run(ctx)
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
