// Package scheduler runs the reconciliation jobs that keep subscription
// state consistent with calendar time: expiry, reminders, usage resets,
// auto-renewal, payment retries and archival. Jobs are idempotent; the
// conditional writes underneath make a re-run of any job a no-op.
//
// A single active scheduler instance is assumed. Running two is safe but
// wasteful: both race the same conditional updates and one loses.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tably/internal/clock"
	"github.com/smallbiznis/tably/internal/notification"
	obsmetrics "github.com/smallbiznis/tably/internal/observability/metrics"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tably/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")
	ErrUnknownJob    = errors.New("scheduler: unknown job")
	ErrNotRunning    = errors.New("scheduler: not running")
	ErrAlreadyActive = errors.New("scheduler: already running")
)

// Job is a named reconciliation task with its own schedule.
type Job struct {
	Name        string
	Description string
	Schedule    Schedule
	handler     func(ctx context.Context) error

	lastRun time.Time
}

// JobStatus is the externally visible state of one job. Running mirrors the
// scheduler loop: a job is running when the loop that evaluates its schedule
// is active.
type JobStatus struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	Running     bool      `json:"running"`
	LastRun     time.Time `json:"last_run"`
}

// Status summarizes the scheduler for the management API.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	SubSvc     subscriptiondomain.Service
	PlanSvc    plandomain.Service
	UsageSvc   usagedomain.Service
	Dispatcher notification.Dispatcher
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	subSvc     subscriptiondomain.Service
	planSvc    plandomain.Service
	usageSvc   usagedomain.Service
	dispatcher notification.Dispatcher

	mu      sync.Mutex
	jobs    []*Job
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.SubSvc == nil || p.PlanSvc == nil || p.UsageSvc == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		subSvc:     p.SubSvc,
		planSvc:    p.PlanSvc,
		usageSvc:   p.UsageSvc,
		dispatcher: p.Dispatcher,
	}
	s.jobs = []*Job{
		{
			Name:        "expiry_checker",
			Description: "expire active subscriptions whose end date has passed",
			Schedule:    Daily(0, 0),
			handler:     s.ExpiryCheckerJob,
		},
		{
			Name:        "renewal_reminder",
			Description: "remind admins whose subscriptions end in 7, 3 or 1 days",
			Schedule:    Daily(9, 0),
			handler:     s.RenewalReminderJob,
		},
		{
			Name:        "usage_reset",
			Description: "reset monthly order counters",
			Schedule:    MonthlyFirst(0, 0),
			handler:     s.UsageResetJob,
		},
		{
			Name:        "auto_renewal",
			Description: "renew expiring subscriptions that opted into auto-renew",
			Schedule:    Daily(0, 0),
			handler:     s.AutoRenewalJob,
		},
		{
			Name:        "payment_retry",
			Description: "nudge admins stuck in pending payment after a recent failure",
			Schedule:    Daily(10, 0),
			handler:     s.PaymentRetryJob,
		},
		{
			Name:        "inactive_cleanup",
			Description: "archive subscriptions expired for more than thirty days",
			Schedule:    Weekly(time.Sunday, 2, 0),
			handler:     s.InactiveCleanupJob,
		},
	}
	return s, nil
}

// runJob wraps a handler with timeout, run logging and metrics. Handler
// errors are aggregated, never fatal to the loop.
func (s *Scheduler) runJob(parent context.Context, job *Job) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(job.Name)
	s.logJobStart(run)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(job.Name)

	err := job.handler(contextWithJobRun(ctx, run))
	schedMetrics.ObserveJobDuration(job.Name, s.clock.Now().Sub(start))
	schedMetrics.AddItemsProcessed(job.Name, run.processedCount)
	schedMetrics.AddItemsFailed(job.Name, run.errorCount)

	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(run)

	if err == nil {
		return nil
	}
	schedMetrics.IncJobError(job.Name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", job.Name),
			zap.Duration("timeout", s.cfg.JobTimeout),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", job.Name, err)
}

// RunOnce evaluates every schedule against the clock and runs the jobs
// that are due.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	var err error

	for _, job := range s.jobs {
		s.mu.Lock()
		lastRun := job.lastRun
		s.mu.Unlock()

		if !job.Schedule.due(lastRun, now) {
			continue
		}
		err = errors.Join(err, s.runJob(ctx, job))
		s.mu.Lock()
		job.lastRun = now
		s.mu.Unlock()
	}
	return err
}

// Trigger runs one job immediately, regardless of its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			err := s.runJob(ctx, job)
			s.mu.Lock()
			job.lastRun = s.clock.Now()
			s.mu.Unlock()
			return err
		}
	}
	return ErrUnknownJob
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.runLoop(ctx, s.done)
	s.log.Info("scheduler started", zap.Duration("tick_interval", s.cfg.TickInterval))
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		statuses = append(statuses, JobStatus{
			Name:        job.Name,
			Description: job.Description,
			Schedule:    job.Schedule.String(),
			Running:     s.running,
			LastRun:     job.lastRun,
		})
	}
	return Status{Running: s.running, Jobs: statuses}
}

type jobRunKey struct{}

func contextWithJobRun(ctx context.Context, run *jobRun) context.Context {
	return context.WithValue(ctx, jobRunKey{}, run)
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}
