package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kitchenbill/internal/clock"
	"github.com/smallbiznis/kitchenbill/internal/config"
	dunningdomain "github.com/smallbiznis/kitchenbill/internal/dunning/domain"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/kitchenbill/internal/observability/metrics"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const deferredReasonNoRecipient = "no_recipient"

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config `optional:"true"`
	ProjectSvc projectdomain.Service
	InvoiceSvc invoicedomain.Service
	DunningSvc dunningdomain.Service
	Dunning    *config.DunningConfigHolder `optional:"true"`
	Locker     *Locker                     `optional:"true"`
}

// Scheduler periodically re-evaluates due second payments and due
// reminders and acts on them.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	locker  jobLocker
	dunning *config.DunningConfigHolder

	projectSvc projectdomain.Service
	invoiceSvc invoicedomain.Service
	dunningSvc dunningdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.ProjectSvc == nil || p.InvoiceSvc == nil || p.DunningSvc == nil {
		return nil, ErrInvalidConfig
	}
	dunning := p.Dunning
	if dunning == nil {
		dunning = config.NewStaticDunningConfigHolder(config.DefaultDunningConfig())
	}
	s := &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		dunning:    dunning,
		projectSvc: p.ProjectSvc,
		invoiceSvc: p.InvoiceSvc,
		dunningSvc: p.DunningSvc,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()

	if s.locker != nil {
		key := lockKey(name)
		token, acquired, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		switch {
		case err != nil:
			// Unique indexes still guard every write, so the scan proceeds.
			log.Warn("scheduler lock unavailable, running unlocked", zap.Error(err))
		case !acquired:
			schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			log.Debug("scheduler job skipped, lock held by another replica")
			return nil
		default:
			defer func() {
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer releaseCancel()
				if err := s.locker.Release(releaseCtx, key, token); err != nil {
					log.Warn("scheduler lock release failed", zap.Error(err))
				}
			}()
		}
	}

	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out, retrying next tick",
			zap.Duration("timeout", timeout),
			zap.Bool("retryable", true),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{obsmetrics.JobSecondPayments, s.SecondPaymentsJob},
		{obsmetrics.JobReminders, s.RemindersJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// SecondPaymentsJob bills the second deposit of every project whose due date
// has come and whose schedule allows automatic creation.
func (s *Scheduler) SecondPaymentsJob(ctx context.Context) error {
	const job = obsmetrics.JobSecondPayments
	ctx, run, owner := s.ensureJobRun(ctx, job)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	projects, err := s.projectSvc.DueSecondPayments(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.scan.failed", job, err)
		return err
	}

	var jobErr error
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		if !project.Schedule().AutoCreateSecond {
			continue
		}

		invoice, err := s.invoiceSvc.CreateScheduledPayment(ctx, project.ID, paymentschedule.SlotSecond)
		switch {
		case errors.Is(err, invoicedomain.ErrScheduledPaymentExists):
			run.IncDeferred()
			schedMetrics.IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonConflict)
			continue
		case err != nil:
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.second_payment.failed", job, err,
				zap.String("project_id", project.ID.String()),
				zap.String("order_number", project.OrderNumber),
			)
			continue
		}

		run.AddProcessed(1)
		schedMetrics.AddBatchProcessed(job, "invoice", 1)
		s.logger(ctx).Info("scheduler.second_payment.created",
			zap.String("project_id", project.ID.String()),
			zap.String("invoice_number", invoice.InvoiceNumber),
		)
	}
	return jobErr
}

// RemindersJob sends every due reminder stage when automatic sending is
// switched on in the dunning config.
func (s *Scheduler) RemindersJob(ctx context.Context) error {
	const job = obsmetrics.JobReminders
	if !s.dunning.Get().AutoSendReminders {
		return nil
	}
	ctx, run, owner := s.ensureJobRun(ctx, job)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	due, err := s.dunningSvc.DueReminders(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.scan.failed", job, err)
		return err
	}

	var jobErr error
	for _, next := range due {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		if next.Type == nil {
			continue
		}

		_, err := s.dunningSvc.Send(ctx, dunningdomain.SendRequest{InvoiceID: next.InvoiceID, Type: *next.Type})
		switch {
		case errors.Is(err, invoicedomain.ErrIllegalTransition):
			run.IncDeferred()
			schedMetrics.IncBatchDeferred(job, obsmetrics.SchedulerBatchDeferredReasonConflict)
			continue
		case errors.Is(err, email.ErrNoRecipient):
			run.IncDeferred()
			schedMetrics.IncBatchDeferred(job, deferredReasonNoRecipient)
			s.logger(ctx).Warn("scheduler.reminder.no_recipient",
				zap.String("invoice_id", next.InvoiceID.String()),
				zap.String("invoice_number", next.InvoiceNumber),
			)
			continue
		case err != nil:
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.reminder.failed", job, err,
				zap.String("invoice_id", next.InvoiceID.String()),
				zap.String("stage", string(*next.Type)),
			)
			continue
		}

		run.AddProcessed(1)
		schedMetrics.AddBatchProcessed(job, "reminder", 1)
	}
	return jobErr
}
