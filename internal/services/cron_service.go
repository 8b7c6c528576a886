package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parkmy/slot-reservation-backend/internal/config"
	"github.com/parkmy/slot-reservation-backend/pkg/clock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron           *cron.Cron
	reconciliation *ReconciliationService
	clock          clock.Clock
	cfg            config.SchedulerConfig
	logger         *logrus.Logger

	mu         sync.Mutex
	names      map[cron.EntryID]string
	lastReport TickReport
	lastError  error
}

// NewCronService creates a new CronService
func NewCronService(reconciliation *ReconciliationService, clk clock.Clock, cfg config.SchedulerConfig, logger *logrus.Logger) *CronService {
	cronLogger := cron.PrintfLogger(logger)

	// Seconds precision; a tick still running when the next one fires is skipped
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &CronService{
		cron:           c,
		reconciliation: reconciliation,
		clock:          clk,
		cfg:            cfg,
		logger:         logger,
		names:          make(map[cron.EntryID]string),
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: Reconciliation tick
	// Cron format: second minute hour day month weekday
	// "0 * * * * *" = At second 0 of every minute
	id, err := s.cron.AddFunc(s.cfg.ReconcileSpec, s.reconcileJob)
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.names[id] = "reconcile"
	s.logger.WithField("schedule", s.cfg.ReconcileSpec).Info("✓ Scheduled: Reconciliation tick")

	// Job 2: Booking reminders
	id, err = s.cron.AddFunc(s.cfg.ReminderSpec, s.reminderJob)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder job: %w", err)
	}
	s.names[id] = "reminders"
	s.logger.WithField("schedule", s.cfg.ReminderSpec).Info("✓ Scheduled: Booking reminders")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")

	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

// reconcileJob runs one reconciliation tick at the current time
func (s *CronService) reconcileJob() {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()

	report, err := s.reconciliation.Tick(ctx, s.clock.Now())

	s.mu.Lock()
	s.lastReport = report
	s.lastError = err
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Reconciliation tick finished with errors")
		return
	}
	s.logger.WithField("duration", time.Since(startTime).String()).Debug("[CRON] Reconciliation tick done")
}

// reminderJob notifies users of bookings starting soon
func (s *CronService) reminderJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.reconciliation.SendReminders(ctx, s.clock.Now()); err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to send booking reminders")
	}
}

// RunReconcileNow runs a reconciliation tick immediately and returns its report
func (s *CronService) RunReconcileNow(ctx context.Context) (TickReport, error) {
	s.logger.Info("[MANUAL] Running reconciliation tick now...")
	report, err := s.reconciliation.Tick(ctx, s.clock.Now())

	s.mu.Lock()
	s.lastReport = report
	s.lastError = err
	s.mu.Unlock()

	return report, err
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"name":     s.names[entry.ID],
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":     len(entries) > 0,
		"job_count":   len(entries),
		"jobs":        jobs,
		"last_report": s.lastReport,
	}
	if s.lastError != nil {
		status["last_error"] = s.lastError.Error()
	}
	return status
}
