package jobs

import (
	"context"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/statement"
	"github.com/robfig/cron/v3"
)

// Schedules holds cron expressions for the background jobs.
type Schedules struct {
	QueueMonitor string
	Statement    string
}

// DailyStatements archives a statement for one day.
type DailyStatements interface {
	ArchiveDaily(ctx context.Context, day time.Time) (*statement.DailyResult, error)
}

// CronManager manages scheduled jobs
type CronManager struct {
	cron       *cron.Cron
	monitor    *QueueMonitor
	statements DailyStatements
	logger     logger.Logger
	now        func() time.Time
}

// NewCronManager creates a new cron manager. statements may be nil, in
// which case no statement job is scheduled.
func NewCronManager(monitor *QueueMonitor, statements DailyStatements, log logger.Logger) *CronManager {
	return &CronManager{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		monitor:    monitor,
		statements: statements,
		logger:     log,
		now:        time.Now,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs(s Schedules) error {
	if _, err := cm.cron.AddFunc(s.QueueMonitor, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cm.RunQueueCheck(ctx)
	}); err != nil {
		return err
	}

	if cm.statements != nil {
		if _, err := cm.cron.AddFunc(s.Statement, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			cm.RunDailyStatement(ctx)
		}); err != nil {
			return err
		}
	}

	cm.logger.Info("Cron jobs configured",
		"queue_monitor", s.QueueMonitor,
		"statement", s.Statement,
		"statements_enabled", cm.statements != nil,
	)
	return nil
}

// RunQueueCheck runs the queue monitor once.
func (cm *CronManager) RunQueueCheck(ctx context.Context) {
	stats, err := cm.monitor.Check(ctx)
	if err != nil {
		cm.logger.Error("Payout queue check failed", "error", err)
		return
	}
	cm.logger.Debug("Payout queue checked", "open", stats.Open, "locked", stats.Locked.String(), "stale", len(stats.StaleIDs))
}

// RunDailyStatement archives the statement for the previous UTC day.
func (cm *CronManager) RunDailyStatement(ctx context.Context) {
	day := cm.now().UTC().AddDate(0, 0, -1)
	if _, err := cm.statements.ArchiveDaily(ctx, day); err != nil {
		cm.logger.Error("Daily payout statement failed", "day", day.Format("2006-01-02"), "error", err)
	}
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Info("Starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for running jobs up to ctx.
func (cm *CronManager) Stop(ctx context.Context) {
	cm.logger.Info("Stopping cron scheduler")
	select {
	case <-cm.cron.Stop().Done():
	case <-ctx.Done():
	}
}
