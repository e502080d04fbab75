package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
)

// OpenPayouts lists requests still holding funds.
type OpenPayouts interface {
	ListOpenPayoutRequests(ctx context.Context) ([]*ledger.PayoutRequest, error)
}

// QueueRecorder receives the size of the review queue.
type QueueRecorder interface {
	UpdatePayoutQueue(count int, lockedCents int64)
}

// QueueStats summarizes the open payout requests.
type QueueStats struct {
	Open     int
	Locked   money.Money
	Oldest   *time.Time
	StaleIDs []string
}

// QueueMonitor watches the payout review queue.
type QueueMonitor struct {
	payouts    OpenPayouts
	recorder   QueueRecorder
	staleAfter time.Duration
	logger     logger.Logger
	now        func() time.Time
}

// NewQueueMonitor creates a queue monitor. recorder may be nil.
func NewQueueMonitor(payouts OpenPayouts, recorder QueueRecorder, staleAfter time.Duration, log logger.Logger) *QueueMonitor {
	return &QueueMonitor{
		payouts:    payouts,
		recorder:   recorder,
		staleAfter: staleAfter,
		logger:     log,
		now:        time.Now,
	}
}

// Check refreshes the queue gauges and warns about requests that have
// been open longer than the stale threshold.
func (m *QueueMonitor) Check(ctx context.Context) (*QueueStats, error) {
	open, err := m.payouts.ListOpenPayoutRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open payouts: %w", err)
	}

	stats := &QueueStats{Open: len(open), Locked: money.Zero}
	cutoff := m.now().Add(-m.staleAfter)
	for _, r := range open {
		stats.Locked, err = stats.Locked.Add(r.Amount)
		if err != nil {
			return nil, err
		}
		if stats.Oldest == nil || r.RequestedAt.Before(*stats.Oldest) {
			at := r.RequestedAt
			stats.Oldest = &at
		}
		if m.staleAfter > 0 && r.RequestedAt.Before(cutoff) {
			stats.StaleIDs = append(stats.StaleIDs, r.ID)
			m.logger.Warn("Payout request waiting for review",
				"request_id", r.ID,
				"creator_id", r.CreatorID,
				"state", r.State,
				"requested_at", r.RequestedAt,
			)
		}
	}

	if m.recorder != nil {
		m.recorder.UpdatePayoutQueue(stats.Open, stats.Locked.Cents())
	}
	return stats, nil
}
