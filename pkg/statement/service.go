package statement

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
)

// Payouts lists payout requests for statements.
type Payouts interface {
	ListOpenPayoutRequests(ctx context.Context) ([]*ledger.PayoutRequest, error)
	ListCompletedSince(ctx context.Context, since time.Time) ([]*ledger.PayoutRequest, error)
}

// Service builds statements from the payout workflow.
type Service struct {
	payouts Payouts
	archive Archive
	logger  logger.Logger
}

// NewService creates a statement service. archive may be nil if daily
// statements are not archived.
func NewService(payouts Payouts, archive Archive, log logger.Logger) *Service {
	return &Service{payouts: payouts, archive: archive, logger: log}
}

// WriteQueue writes the open review queue as xlsx.
func (s *Service) WriteQueue(ctx context.Context, w io.Writer) error {
	open, err := s.payouts.ListOpenPayoutRequests(ctx)
	if err != nil {
		return err
	}
	return WriteWorkbook(w, "Open payouts", open)
}

// DailyResult describes an archived daily statement.
type DailyResult struct {
	Day      time.Time
	Count    int
	Location string
}

// ArchiveDaily writes the payouts completed on the UTC day containing day
// and stores the file. Days without payouts still produce a statement.
func (s *Service) ArchiveDaily(ctx context.Context, day time.Time) (*DailyResult, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("no statement archive configured")
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	completed, err := s.payouts.ListCompletedSince(ctx, start)
	if err != nil {
		return nil, err
	}
	var rows []*ledger.PayoutRequest
	for _, r := range completed {
		if r.CompletedAt != nil && r.CompletedAt.Before(end) {
			rows = append(rows, r)
		}
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, "Completed "+start.Format("2006-01-02"), rows); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("statements/%s/payouts-%s.xlsx", start.Format("2006/01"), start.Format("2006-01-02"))
	location, err := s.archive.Put(ctx, key, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Daily payout statement archived", "day", start.Format("2006-01-02"), "count", len(rows), "location", location)
	return &DailyResult{Day: start, Count: len(rows), Location: location}, nil
}
