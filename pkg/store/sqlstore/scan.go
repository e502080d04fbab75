package sqlstore

import (
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/jordanlanch/creatorledger/pkg/ledger"
)

var accountFields = []string{
	"creator_id", "available", "pending", "lifetime_earned", "lifetime_withdrawn",
	"version", "created_at", "updated_at",
}

func scanAccount(rows *sql.Rows) (*ledger.Account, error) {
	a := &ledger.Account{}
	err := rows.Scan(
		&a.CreatorID, &a.Available, &a.Pending, &a.LifetimeEarned, &a.LifetimeWithdrawn,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

var postingFields = []string{
	"event_id", "creator_id", "qualifying_amount", "bonus_rate_percent", "tier_name",
	"tier_rate_percent", "base_amount", "bonus_amount", "total_amount", "available_after",
	"lifetime_earned_after", "posted_at",
}

func scanPosting(rows *sql.Rows) (*ledger.Posting, error) {
	p := &ledger.Posting{}
	err := rows.Scan(
		&p.EventID, &p.CreatorID, &p.QualifyingAmount, &p.BonusRatePercent, &p.TierName,
		&p.TierRatePercent, &p.Base, &p.Bonus, &p.Total, &p.AvailableAfter,
		&p.LifetimeEarnedAfter, &p.PostedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan posting: %w", err)
	}
	return p, nil
}

func postingValues(p *ledger.Posting) []any {
	return []any{
		p.EventID, p.CreatorID, p.QualifyingAmount.Cents(), p.BonusRatePercent.String(), p.TierName,
		p.TierRatePercent.String(), p.Base.Cents(), p.Bonus.Cents(), p.Total.Cents(), p.AvailableAfter.Cents(),
		p.LifetimeEarnedAfter.Cents(), p.PostedAt,
	}
}

var requestFields = []string{
	"id", "creator_id", "amount", "destination", "state", "idempotency_key", "operator_id",
	"rejection_reason", "failure_reason", "settlement_reference", "requested_at",
	"decided_at", "completed_at", "updated_at",
}

func scanRequest(rows *sql.Rows) (*ledger.PayoutRequest, error) {
	var (
		r           ledger.PayoutRequest
		destination []byte
		state       string
		key         stdsql.NullString
		decidedAt   stdsql.NullTime
		completedAt stdsql.NullTime
	)
	err := rows.Scan(
		&r.ID, &r.CreatorID, &r.Amount, &destination, &state, &key, &r.OperatorID,
		&r.RejectionReason, &r.FailureReason, &r.SettlementReference, &r.RequestedAt,
		&decidedAt, &completedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan payout request: %w", err)
	}
	if err := json.Unmarshal(destination, &r.Destination); err != nil {
		return nil, fmt.Errorf("decode destination of %s: %w", r.ID, err)
	}

	r.State = ledger.State(state)
	r.IdempotencyKey = key.String
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func requestValues(r *ledger.PayoutRequest) ([]any, error) {
	destination, err := json.Marshal(r.Destination)
	if err != nil {
		return nil, fmt.Errorf("encode destination: %w", err)
	}
	return []any{
		r.ID, r.CreatorID, r.Amount.Cents(), string(destination), string(r.State), nullString(r.IdempotencyKey), r.OperatorID,
		r.RejectionReason, r.FailureReason, r.SettlementReference, r.RequestedAt,
		nullTime(r.DecidedAt), nullTime(r.CompletedAt), r.UpdatedAt,
	}, nil
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) stdsql.NullTime {
	if t == nil {
		return stdsql.NullTime{}
	}
	return stdsql.NullTime{Time: *t, Valid: true}
}
