package sqlstore

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	accountsTable = "creator_accounts"
	postingsTable = "commission_postings"
	requestsTable = "payout_requests"
)

var (
	accountColumns = []*schema.Column{
		{Name: "creator_id", Type: field.TypeString, Size: 128},
		{Name: "available", Type: field.TypeInt64},
		{Name: "pending", Type: field.TypeInt64},
		{Name: "lifetime_earned", Type: field.TypeInt64},
		{Name: "lifetime_withdrawn", Type: field.TypeInt64},
		{Name: "version", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// AccountsTable holds the balances of each creator.
	AccountsTable = &schema.Table{
		Name:       accountsTable,
		Columns:    accountColumns,
		PrimaryKey: []*schema.Column{accountColumns[0]},
	}

	postingColumns = []*schema.Column{
		{Name: "event_id", Type: field.TypeString, Size: 255},
		{Name: "creator_id", Type: field.TypeString, Size: 128},
		{Name: "qualifying_amount", Type: field.TypeInt64},
		{Name: "bonus_rate_percent", Type: field.TypeString, Size: 32},
		{Name: "tier_name", Type: field.TypeString, Size: 64},
		{Name: "tier_rate_percent", Type: field.TypeString, Size: 32},
		{Name: "base_amount", Type: field.TypeInt64},
		{Name: "bonus_amount", Type: field.TypeInt64},
		{Name: "total_amount", Type: field.TypeInt64},
		{Name: "available_after", Type: field.TypeInt64},
		{Name: "lifetime_earned_after", Type: field.TypeInt64},
		{Name: "posted_at", Type: field.TypeTime},
	}
	// PostingsTable is the commission dedup index keyed by event id.
	PostingsTable = &schema.Table{
		Name:       postingsTable,
		Columns:    postingColumns,
		PrimaryKey: []*schema.Column{postingColumns[0]},
		Indexes: []*schema.Index{
			{Name: "commissionposting_creator_id_posted_at", Columns: []*schema.Column{postingColumns[1], postingColumns[11]}},
		},
	}

	requestColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 64},
		{Name: "creator_id", Type: field.TypeString, Size: 128},
		{Name: "amount", Type: field.TypeInt64},
		{Name: "destination", Type: field.TypeJSON},
		{Name: "state", Type: field.TypeString, Size: 16},
		{Name: "idempotency_key", Type: field.TypeString, Size: 255, Nullable: true},
		{Name: "operator_id", Type: field.TypeString, Size: 128},
		{Name: "rejection_reason", Type: field.TypeString, Size: 2147483647},
		{Name: "failure_reason", Type: field.TypeString, Size: 2147483647},
		{Name: "settlement_reference", Type: field.TypeString, Size: 255},
		{Name: "requested_at", Type: field.TypeTime},
		{Name: "decided_at", Type: field.TypeTime, Nullable: true},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// PayoutRequestsTable holds every payout request, indexed by creator and state.
	PayoutRequestsTable = &schema.Table{
		Name:       requestsTable,
		Columns:    requestColumns,
		PrimaryKey: []*schema.Column{requestColumns[0]},
		Indexes: []*schema.Index{
			{Name: "payoutrequest_creator_id_requested_at", Columns: []*schema.Column{requestColumns[1], requestColumns[10]}},
			{Name: "payoutrequest_state_requested_at", Columns: []*schema.Column{requestColumns[4], requestColumns[10]}},
			{Name: "payoutrequest_state_completed_at", Columns: []*schema.Column{requestColumns[4], requestColumns[12]}},
			{Name: "payoutrequest_creator_id_idempotency_key", Unique: true, Columns: []*schema.Column{requestColumns[1], requestColumns[5]}},
		},
	}

	// Tables lists every ledger table in creation order.
	Tables = []*schema.Table{AccountsTable, PostingsTable, PayoutRequestsTable}
)

// Migrate creates or updates the ledger tables.
func Migrate(ctx context.Context, drv dialect.Driver) error {
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("failed creating migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("failed creating schema resources: %w", err)
	}
	return nil
}
