// Package statement renders payout requests as spreadsheets: the operator
// review queue on demand and a daily statement of completed payouts.
package statement

import (
	"fmt"
	"io"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/xuri/excelize/v2"
)

var headers = []string{
	"Request ID", "Creator", "Amount", "State", "Method", "Destination",
	"Requested At", "Decided At", "Completed At", "Operator", "Reference / Reason",
}

// WriteWorkbook writes requests to w as a single-sheet xlsx file with a
// total row at the bottom.
func WriteWorkbook(w io.Writer, sheet string, requests []*ledger.PayoutRequest) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("failed to drop default sheet: %w", err)
		}
		index, _ = f.GetSheetIndex(sheet)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	total := money.Zero
	for i, r := range requests {
		total, err = total.Add(r.Amount)
		if err != nil {
			return fmt.Errorf("failed to total statement: %w", err)
		}

		row := []any{
			r.ID, r.CreatorID, r.Amount.String(), string(r.State), r.Destination.Method,
			destinationLabel(r.Destination), formatTime(&r.RequestedAt), formatTime(r.DecidedAt),
			formatTime(r.CompletedAt), r.OperatorID, note(r),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	totalRow := len(requests) + 2
	if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", totalRow), &[]any{"Total", len(requests), total.String()}); err != nil {
		return fmt.Errorf("failed to write total: %w", err)
	}
	if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", totalRow), fmt.Sprintf("C%d", totalRow), headerStyle); err != nil {
		return fmt.Errorf("failed to style total: %w", err)
	}

	if err := f.SetColWidth(sheet, "A", "K", 18); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	f.SetActiveSheet(index)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func destinationLabel(d ledger.Destination) string {
	m := d.Masked()
	if m.Method == ledger.MethodStripeConnect {
		return m.StripeAccountID
	}
	return m.BankName + " " + m.AccountNumber
}

func note(r *ledger.PayoutRequest) string {
	switch r.State {
	case ledger.StateCompleted:
		return r.SettlementReference
	case ledger.StateRejected:
		return r.RejectionReason
	case ledger.StateFailed:
		return r.FailureReason
	}
	return ""
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
