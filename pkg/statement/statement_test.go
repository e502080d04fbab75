package statement

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/jordanlanch/creatorledger/pkg/logger"
	"github.com/jordanlanch/creatorledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func completedRequest(id, amount string, at time.Time) *ledger.PayoutRequest {
	return &ledger.PayoutRequest{
		ID:        id,
		CreatorID: "creator-1",
		Amount:    money.MustParse(amount),
		Destination: ledger.Destination{
			Method:            ledger.MethodBankTransfer,
			AccountHolderName: "Ana Creator",
			BankName:          "First Bank",
			AccountNumber:     "000123456789",
		},
		State:               ledger.StateCompleted,
		OperatorID:          "op-1",
		SettlementReference: "wire-" + id,
		RequestedAt:         at.Add(-time.Hour),
		DecidedAt:           &at,
		CompletedAt:         &at,
		UpdatedAt:           at,
	}
}

type fakePayouts struct {
	open      []*ledger.PayoutRequest
	completed []*ledger.PayoutRequest
	err       error
}

func (f *fakePayouts) ListOpenPayoutRequests(context.Context) ([]*ledger.PayoutRequest, error) {
	return f.open, f.err
}

func (f *fakePayouts) ListCompletedSince(_ context.Context, since time.Time) ([]*ledger.PayoutRequest, error) {
	var out []*ledger.PayoutRequest
	for _, r := range f.completed {
		if !r.CompletedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, f.err
}

func openWorkbook(t *testing.T, r io.Reader) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWriteWorkbook(t *testing.T) {
	t.Run("Success - rows and total", func(t *testing.T) {
		at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		requests := []*ledger.PayoutRequest{
			completedRequest("req-1", "500.00", at),
			completedRequest("req-2", "125.50", at),
		}

		var buf bytes.Buffer
		require.NoError(t, WriteWorkbook(&buf, "Completed", requests))

		f := openWorkbook(t, &buf)
		assert.Equal(t, []string{"Completed"}, f.GetSheetList())

		header, err := f.GetCellValue("Completed", "A1")
		require.NoError(t, err)
		assert.Equal(t, "Request ID", header)

		id, _ := f.GetCellValue("Completed", "A2")
		amount, _ := f.GetCellValue("Completed", "C2")
		destination, _ := f.GetCellValue("Completed", "F2")
		reference, _ := f.GetCellValue("Completed", "K3")
		assert.Equal(t, "req-1", id)
		assert.Equal(t, "500.00", amount)
		assert.Equal(t, "First Bank ********6789", destination)
		assert.Equal(t, "wire-req-2", reference)

		label, _ := f.GetCellValue("Completed", "A4")
		total, _ := f.GetCellValue("Completed", "C4")
		assert.Equal(t, "Total", label)
		assert.Equal(t, "625.50", total)
	})

	t.Run("Success - empty list still has header and zero total", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteWorkbook(&buf, "Open payouts", nil))

		f := openWorkbook(t, &buf)
		total, _ := f.GetCellValue("Open payouts", "C2")
		assert.Equal(t, "0.00", total)
	})
}

func TestLocalArchive(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewLocalArchive(dir)
	require.NoError(t, err)

	location, err := archive.Put(context.Background(), "statements/2025/03/a.xlsx", bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "statements", "2025", "03", "a.xlsx"), location)

	content, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

func TestS3Archive(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	archive, err := NewS3Archive(context.Background(), S3Config{
		Region:          "us-east-1",
		Bucket:          "statements-bucket",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	location, err := archive.Put(context.Background(), "statements/a.xlsx", bytes.NewReader([]byte("xlsx")))
	require.NoError(t, err)
	assert.Equal(t, "s3://statements-bucket/statements/a.xlsx", location)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/statements-bucket/statements/a.xlsx", gotPath)
	assert.Equal(t, "xlsx", string(gotBody))
}

func TestArchiveDaily(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Success - only the requested day is included", func(t *testing.T) {
		payouts := &fakePayouts{completed: []*ledger.PayoutRequest{
			completedRequest("before", "10.00", day.Add(-time.Minute)),
			completedRequest("during", "20.00", day.Add(6*time.Hour)),
			completedRequest("after", "30.00", day.Add(25*time.Hour)),
		}}
		dir := t.TempDir()
		archive, err := NewLocalArchive(dir)
		require.NoError(t, err)

		svc := NewService(payouts, archive, logger.Nop())
		result, err := svc.ArchiveDaily(context.Background(), day.Add(15*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Count)
		assert.Equal(t, day, result.Day)
		assert.Equal(t, filepath.Join(dir, "statements", "2025", "03", "payouts-2025-03-01.xlsx"), result.Location)

		file, err := os.Open(result.Location)
		require.NoError(t, err)
		defer file.Close()
		f := openWorkbook(t, file)
		id, _ := f.GetCellValue("Completed 2025-03-01", "A2")
		assert.Equal(t, "during", id)
	})

	t.Run("Failure - no archive configured", func(t *testing.T) {
		svc := NewService(&fakePayouts{}, nil, logger.Nop())
		_, err := svc.ArchiveDaily(context.Background(), day)
		assert.Error(t, err)
	})

	t.Run("Failure - listing error", func(t *testing.T) {
		archive, err := NewLocalArchive(t.TempDir())
		require.NoError(t, err)
		svc := NewService(&fakePayouts{err: errors.New("db down")}, archive, logger.Nop())
		_, err = svc.ArchiveDaily(context.Background(), day)
		assert.Error(t, err)
	})
}

func TestWriteQueue(t *testing.T) {
	at := time.Now().UTC()
	pending := completedRequest("req-open", "42.00", at)
	pending.State = ledger.StatePending
	pending.CompletedAt = nil

	svc := NewService(&fakePayouts{open: []*ledger.PayoutRequest{pending}}, nil, logger.Nop())
	var buf bytes.Buffer
	require.NoError(t, svc.WriteQueue(context.Background(), &buf))

	f := openWorkbook(t, &buf)
	state, _ := f.GetCellValue("Open payouts", "D2")
	assert.Equal(t, "pending", state)
}
