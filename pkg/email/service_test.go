package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_ConsoleMode(t *testing.T) {
	svc := NewService("from@example.com", "Creator Payouts", "")
	assert.False(t, svc.useSendGrid)
	assert.Equal(t, "from@example.com", svc.fromEmail)
	assert.Equal(t, "Creator Payouts", svc.fromName)

	err := svc.SendRawEmail(context.Background(), "user@example.com", "Test User", "Hi", "<p>hi</p>", "hi")
	assert.NoError(t, err, "Console mode should not error")
}

func TestNewService_SendGridMode(t *testing.T) {
	svc := NewService("from@example.com", "Creator Payouts", "SG.test-key")
	assert.True(t, svc.useSendGrid)
	assert.Equal(t, "SG.test-key", svc.sendGridKey)
}

func TestSendRawEmail_SendGrid(t *testing.T) {
	t.Run("Success - message posted", func(t *testing.T) {
		var body map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/mail/send", r.URL.Path)
			assert.Equal(t, "Bearer SG.test-key", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		svc := NewService("from@example.com", "Creator Payouts", "SG.test-key").WithSendGridHost(srv.URL)
		err := svc.SendRawEmail(context.Background(), "ana@example.com", "Ana", "Payout sent", "<p>sent</p>", "sent")
		require.NoError(t, err)
		assert.Equal(t, "Payout sent", body["subject"])
	})

	t.Run("Failure - error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
		}))
		defer srv.Close()

		svc := NewService("from@example.com", "Creator Payouts", "SG.bad").WithSendGridHost(srv.URL)
		err := svc.SendRawEmail(context.Background(), "ana@example.com", "Ana", "Payout sent", "<p>sent</p>", "sent")
		assert.Error(t, err)
	})
}
