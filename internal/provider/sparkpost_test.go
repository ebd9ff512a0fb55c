package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		CampaignID:  uuid.New(),
		ContactID:   uuid.New(),
		Email:       "jane@example.com",
		FromName:    "Acme News",
		FromEmail:   "news@acme.com",
		Subject:     "Hello Jane",
		HTMLContent: "<p>Hi Jane</p>",
	}
}

func TestSparkPostSendSuccess(t *testing.T) {
	var gotAuth string
	var gotBody sparkPostTransmission

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":{"id":"tx-12345"}}`))
	}))
	defer srv.Close()

	sp := NewSparkPost("test-key", srv.URL)
	sp.SetHTTPClient(srv.Client())

	msg := testMessage()
	result, err := sp.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "tx-12345", result.MessageID)
	assert.Equal(t, "sparkpost", result.Provider)
	assert.Equal(t, "test-key", gotAuth)

	require.Len(t, gotBody.Recipients, 1)
	assert.Equal(t, "jane@example.com", gotBody.Recipients[0].Address.Email)
	assert.Equal(t, msg.CampaignID.String(), gotBody.Metadata["campaign_id"])
	assert.Equal(t, msg.ContactID.String(), gotBody.Metadata["contact_id"])
	assert.True(t, gotBody.Options.OpenTracking)
}

func TestSparkPostSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"message":"Too many requests","code":"1611"}]}`))
	}))
	defer srv.Close()

	sp := NewSparkPost("test-key", srv.URL)
	sp.SetHTTPClient(srv.Client())

	_, err := sp.Send(context.Background(), testMessage())
	require.Error(t, err)

	assert.True(t, IsRateLimit(err))
	assert.Equal(t, 30*time.Second, RetryAfter(err))
}

func TestSparkPostSendRateLimitedNoHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sp := NewSparkPost("test-key", srv.URL)
	sp.SetHTTPClient(srv.Client())

	_, err := sp.Send(context.Background(), testMessage())
	require.Error(t, err)

	assert.True(t, IsRateLimit(err))
	assert.Equal(t, time.Duration(0), RetryAfter(err))
}

func TestSparkPostSendPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"Invalid recipient address","code":"7001"}]}`))
	}))
	defer srv.Close()

	sp := NewSparkPost("test-key", srv.URL)
	sp.SetHTTPClient(srv.Client())

	_, err := sp.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.False(t, IsRateLimit(err))

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "7001", sendErr.Code)
	assert.Equal(t, "Invalid recipient address", sendErr.Message)
}

func TestSparkPostMissingAPIKey(t *testing.T) {
	sp := NewSparkPost("", "")

	_, err := sp.Send(context.Background(), testMessage())
	require.Error(t, err)

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "not_configured", sendErr.Code)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 10*time.Second, parseRetryAfter("10"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}
