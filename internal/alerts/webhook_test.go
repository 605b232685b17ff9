package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookChannelPostsJSON(t *testing.T) {
	var got Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	assert.Equal(t, "webhook", channel.Name())

	alert := Alert{
		Level:     LevelCritical,
		Title:     "Risk mode SEVERE",
		Message:   "daily loss 3.8% >= 3.5%",
		Mode:      "SEVERE",
		RiskBias:  0.45,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, channel.Send(context.Background(), alert))

	assert.Equal(t, LevelCritical, got.Level)
	assert.Equal(t, "SEVERE", got.Mode)
	assert.Equal(t, 0.45, got.RiskBias)
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)

	err = channel.Send(context.Background(), Alert{Level: LevelWarning, Title: "x"})
	assert.ErrorContains(t, err, "502")
}

func TestWebhookChannelRequiresURL(t *testing.T) {
	_, err := NewWebhookChannel("")
	assert.Error(t, err)
}
