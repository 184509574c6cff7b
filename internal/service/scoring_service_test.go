package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"speakedu_backend/internal/config"
	"speakedu_backend/internal/util"

	"github.com/stretchr/testify/require"
)

func newTestScoring(baseURL string, timeout time.Duration) *ScoringService {
	return NewScoringService(config.ScoringConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		TimeoutSeconds: timeout,
	})
}

func TestScoringService_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/assess", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accuracy":90,"fluency":85,"completeness":100,"pronunciation":88,"overall":89.5}`))
	}))
	defer srv.Close()

	s := newTestScoring(srv.URL, 5*time.Second)
	res, raw, err := s.Score(context.Background(), "/uploads/recordings/abc.webm", "Good morning!")
	require.NoError(t, err)
	require.Equal(t, 89.5, res.Overall)
	require.NotEmpty(t, raw, "raw payload must be preserved")
}

func TestScoringService_BadRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported codec", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := newTestScoring(srv.URL, 5*time.Second)
	_, _, err := s.Score(context.Background(), "ref", "text")
	var se *util.ScoringError
	require.ErrorAs(t, err, &se)
	require.Equal(t, util.ScoringCodeInvalidInput, se.Code)
	require.False(t, util.IsRetryable(err), "invalid_input must not be retryable")
}

func TestScoringService_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestScoring(srv.URL, 5*time.Second)
	_, _, err := s.Score(context.Background(), "ref", "text")
	var se *util.ScoringError
	require.ErrorAs(t, err, &se)
	require.Equal(t, util.ScoringCodeUnavailable, se.Code)
	require.True(t, util.IsRetryable(err), "service_unavailable must be retryable")
}

func TestScoringService_EmbeddedErrorCodePassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":{"code":"invalid_input","message":"audio too noisy"}}`))
	}))
	defer srv.Close()

	s := newTestScoring(srv.URL, 5*time.Second)
	_, _, err := s.Score(context.Background(), "ref", "text")
	var se *util.ScoringError
	require.ErrorAs(t, err, &se)
	require.Equal(t, util.ScoringCodeInvalidInput, se.Code)
	require.False(t, se.Retryable, "embedded invalid_input must be non-retryable")
}

func TestScoringService_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := newTestScoring(srv.URL, 20*time.Millisecond)
	_, _, err := s.Score(context.Background(), "ref", "text")
	var se *util.ScoringError
	require.ErrorAs(t, err, &se)
	require.Equal(t, util.ScoringCodeTimeout, se.Code)
	require.True(t, util.IsRetryable(err), "timeout must be retryable")
}

func TestScoringService_ConnectionRefused(t *testing.T) {
	s := newTestScoring("http://127.0.0.1:1", 2*time.Second)
	_, _, err := s.Score(context.Background(), "ref", "text")
	var se *util.ScoringError
	require.ErrorAs(t, err, &se)
	require.Equal(t, util.ScoringCodeUnavailable, se.Code)
}
