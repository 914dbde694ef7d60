package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber_Healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	resp, err := NewHTTPProber(nil, nil).Probe(context.Background(), server.URL+"/health", time.Second)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(resp.Body))
}

func TestHTTPProber_Non200IsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := NewHTTPProber(nil, nil).Probe(context.Background(), server.URL, time.Second)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := NewHTTPProber(nil, nil).Probe(context.Background(), server.URL, 50*time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProbeFailed))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPProber_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewHTTPProber(nil, nil).Probe(context.Background(), url, time.Second)

	assert.ErrorIs(t, err, ErrProbeFailed)
}

func TestHTTPProber_BodyIsCapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", MaxBodySize+100)))
	}))
	defer server.Close()

	resp, err := NewHTTPProber(nil, nil).Probe(context.Background(), server.URL, time.Second)

	require.NoError(t, err)
	assert.Len(t, resp.Body, MaxBodySize)
}

func TestHTTPProber_BadURL(t *testing.T) {
	_, err := NewHTTPProber(nil, nil).Probe(context.Background(), "://nope", time.Second)
	assert.ErrorIs(t, err, ErrProbeFailed)
}
