package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/apperr"
)

func TestHTTPDispatcherPostsJSON(t *testing.T) {
	var (
		got     Notification
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "secret")
	n := Notification{ID: "n-1", Channel: ChannelMessage, To: "+491511", Body: "hi", AssignmentID: "ASN1"}
	require.NoError(t, d.Notify(context.Background(), n))

	assert.Equal(t, n, got)
	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "n-1", headers.Get("Idempotency-Key"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestHTTPDispatcherGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPDispatcher(srv.URL, "").Notify(context.Background(), Notification{ID: "n-2", Channel: ChannelCall})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnavailable))
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPDispatcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPDispatcher(url, "").Notify(context.Background(), Notification{ID: "n-3"})
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}
