package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, 2*time.Second, nil)
	require.NoError(t, err)
	return c
}

func TestSendPostsContract(t *testing.T) {
	var got SendRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Message{ID: "c1", FromUID: got.FromUID, ToUID: got.ToUID, Body: got.Body, ClientID: got.ClientID, CreatedAt: 1000})
	})

	msg, err := c.Send(context.Background(), "U1", "U2", "hi", "c1")
	require.NoError(t, err)
	assert.Equal(t, SendRequest{FromUID: "U1", ToUID: "U2", Body: "hi", ClientID: "c1"}, got)
	assert.Equal(t, int64(1000), msg.CreatedAt)
	assert.Equal(t, "c1", msg.ID)
}

func TestSinceQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/since", r.URL.Path)
		assert.Equal(t, "500", r.URL.Query().Get("since"))
		assert.Equal(t, "U1", r.URL.Query().Get("uid"))
		_ = json.NewEncoder(w).Encode([]Message{
			{ID: "a", FromUID: "U2", ToUID: "U1", CreatedAt: 600},
			{ID: "b", FromUID: "U3", ToUID: "U1", CreatedAt: 700},
		})
	})

	msgs, err := c.Since(context.Background(), "U1", 500)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(700), msgs[1].CreatedAt)
}

func TestHTTPFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		wantFault Fault
	}{
		{"server error with text", http.StatusServiceUnavailable, "maintenance", "maintenance", FaultServer},
		{"server error without body", http.StatusInternalServerError, "", "request failed with status 500 (Internal Server Error)", FaultServer},
		{"client error envelope", http.StatusBadRequest, `{"error":"toUid is required"}`, "toUid is required", FaultClient},
		{"not found", http.StatusNotFound, "no such user", "no such user", FaultClient},
		{"empty success body", http.StatusOK, "", "empty response body", FaultServer},
		{"malformed success body", http.StatusOK, "{not json", "", FaultServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Send(context.Background(), "U1", "U2", "hi", "c1")
			require.Error(t, err)

			var re *Error
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.status, re.StatusCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, re.Message)
			}
			assert.Equal(t, tt.wantFault, Classify(err))
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, time.Second, nil)
	require.NoError(t, err)

	_, err = c.Since(context.Background(), "U1", 0)
	require.Error(t, err)

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Zero(t, re.StatusCode)
	assert.Equal(t, FaultTransport, Classify(err))
	assert.True(t, Classify(err).Retryable())
	assert.False(t, c.Reachable(context.Background()))
}

func TestTimeoutIsTransportFault(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(srv.URL, 50*time.Millisecond, nil)
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "U1", "U2", "hi", "c1")
	assert.Equal(t, FaultTransport, Classify(err))
}

func TestClassifyForeignError(t *testing.T) {
	assert.Equal(t, FaultNone, Classify(errors.New("disk full")))
	assert.False(t, FaultClient.Retryable())
	assert.True(t, FaultServer.Retryable())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", time.Second, nil)
	assert.Error(t, err)
}

func TestReachable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.True(t, c.Reachable(context.Background()))
}
