package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor is an httptest stand-in for the automation host.
type fakeExecutor struct {
	mux          *http.ServeMux
	executeCount atomic.Int64
	closed       atomic.Int64
	notReadyFor  int64 // respond 503 to the first N execute calls
	response     Response
}

func newFakeExecutor(t *testing.T, resp Response, notReadyFor int64) (*fakeExecutor, *Client) {
	t.Helper()
	f := &fakeExecutor{mux: http.NewServeMux(), response: resp, notReadyFor: notReadyFor}

	f.mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "sess-1"}) //nolint:errcheck
	})
	f.mux.HandleFunc("POST /sessions/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		if f.executeCount.Add(1) <= f.notReadyFor {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(f.response) //nolint:errcheck
	})
	f.mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.closed.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return f, NewClient(srv.URL, 5*time.Second)
}

func TestAcquireSendClose(t *testing.T) {
	ctx := context.Background()
	fake, client := newFakeExecutor(t, Response{Status: StatusOK, Result: json.RawMessage(`{"owner":"unknown"}`)}, 0)

	sess, err := client.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)

	resp, err := sess.Send(ctx, Request{Kind: "SCRAPE", PropertyID: "prop-1", Address: "addr"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.JSONEq(t, `{"owner":"unknown"}`, string(resp.Result))

	require.NoError(t, sess.Close(ctx))
	assert.Equal(t, int64(1), fake.closed.Load())
}

func TestSend_NotReadyIs503(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeExecutor(t, Response{Status: StatusOK}, 1)

	sess, err := client.Acquire(ctx)
	require.NoError(t, err)

	_, err = sess.Send(ctx, Request{Kind: "SCRAPE"})
	require.Error(t, err)
	assert.True(t, IsNotReady(err), "503 must classify as not-ready")

	// Second delivery goes through once the listener is up.
	resp, err := sess.Send(ctx, Request{Kind: "SCRAPE"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestSend_SkippedResponse(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeExecutor(t, Response{Status: StatusSkipped, Reason: "submission disabled"}, 0)

	sess, err := client.Acquire(ctx)
	require.NoError(t, err)

	resp, err := sess.Send(ctx, Request{Kind: "SUBMIT"})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, resp.Status)
	assert.Equal(t, "submission disabled", resp.Reason)
}

func TestAcquire_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	_, err := client.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestAcquire_EmptySessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second)
	_, err := client.Acquire(context.Background())
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	_, client := newFakeExecutor(t, Response{Status: StatusOK}, 0)
	assert.NoError(t, client.Ping(context.Background()))

	down := NewClient("http://127.0.0.1:1", time.Second)
	assert.Error(t, down.Ping(context.Background()))
}
