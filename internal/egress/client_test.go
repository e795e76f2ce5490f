package egress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuel-valencia/lab-framework/internal/hardware"
)

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient("wm1", u.Hostname(), port, time.Second)
}

func TestSendPostsRecords(t *testing.T) {
	var gotPath string
	var gotBody sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "saved": "wm1_run.csv"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	saved, err := c.Send([]hardware.Record{{"t": 0.0, "value": 1.0}}, "run")
	require.NoError(t, err)

	assert.Equal(t, "wm1_run.csv", saved)
	assert.Equal(t, "/data/wm1", gotPath)
	assert.Equal(t, "run", gotBody.ExperimentName)
	require.Len(t, gotBody.Data, 1)
}

func TestSendRejectedByService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "disk full"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	_, err := c.Send([]hardware.Record{{"t": 0.0}}, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSendEmpty(t *testing.T) {
	c := NewClient("wm1", "localhost", 5000, time.Second)
	_, err := c.Send(nil, "run")
	assert.Error(t, err)
}

func TestCheckHealth(t *testing.T) {
	// Case 1: online service.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"status": "online"})
	}))
	assert.True(t, clientFor(t, srv).CheckHealth())
	srv.Close()

	// Case 2: wrong status payload.
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
	}))
	assert.False(t, clientFor(t, srv).CheckHealth())
	srv.Close()

	// Case 3: unreachable service.
	assert.False(t, NewClient("wm1", "localhost", 1, time.Second).CheckHealth())
}
