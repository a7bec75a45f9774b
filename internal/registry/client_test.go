package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegister_Success(t *testing.T) {
	var received Station
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/stations/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "station-test-1", "1.0.0", zap.NewNop())

	err := client.Register(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "station-test-1", received.StationID)
	assert.Equal(t, "1.0.0", received.Version)
	assert.NotEmpty(t, received.Hostname)
}

func TestRegister_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":"error","msg":"duplicate station"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "station-test-1", "1.0.0", zap.NewNop())

	err := client.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate station")
}
