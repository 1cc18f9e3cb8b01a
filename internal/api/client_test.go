package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchICEServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req iceConfigRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dev-1", req.DeviceID)
		assert.NotEmpty(t, req.RequestID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":0,"data":{"iceServers":[
			{"urls":["stun:stun.example.com:3478"]},
			{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"p"}
		]}}`))
	}))
	defer srv.Close()

	servers, err := NewClient(srv.URL, "secret", srv.Client()).FetchICEServers(context.Background(), "dev-1")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[1].URLs)
	assert.Equal(t, "u", servers[1].Username)
}

func TestFetchICEServers_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusUnauthorized, `{"msg":"denied"}`},
		{"api error", http.StatusOK, `{"result":3,"msg":"unknown device"}`},
		{"no servers", http.StatusOK, `{"result":0,"data":{"iceServers":[]}}`},
		{"bad json", http.StatusOK, `{"result":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", srv.Client()).FetchICEServers(context.Background(), "dev-1")
			assert.Error(t, err)
		})
	}
}
