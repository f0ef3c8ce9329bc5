package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminClient_EnsureUser(t *testing.T) {
	var (
		mu    sync.Mutex
		users = []adminUser{{ID: "id-existing", Email: "admin@notehub.dev"}}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "service-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{"users": users})
		case http.MethodPost:
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			u := adminUser{ID: "id-new", Email: body["email"].(string)}
			users = append(users, u)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(u)
		}
	}))
	defer srv.Close()

	client := NewAdminClient(srv.URL, "service-key")

	id, err := client.EnsureUser(context.Background(), "admin@notehub.dev", "pw")
	require.NoError(t, err)
	assert.Equal(t, "id-existing", id)

	id, err = client.EnsureUser(context.Background(), "author@notehub.dev", "pw")
	require.NoError(t, err)
	assert.Equal(t, "id-new", id)

	_, err = NewAdminClient(srv.URL, "wrong").EnsureUser(context.Background(), "x@notehub.dev", "pw")
	assert.ErrorContains(t, err, "status 401")
}
