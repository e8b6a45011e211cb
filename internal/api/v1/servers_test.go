package v1_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/mcpbridge/internal/api/v1"
	"github.com/gosuda/mcpbridge/internal/bridge"
)

type mockStatusProvider struct {
	statuses []bridge.Status
}

func (m *mockStatusProvider) List() []bridge.Status {
	return m.statuses
}

func (m *mockStatusProvider) Status(name string) (bridge.Status, bool) {
	for _, s := range m.statuses {
		if s.Name == name {
			return s, true
		}
	}
	return bridge.Status{}, false
}

func newServersTestAPI(t *testing.T, statuses []bridge.Status) humatest.TestAPI {
	t.Helper()

	_, api := humatest.New(t)
	v1.RegisterServerRoutes(api, &mockStatusProvider{statuses: statuses})
	return api
}

func makeStatus(name, state string) bridge.Status {
	now := time.Now()
	return bridge.Status{
		Name:       name,
		InstanceID: uuid.New(),
		State:      state,
		PID:        1234,
		StartedAt:  &now,
	}
}

func TestListServers(t *testing.T) {
	t.Parallel()

	t.Run("returns all bridges", func(t *testing.T) {
		t.Parallel()

		api := newServersTestAPI(t, []bridge.Status{
			makeStatus("math", "running"),
			makeStatus("supabase", "exited"),
		})

		resp := api.Get("/servers")

		require.Equal(t, http.StatusOK, resp.Code)

		var statuses []bridge.Status
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &statuses))
		require.Len(t, statuses, 2)
		assert.Equal(t, "math", statuses[0].Name)
		assert.Equal(t, "exited", statuses[1].State)
	})

	t.Run("empty registry", func(t *testing.T) {
		t.Parallel()

		api := newServersTestAPI(t, nil)

		resp := api.Get("/servers")

		require.Equal(t, http.StatusOK, resp.Code)
	})
}

func TestGetServer(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		api := newServersTestAPI(t, []bridge.Status{makeStatus("math", "running")})

		resp := api.Get("/servers/math")

		require.Equal(t, http.StatusOK, resp.Code)

		var status bridge.Status
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
		assert.Equal(t, "math", status.Name)
		assert.Equal(t, "running", status.State)
		assert.Equal(t, 1234, status.PID)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		api := newServersTestAPI(t, nil)

		resp := api.Get("/servers/ghost")

		require.Equal(t, http.StatusNotFound, resp.Code)
	})
}
