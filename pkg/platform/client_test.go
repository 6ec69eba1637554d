package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gqlServer fakes the GraphQL endpoint: handle receives the decoded
// request and returns the JSON to write.
func gqlServer(t *testing.T, handle func(req graphQLRequest, calls int64) (status int, body string)) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handle(req, n)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return srv, &calls
}

func testClient(url string) *Client {
	return NewClient("test-token", WithEndpoint(url), WithRateLimits(1000, 1000000))
}

func TestUnconfiguredClientShortCircuits(t *testing.T) {
	c := NewClient("")
	assert.False(t, c.Configured())

	_, err := c.GetService(context.Background(), "svc-1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = c.RestartDeployment(context.Background(), "dep-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGetServiceParsesInstances(t *testing.T) {
	srv, _ := gqlServer(t, func(req graphQLRequest, _ int64) (int, string) {
		assert.Equal(t, "svc-1", req.Variables["id"])
		return http.StatusOK, `{"data":{"service":{"id":"svc-1","name":"api","serviceInstances":{"edges":[
			{"node":{"environmentId":"env-1","numReplicas":2,"memoryLimitMb":512,"latestDeployment":{"id":"dep-9","status":"SUCCESS"}}}
		]}}}}`
	})
	defer srv.Close()

	svc, err := testClient(srv.URL).GetService(context.Background(), "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "api", svc.Name)
	require.Len(t, svc.Instances, 1)
	assert.Equal(t, 2, svc.Instances[0].NumReplicas)
	assert.Equal(t, "dep-9", svc.Instances[0].LatestDeployment.ID)
}

func TestGraphQLErrorsAreNotRetried(t *testing.T) {
	srv, calls := gqlServer(t, func(_ graphQLRequest, _ int64) (int, string) {
		return http.StatusOK, `{"errors":[{"message":"Not Authorized"},{"message":"Project not found"}]}`
	})
	defer srv.Close()

	_, err := testClient(srv.URL).GetService(context.Background(), "svc-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Messages, "Not Authorized")
	assert.Contains(t, apiErr.Messages, "Project not found")
	assert.Equal(t, int64(1), *calls, "semantic errors must not be retried")
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	srv, calls := gqlServer(t, func(_ graphQLRequest, _ int64) (int, string) {
		return http.StatusBadRequest, `bad request`
	})
	defer srv.Close()

	_, err := testClient(srv.URL).GetService(context.Background(), "svc-1")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, int64(1), *calls)
}

func TestServerErrorsAreRetried(t *testing.T) {
	srv, calls := gqlServer(t, func(_ graphQLRequest, n int64) (int, string) {
		if n == 1 {
			return http.StatusBadGateway, `upstream error`
		}
		return http.StatusOK, `{"data":{"service":{"id":"svc-1","name":"api","serviceInstances":{"edges":[]}}}}`
	})
	defer srv.Close()

	svc, err := testClient(srv.URL).GetService(context.Background(), "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "api", svc.Name)
	assert.Equal(t, int64(2), *calls, "a 5xx is retried")
}

func TestLatestDeploymentID(t *testing.T) {
	response := `{"data":{"service":{"id":"svc-1","name":"api","serviceInstances":{"edges":[
		{"node":{"environmentId":"env-other","latestDeployment":{"id":"dep-other","status":"SUCCESS"}}},
		{"node":{"environmentId":"env-1","latestDeployment":{"id":"dep-1","status":"SUCCESS"}}},
		{"node":{"environmentId":"env-empty","latestDeployment":null}}
	]}}}}`
	srv, _ := gqlServer(t, func(_ graphQLRequest, _ int64) (int, string) {
		return http.StatusOK, response
	})
	defer srv.Close()
	c := testClient(srv.URL)

	id, err := c.LatestDeploymentID(context.Background(), "svc-1", "env-1")
	require.NoError(t, err)
	assert.Equal(t, "dep-1", id, "instance is matched by environment")

	_, err = c.LatestDeploymentID(context.Background(), "svc-1", "env-empty")
	assert.ErrorIs(t, err, ErrNoDeployment)

	_, err = c.LatestDeploymentID(context.Background(), "svc-1", "env-missing")
	assert.ErrorIs(t, err, ErrNoInstanceForEnvironment)
}

func TestPreviousSuccessfulDeploymentID(t *testing.T) {
	srv, _ := gqlServer(t, func(_ graphQLRequest, _ int64) (int, string) {
		return http.StatusOK, `{"data":{"deployments":{"edges":[
			{"node":{"id":"dep-4","status":"SUCCESS","createdAt":"2026-08-24T12:00:00Z"}},
			{"node":{"id":"dep-3","status":"FAILED","createdAt":"2026-08-24T11:00:00Z"}},
			{"node":{"id":"dep-2","status":"SUCCESS","createdAt":"2026-08-24T10:00:00Z"}},
			{"node":{"id":"dep-1","status":"SUCCESS","createdAt":"2026-08-24T09:00:00Z"}}
		]}}}`
	})
	defer srv.Close()

	id, err := testClient(srv.URL).PreviousSuccessfulDeploymentID(context.Background(), "p1", "env-1", "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "dep-2", id, "second most recent SUCCESS, skipping failures")
}

func TestPreviousSuccessfulDeploymentIDNoTarget(t *testing.T) {
	srv, _ := gqlServer(t, func(_ graphQLRequest, _ int64) (int, string) {
		return http.StatusOK, `{"data":{"deployments":{"edges":[
			{"node":{"id":"dep-1","status":"SUCCESS","createdAt":"2026-08-24T09:00:00Z"}}
		]}}}`
	})
	defer srv.Close()

	_, err := testClient(srv.URL).PreviousSuccessfulDeploymentID(context.Background(), "p1", "env-1", "svc-1")
	assert.ErrorIs(t, err, ErrNoRollbackTarget)
}

func TestListDeploymentsSortsNewestFirst(t *testing.T) {
	srv, _ := gqlServer(t, func(req graphQLRequest, _ int64) (int, string) {
		assert.Equal(t, float64(20), req.Variables["first"], "non-positive limit defaults to 20")
		return http.StatusOK, `{"data":{"deployments":{"edges":[
			{"node":{"id":"older","status":"SUCCESS","createdAt":"2026-08-24T09:00:00Z"}},
			{"node":{"id":"newer","status":"SUCCESS","createdAt":"2026-08-24T12:00:00Z"}}
		]}}}`
	})
	defer srv.Close()

	deployments, err := testClient(srv.URL).ListDeployments(context.Background(), "p1", "env-1", "svc-1", 0)
	require.NoError(t, err)
	require.Len(t, deployments, 2)
	assert.Equal(t, "newer", deployments[0].ID)
}

func TestRestartDeploymentSendsMutation(t *testing.T) {
	srv, _ := gqlServer(t, func(req graphQLRequest, _ int64) (int, string) {
		assert.Contains(t, req.Query, "deploymentRestart")
		assert.Equal(t, "dep-1", req.Variables["id"])
		return http.StatusOK, `{"data":{"deploymentRestart":true}}`
	})
	defer srv.Close()

	assert.NoError(t, testClient(srv.URL).RestartDeployment(context.Background(), "dep-1"))
}

func TestUpdateServiceLimitsSendsInput(t *testing.T) {
	srv, _ := gqlServer(t, func(req graphQLRequest, _ int64) (int, string) {
		input, ok := req.Variables["input"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(2048), input["memoryMb"])
		return http.StatusOK, `{"data":{"serviceInstanceLimitsUpdate":true}}`
	})
	defer srv.Close()

	assert.NoError(t, testClient(srv.URL).UpdateServiceLimits(context.Background(), "env-1", "svc-1", 2048))
}

func TestDeploymentStatus(t *testing.T) {
	srv, _ := gqlServer(t, func(_ graphQLRequest, _ int64) (int, string) {
		return http.StatusOK, `{"data":{"deployment":{"id":"dep-1","status":"CRASHED"}}}`
	})
	defer srv.Close()

	status, err := testClient(srv.URL).DeploymentStatus(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "CRASHED", status)
}

func TestNewCorrelationIDIsUnique(t *testing.T) {
	assert.NotEqual(t, NewCorrelationID(), NewCorrelationID())
}
