package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tangram/internal/config"
	"tangram/internal/evaluator"
	"tangram/internal/id"
	"tangram/internal/object"
	"tangram/internal/sandbox"
	"tangram/internal/store"
	"tangram/internal/value"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir, FDBudget: 16}
	s, err := store.Open(store.Paths(cfg.Paths()), cfg.FDBudget)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ev := evaluator.New(s, cfg, sandbox.Unavailable("test"), zap.NewNop())
	srv := New(s, ev, cfg, zap.NewNop())
	return httptest.NewServer(srv.Handler()), s
}

func TestObjectRoundTrip(t *testing.T) {
	httpSrv, s := newTestServer(t)
	defer httpSrv.Close()

	objID, err := s.PutObject(context.Background(), object.Target{ModulePath: "main.js", Name: "build"})
	require.NoError(t, err)

	resp, err := http.Get(httpSrv.URL + "/v1/objects/" + objID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Head(httpSrv.URL + "/v1/objects/" + objID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestGetObjectNotFound(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	missing := id.New(id.KindTarget, []byte("never stored"))

	resp, err := http.Get(httpSrv.URL + "/v1/objects/" + missing.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostTargetBuildReturnsBuildID(t *testing.T) {
	httpSrv, s := newTestServer(t)
	defer httpSrv.Close()

	resourceID, err := s.PutObject(context.Background(), object.Resource{})
	require.NoError(t, err)

	resp, err := http.Post(httpSrv.URL+"/v1/targets/"+resourceID.String()+"/build", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var got buildIDResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.False(t, got.BuildID.IsZero())

	resp2, err := http.Get(httpSrv.URL + "/v1/targets/" + resourceID.String() + "/build")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestGetOperationStateReportsSucceededAfterBuild(t *testing.T) {
	httpSrv, s := newTestServer(t)
	defer httpSrv.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	resourceID, err := s.PutObject(context.Background(), object.Resource{URL: upstream.URL})
	require.NoError(t, err)

	resp, err := http.Post(httpSrv.URL+"/v1/targets/"+resourceID.String()+"/build", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	resp.Body.Close()

	resp2, err := http.Get(httpSrv.URL + "/v1/operations/" + resourceID.String() + "/state")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var got stateResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&got))
	require.Equal(t, "succeeded", got.State)
}

func TestGetOperationStateUnknownOperationIsNotFound(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	missing := id.New(id.KindTarget, []byte("never dispatched"))
	resp, err := http.Get(httpSrv.URL + "/v1/operations/" + missing.String() + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostCleanDeletesUnreachableObjects(t *testing.T) {
	httpSrv, s := newTestServer(t)
	defer httpSrv.Close()

	_, err := s.PutObject(context.Background(), object.Resource{URL: "http://example.invalid/x"})
	require.NoError(t, err)

	resp, err := http.Post(httpSrv.URL+"/v1/clean", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got cleanResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.GreaterOrEqual(t, got.Deleted, 1)
}

func TestValueToJSONRendersStringWithKind(t *testing.T) {
	v := value.NewString("hello")
	jv := valueToJSON(v)
	require.Equal(t, "string", jv.Kind)
	require.Equal(t, "hello", jv.Value)
}
