package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xPuncker/periodic/internal/interval"
	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/internal/runner"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiPath = "/api/v1"

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	snap  store.Snapshot
	err   error
	loads int
}

func (f *fakeStore) Load() (store.Snapshot, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap.Clone(), nil
}

type fakeFlag struct {
	held  bool
	since time.Time
}

func (f fakeFlag) Held() (bool, time.Time, error) {
	return f.held, f.since, nil
}

func setupTestHandler(t *testing.T, st SnapshotLoader, flag FlagInspector, ttl time.Duration) *Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	reg := registry.New()
	require.NoError(t, reg.Connect("CleanUp", "1 day", "CleanUp", "main", nil))
	require.NoError(t, reg.Connect("Report", "PT1H", "Report", "weekly", []any{"ops"}))

	h := NewHandler(logger, reg, st, flag, interval.NewEvaluator(time.UTC), ttl)
	h.now = func() time.Time { return now }
	return h
}

func testSnapshot() store.Snapshot {
	ran := now.Add(-2 * time.Hour)
	return store.Snapshot{
		"CleanUp": {Name: "CleanUp", Interval: "1 day", Task: "CleanUp", Action: "main", Args: []any{}, LastRun: &ran, LastResult: json.RawMessage(`"ok"`)},
		"Retired": {Name: "Retired", Interval: "P1D", Task: "Old", Action: "main", Args: []any{}, LastRun: &ran, LastResult: json.RawMessage(`""`)},
	}
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck(t *testing.T) {
	h := setupTestHandler(t, &fakeStore{snap: testSnapshot()}, fakeFlag{}, 0)

	rr := serve(h, apiPath+"/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	var response HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.False(t, response.PassRunning)
	assert.Nil(t, response.RunningSince)

	since := now.Add(-10 * time.Second)
	h = setupTestHandler(t, &fakeStore{}, fakeFlag{held: true, since: since}, 0)
	rr = serve(h, apiPath+"/health")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.True(t, response.PassRunning)
	require.NotNil(t, response.RunningSince)
	assert.True(t, since.Equal(*response.RunningSince))
}

func TestListJobs(t *testing.T) {
	h := setupTestHandler(t, &fakeStore{snap: testSnapshot()}, nil, 0)

	rr := serve(h, apiPath+"/jobs")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response JobsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, 3, response.Count)

	names := make([]string, len(response.Jobs))
	for i, j := range response.Jobs {
		names[i] = j.Name
	}
	assert.Equal(t, []string{"CleanUp", "Report", "Retired"}, names)

	cleanUp := response.Jobs[0]
	assert.False(t, cleanUp.Due)
	require.NotNil(t, cleanUp.NextDue)
	assert.True(t, now.Add(22*time.Hour).Equal(*cleanUp.NextDue))

	report := response.Jobs[1]
	assert.True(t, report.Due, "never run")
	assert.Nil(t, report.LastRun)

	assert.False(t, response.Jobs[2].Registered)
}

func TestGetJob(t *testing.T) {
	h := setupTestHandler(t, &fakeStore{snap: testSnapshot()}, nil, 0)

	rr := serve(h, apiPath+"/jobs/Report")
	require.Equal(t, http.StatusOK, rr.Code)

	var job runner.JobStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	assert.Equal(t, "Report", job.Name)
	assert.Equal(t, "weekly", job.Action)
	assert.True(t, job.Registered)

	rr = serve(h, apiPath+"/jobs/Missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Contains(t, response["error"], "Missing")
}

func TestStoreErrorsSurface(t *testing.T) {
	h := setupTestHandler(t, &fakeStore{err: store.ErrCorrupt}, nil, 0)

	rr := serve(h, apiPath+"/jobs")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "failed to load store")
}

func TestSnapshotCache(t *testing.T) {
	st := &fakeStore{snap: testSnapshot()}
	h := setupTestHandler(t, st, nil, time.Minute)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(h, apiPath+"/jobs").Code)
	}
	assert.Equal(t, 1, st.loads)

	uncached := &fakeStore{snap: testSnapshot()}
	h = setupTestHandler(t, uncached, nil, 0)
	serve(h, apiPath+"/jobs")
	serve(h, apiPath+"/jobs/CleanUp")
	assert.Equal(t, 2, uncached.loads)

	failing := &fakeStore{err: errors.New("disk gone")}
	h = setupTestHandler(t, failing, nil, time.Minute)
	serve(h, apiPath+"/jobs")
	serve(h, apiPath+"/jobs")
	assert.Equal(t, 2, failing.loads, "errors are not cached")
}

func TestUnknownMethod(t *testing.T) {
	h := setupTestHandler(t, &fakeStore{}, nil, 0)

	req := httptest.NewRequest(http.MethodPost, apiPath+"/jobs", nil)
	rr := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
