package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strato3003/jimny/pkg/export"
	"github.com/strato3003/jimny/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuns struct {
	runs      map[string]*store.Run
	lastLimit int
	err       error
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]store.Summary, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := []store.Summary{}
	for _, r := range f.runs {
		out = append(out, r.Summary)
	}
	return out, nil
}

func (f *fakeRuns) Get(_ context.Context, id string) (*store.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrRunNotFound, id)
	}
	return r, nil
}

func newServer() (*fakeRuns, http.Handler) {
	runs := &fakeRuns{runs: map[string]*store.Run{
		"r1": {
			Summary: store.Summary{ID: "r1", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Digest: "00ff", Policy: "hybrid", Outcome: "converged", Iterations: 1},
			Mapping: export.Document{"engine_rpm": {Channel: "21A2", Offset: 12, Mult: 8, Div: 1, Label: "raw*8"}},
			Trace:   []store.Step{{Iteration: 1}},
		},
	}}
	return runs, NewServer(runs, 0, false, nil).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListRuns(t *testing.T) {
	runs, h := newServer()

	rec := get(t, h, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, defaultLimit, runs.lastLimit)

	var got []store.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)

	get(t, h, "/api/runs?limit=5")
	assert.Equal(t, 5, runs.lastLimit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/runs?limit=x").Code)
}

func TestGetRun(t *testing.T) {
	_, h := newServer()

	rec := get(t, h, "/api/runs/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "converged", run.Outcome)
	assert.Equal(t, 12, run.Mapping["engine_rpm"].Offset)
	assert.Len(t, run.Trace, 1)

	rec = get(t, h, "/api/runs/r1/mapping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"engine_rpm": {"channel": "21A2", "offset": 12, "mult": 8, "div": 1, "add": 0, "label": "raw*8", "error": 0, "samples": 0}}`, rec.Body.String())
}

func TestUnknownRunIsNotFound(t *testing.T) {
	_, h := newServer()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/runs/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/runs/nope/mapping").Code)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	runs, h := newServer()
	runs.err = errors.New("disk I/O error")
	rec := get(t, h, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk")
}

func TestIndexPage(t *testing.T) {
	_, h := newServer()
	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/runs")
	assert.Equal(t, http.StatusNotFound, get(t, h, "/other").Code)
}
