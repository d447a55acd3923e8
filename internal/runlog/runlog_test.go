package runlog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesToLatest(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MigrateDown())

	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	_, err = s.ListRuns(context.Background(), 0)
	assert.Error(t, err, "runs table should be gone")

	require.NoError(t, s.MigrateUp())
	_, err = s.ListRuns(context.Background(), 0)
	assert.NoError(t, err)
}

func TestRecordRun_GetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{
		Command:           "pcnormals",
		InputPath:         "fragment.ply",
		ParamsJSON:        json.RawMessage(`{"voxel_size":0.05}`),
		InputPoints:       196133,
		OutputPoints:      4000,
		DegenerateNormals: 3,
		DurationMS:        12.5,
	}
	require.NoError(t, s.RecordRun(ctx, run))

	_, err := uuid.Parse(run.RunID)
	require.NoError(t, err, "run id should be a uuid")
	assert.NotZero(t, run.CreatedAt)
	assert.Equal(t, StatusSucceeded, run.Status)

	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordRun_Failed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{Command: "pcview", InputPath: "missing.ply", Status: StatusFailed, Error: "open missing.ply: no such file"}
	require.NoError(t, s.RecordRun(ctx, run))

	got, err := s.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, run.Error, got.Error)
	assert.Nil(t, got.ParamsJSON)
}

func TestRecordRun_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &Run{RunID: "fixed", Command: "pcview", InputPath: "a.ply"}
	require.NoError(t, s.RecordRun(ctx, run))
	assert.Error(t, s.RecordRun(ctx, &Run{RunID: "fixed", Command: "pcview", InputPath: "b.ply"}))
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, cmd := range []string{"pcview", "pcdownsample", "pcnormals"} {
		require.NoError(t, s.RecordRun(ctx, &Run{Command: cmd, InputPath: "x.ply", CreatedAt: int64(i + 1)}))
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "pcnormals", runs[0].Command)
	assert.Equal(t, "pcview", runs[2].Command)

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordRun(context.Background(), &Run{Command: "pcview", InputPath: "x.ply"}))

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	for _, path := range []string{"/debug/runs", "/debug/tailsql/"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.RemoteAddr = "127.0.0.1:4242"
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			// Registered routes answer with 200 or, without debug access, 403.
			assert.NotEqual(t, http.StatusNotFound, w.Code)

			if path == "/debug/runs" && w.Code == http.StatusOK {
				var runs []*Run
				require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
				assert.Len(t, runs, 1)
			}
		})
	}
}
