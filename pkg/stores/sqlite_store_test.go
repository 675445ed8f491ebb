package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/harnessctl/pkg/engine"
)

// setupTestStore creates a migrated SQLite store in a temp directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err, "failed to open store")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testRun(id, project string, started time.Time) *engine.Run {
	completed := started.Add(90 * time.Second)
	return &engine.Run{
		ID:          id,
		ProjectID:   project,
		ConfigPath:  "configs/" + project + ".yaml",
		Status:      engine.RunStatusPartial,
		StartedAt:   started,
		CompletedAt: &completed,
		Summary:     engine.Summary{Total: 3, Created: 1, Existing: 1, Failed: 1},
		ReportPath:  "reports/harness_resources_" + project + ".json",
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.Error(t, err)
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	// A second migration is a no-op.
	require.NoError(t, store.Migrate(ctx))

	assert.NoError(t, store.HealthCheck(ctx))
	assert.NoError(t, store.Close())
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "operation_results"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 10, 17, 9, 30, 0, 0, time.UTC)
	run := testRun("run-001", "payments_api", started)
	run.Error = "service payments-api failed"
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, "payments_api", got.ProjectID)
	assert.Equal(t, engine.RunStatusPartial, got.Status)
	assert.True(t, got.StartedAt.Equal(started), "started_at %v", got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(*run.CompletedAt), "completed_at %v", got.CompletedAt)
	assert.Equal(t, run.Summary, got.Summary)
	assert.Equal(t, run.ReportPath, got.ReportPath)
	assert.Equal(t, run.Error, got.Error)
	assert.Equal(t, 90*time.Second, got.Duration())
}

func TestSaveRunUpdatesExisting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-001", "payments_api", time.Now().UTC())
	run.Status = engine.RunStatusRunning
	run.CompletedAt = nil
	require.NoError(t, store.SaveRun(ctx, run))

	done := time.Now().UTC()
	run.Status = engine.RunStatusSucceeded
	run.CompletedAt = &done
	run.Summary = engine.Summary{Total: 2, Created: 2}
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusSucceeded, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 2, got.Summary.Created)

	runs, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveRunRequiresID(t *testing.T) {
	store := setupTestStore(t)
	err := store.SaveRun(context.Background(), &engine.Run{})
	assert.True(t, engine.IsValidation(err), "got %v", err)
}

func TestGetRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

func TestSaveAndListResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-001", "payments_api", time.Now().UTC())
	require.NoError(t, store.SaveRun(ctx, run))

	project := engine.Created(engine.ResourceProject, "payments_api", "Payments-API", map[string]interface{}{"org_id": "default"})
	connector := engine.Existing(engine.ResourceConnector, "github_org", "GitHub Org", nil)
	serviceErr := engine.NewTransientError("server error after 3 attempt(s): db down", nil)
	service := engine.Failed(engine.ResourceService, "payments_api", "payments-api", serviceErr)
	group := engine.Created(engine.ResourceUserGroup, "payments_team", "Payments Team", map[string]interface{}{"user_count": 1})
	group.Warnings = []string{"user bob@example.com not resolved: not found"}

	require.NoError(t, store.SaveResults(ctx, run.ID, []engine.OperationResult{project, connector, service, group}))

	got, err := store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "payments_api", got[0].Identifier)
	assert.Equal(t, engine.ResultCreated, got[0].Status)
	assert.True(t, got[0].Success)
	assert.Equal(t, "default", got[0].Data["org_id"])

	assert.Equal(t, engine.ResultExisting, got[1].Status)
	assert.Nil(t, got[1].Data)

	// The stored message is the full error text, class prefix included.
	assert.False(t, got[2].Success)
	assert.Equal(t, serviceErr.Error(), got[2].Error)
	assert.Contains(t, got[2].Error, "server error after 3 attempt(s): db down")

	// JSON numbers come back as float64.
	assert.Equal(t, float64(1), got[3].Data["user_count"])
	assert.Len(t, got[3].Warnings, 1)

	// Saving again replaces the previous results.
	require.NoError(t, store.SaveResults(ctx, run.ID, []engine.OperationResult{project}))
	got, err = store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSaveResultsUnknownRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.SaveResults(context.Background(), "missing", []engine.OperationResult{
		engine.Created(engine.ResourceProject, "p", "p", nil),
	})
	assert.True(t, engine.IsNotFound(err), "got %v", err)
}

func TestListRunsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	runs := []*engine.Run{
		testRun("run-1", "payments_api", base),
		testRun("run-2", "payments_api", base.Add(time.Hour)),
		testRun("run-3", "billing", base.Add(2*time.Hour)),
	}
	runs[1].Status = engine.RunStatusSucceeded
	for _, r := range runs {
		require.NoError(t, store.SaveRun(ctx, r), r.ID)
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all newest first", RunFilter{}, []string{"run-3", "run-2", "run-1"}},
		{"by project", RunFilter{ProjectID: "payments_api"}, []string{"run-2", "run-1"}},
		{"by status", RunFilter{Status: engine.RunStatusSucceeded}, []string{"run-2"}},
		{"limit", RunFilter{Limit: 1}, []string{"run-3"}},
		{"offset", RunFilter{Limit: 2, Offset: 2}, []string{"run-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListRuns(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestDeleteRunCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-001", "payments_api", time.Now().UTC())
	require.NoError(t, store.SaveRun(ctx, run))
	require.NoError(t, store.SaveResults(ctx, run.ID, []engine.OperationResult{
		engine.Created(engine.ResourceProject, "payments_api", "Payments-API", nil),
	}))

	require.NoError(t, store.DeleteRun(ctx, run.ID))

	results, err := store.ListResults(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	err = store.DeleteRun(ctx, run.ID)
	assert.True(t, engine.IsNotFound(err), "second delete: %v", err)
}

func TestResourceHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	first := testRun("run-1", "payments_api", base)
	second := testRun("run-2", "payments_api", base.Add(time.Hour))

	for _, r := range []*engine.Run{first, second} {
		require.NoError(t, store.SaveRun(ctx, r))
	}
	require.NoError(t, store.SaveResults(ctx, first.ID, []engine.OperationResult{
		engine.Created(engine.ResourceEnvironment, "dev", "dev", nil),
	}))
	require.NoError(t, store.SaveResults(ctx, second.ID, []engine.OperationResult{
		engine.Existing(engine.ResourceEnvironment, "dev", "dev", nil),
		engine.Created(engine.ResourceEnvironment, "prod", "prod", nil),
	}))

	entries, err := store.ResourceHistory(ctx, engine.ResourceEnvironment, "dev", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "run-2", entries[0].RunID)
	assert.Equal(t, engine.ResultExisting, entries[0].Result.Status)
	assert.Equal(t, "run-1", entries[1].RunID)
	assert.Equal(t, engine.ResultCreated, entries[1].Result.Status)
}

func TestStoreRecordsOrchestratorRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var recorder engine.RunRecorder = store
	run := testRun("run-001", "payments_api", time.Now().UTC())
	require.NoError(t, recorder.SaveRun(ctx, run))
	assert.NoError(t, recorder.SaveResults(ctx, run.ID, nil))
}
