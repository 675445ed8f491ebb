package stores

import (
	"context"
	"database/sql"

	"github.com/openfroyo/harnessctl/pkg/engine"
)

// RunFilter narrows ListRuns.
type RunFilter struct {
	// ProjectID limits the listing to one project when set.
	ProjectID string

	// Status limits the listing to runs with this status when set.
	Status engine.RunStatus

	Limit  int
	Offset int
}

// ResourceHistoryEntry is one past result for a resource, with the run it
// belongs to.
type ResourceHistoryEntry struct {
	RunID     string                 `json:"run_id"`
	ProjectID string                 `json:"project_id"`
	Result    engine.OperationResult `json:"result"`
}

// Store defines the run history persistence layer.
type Store interface {
	engine.RunRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	BeginTx(ctx context.Context) (*sql.Tx, error)

	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error)
	DeleteRun(ctx context.Context, id string) error

	ListResults(ctx context.Context, runID string) ([]engine.OperationResult, error)
	ResourceHistory(ctx context.Context, resourceType, identifier string, limit int) ([]ResourceHistoryEntry, error)

	HealthCheck(ctx context.Context) error
}
