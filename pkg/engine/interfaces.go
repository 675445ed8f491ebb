package engine

import (
	"context"

	"github.com/openfroyo/harnessctl/pkg/config"
)

// Provisioner creates Harness resources. Every method is idempotent: an
// existing resource yields an existing result instead of a duplicate. No
// method returns an error; failures are reported as failed results.
type Provisioner interface {
	// CreateProject creates the project every other resource lives in.
	CreateProject(ctx context.Context, p config.Project) OperationResult

	// CreateConnector creates one connector of the given document kind,
	// e.g. "github" or "docker".
	CreateConnector(ctx context.Context, kind string, c config.Connector) OperationResult

	CreateTextSecret(ctx context.Context, s config.TextSecret) OperationResult
	CreateFileSecret(ctx context.Context, s config.FileSecret) OperationResult

	CreateRole(ctx context.Context, r config.Role) OperationResult
	CreateResourceGroup(ctx context.Context, g config.ResourceGroup) OperationResult
	CreateServiceAccount(ctx context.Context, sa config.ServiceAccount) OperationResult
	CreateUserGroup(ctx context.Context, g config.UserGroup) OperationResult

	CreateEnvironment(ctx context.Context, e config.Environment) OperationResult
	CreateInfrastructure(ctx context.Context, i config.Infrastructure) OperationResult
	CreateService(ctx context.Context, s config.Service) OperationResult

	CreatePipeline(ctx context.Context, p config.Pipeline) OperationResult
}

// DocumentValidator checks a document before any network call.
type DocumentValidator interface {
	Validate(doc *config.Document) error
}

// DocumentCheck is an additional pre-flight check, such as policy
// evaluation. A non-nil error blocks the run.
type DocumentCheck interface {
	Check(ctx context.Context, doc *config.Document) error
}

// RunRecorder persists runs and their results.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *Run) error
	SaveResults(ctx context.Context, runID string, results []OperationResult) error
}
