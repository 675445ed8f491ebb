package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/harnessctl/pkg/config"
	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

// Options control a single orchestrator run.
type Options struct {
	// DryRun logs what each phase would create without calling the API.
	DryRun bool

	// SkipValidation bypasses document validation and pre-flight checks.
	SkipValidation bool

	// ConfigPath is recorded on the run for the history store.
	ConfigPath string

	// ReportDir is where the JSON report is written. Empty disables the
	// report.
	ReportDir string

	// Summary receives the summary tables. Nil disables them.
	Summary io.Writer
}

// Orchestrator runs the provisioning phases in order: validate, project,
// connectors, secrets, access control, resources, pipelines and summarize.
// Only validation and project creation abort a run; every other failure is
// recorded and the run continues.
type Orchestrator struct {
	provisioner Provisioner
	validator   DocumentValidator
	checks      []DocumentCheck
	recorder    RunRecorder
	tel         *telemetry.Telemetry
	logger      *telemetry.Logger
	now         func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithValidator sets the document validator run in the validate phase.
func WithValidator(v DocumentValidator) OrchestratorOption {
	return func(o *Orchestrator) { o.validator = v }
}

// WithChecks adds pre-flight checks run after validation.
func WithChecks(checks ...DocumentCheck) OrchestratorOption {
	return func(o *Orchestrator) { o.checks = append(o.checks, checks...) }
}

// WithRecorder sets the store runs are recorded in.
func WithRecorder(r RunRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator. The provisioner may be nil for
// dry runs. A nil telemetry discards logs, spans and metrics.
func NewOrchestrator(p Provisioner, tel *telemetry.Telemetry, opts ...OrchestratorOption) *Orchestrator {
	if tel == nil {
		tel = telemetry.Nop()
	}
	o := &Orchestrator{
		provisioner: p,
		tel:         tel,
		logger:      tel.Logger.NewComponentLogger("orchestrator"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// step is one resource creation inside a phase.
type step struct {
	resourceType string
	identifier   string
	name         string
	create       func(context.Context) OperationResult
	collect      func(*Results, OperationResult)
}

// Run provisions doc. The returned outcome is never nil. The error is
// non-nil when the run did not complete: a *Error of class validation,
// fatal_setup or cancelled.
func (o *Orchestrator) Run(ctx context.Context, doc *config.Document, opts Options) (*Outcome, error) {
	run := &Run{
		ID:         uuid.New().String(),
		ProjectID:  doc.Project.Identifier,
		ConfigPath: opts.ConfigPath,
		DryRun:     opts.DryRun,
		Status:     RunStatusRunning,
		StartedAt:  o.now(),
	}
	out := &Outcome{Run: run, Status: RunStatusRunning, Results: &Results{}}

	ctx, span := o.tel.Tracer.StartRunSpan(ctx, run.ID, run.ProjectID)
	defer span.End()

	logger := o.logger.WithRunID(run.ID).WithField("project", run.ProjectID)
	ctx = logger.WithContext(ctx)
	o.tel.Metrics.RecordRunStarted()

	logger.InfoEvent().
		Bool("dry_run", opts.DryRun).
		Str("org", doc.Harness.OrgID).
		Msg("starting provisioning run")

	// validate
	phaseStart := o.now()
	if opts.SkipValidation {
		logger.Warn("skipping validation")
		out.Phases = append(out.Phases, PhaseOutcome{Name: PhaseValidate, OK: true, Skipped: true})
	} else if err := o.validate(ctx, doc, logger); err != nil {
		out.Phases = append(out.Phases, PhaseOutcome{Name: PhaseValidate, Duration: o.now().Sub(phaseStart)})
		out.Phases = append(out.Phases, skippedPhases(PhaseProject)...)
		o.finish(ctx, out, doc, opts, RunStatusFailed, err, false)
		telemetry.RecordError(span, err)
		return out, err
	} else {
		out.Phases = append(out.Phases, PhaseOutcome{Name: PhaseValidate, OK: true, Duration: o.now().Sub(phaseStart)})
	}

	if ctx.Err() != nil {
		return o.cancelled(ctx, out, doc, opts, PhaseProject)
	}

	// project
	projectStep := step{
		resourceType: ResourceProject,
		identifier:   doc.Project.Identifier,
		name:         doc.Project.RepoName,
		create: func(ctx context.Context) OperationResult {
			return o.provisioner.CreateProject(ctx, doc.Project)
		},
		collect: func(r *Results, res OperationResult) { r.Project = &res },
	}
	po, cancelled := o.runPhase(ctx, PhaseProject, []step{projectStep}, opts.DryRun, out.Results)
	out.Phases = append(out.Phases, po)
	if cancelled {
		return o.cancelled(ctx, out, doc, opts, PhaseConnectors)
	}
	if !opts.DryRun && (out.Results.Project == nil || !out.Results.Project.Success) {
		msg := "project creation failed"
		if out.Results.Project != nil && out.Results.Project.Error != "" {
			msg += ": " + out.Results.Project.Error
		}
		err := NewFatalSetupError(msg, nil).
			WithResource(doc.Project.Identifier).
			WithCode(ErrCodeProjectFailed)
		logger.WithError(err).Error("cannot continue without project")
		out.Phases = append(out.Phases, skippedPhases(PhaseConnectors)...)
		o.finish(ctx, out, doc, opts, RunStatusFailed, err, true)
		telemetry.RecordError(span, err)
		return out, err
	}

	phases := []struct {
		name  string
		steps []step
	}{
		{PhaseConnectors, o.connectorSteps(doc, logger)},
		{PhaseSecrets, o.secretSteps(doc)},
		{PhaseAccessControl, o.accessControlSteps(doc)},
		{PhaseResources, o.resourceSteps(doc)},
		{PhasePipelines, o.pipelineSteps(doc)},
	}
	for i, ph := range phases {
		if ctx.Err() != nil {
			return o.cancelled(ctx, out, doc, opts, ph.name)
		}
		po, cancelled := o.runPhase(ctx, ph.name, ph.steps, opts.DryRun, out.Results)
		out.Phases = append(out.Phases, po)
		if cancelled {
			next := PhaseSummarize
			if i+1 < len(phases) {
				next = phases[i+1].name
			}
			return o.cancelled(ctx, out, doc, opts, next)
		}
	}

	// summarize
	counts := out.Results.Counts()
	status := RunStatusSucceeded
	if counts.Failed > 0 {
		status = RunStatusPartial
	}
	out.Phases = append(out.Phases, PhaseOutcome{
		Name:      PhaseSummarize,
		Attempted: counts.Total,
		Succeeded: counts.Succeeded(),
		Failed:    counts.Failed,
		OK:        true,
		DryRun:    opts.DryRun,
	})
	o.finish(ctx, out, doc, opts, status, nil, true)
	return out, nil
}

func (o *Orchestrator) validate(ctx context.Context, doc *config.Document, logger *telemetry.Logger) error {
	if o.validator != nil {
		if err := o.validator.Validate(doc); err != nil {
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) {
				for _, ve := range verrs {
					logger.ErrorEvent().
						Str("path", ve.Path).
						Str("field", ve.Field).
						Msg(ve.Message)
				}
			}
			return NewValidationError("configuration validation failed", err)
		}
	}
	for _, check := range o.checks {
		if err := check.Check(ctx, doc); err != nil {
			return NewValidationError("pre-flight check failed", err).WithCode(ErrCodePolicyViolation)
		}
	}
	logger.Info("configuration validated")
	return nil
}

// runPhase executes steps in order. It stops at the next resource boundary
// once ctx is cancelled and reports cancelled=true.
func (o *Orchestrator) runPhase(ctx context.Context, name string, steps []step, dryRun bool, results *Results) (PhaseOutcome, bool) {
	start := o.now()
	ctx, span := o.tel.Tracer.StartPhaseSpan(ctx, name)
	defer span.End()

	logger := telemetry.FromContext(ctx).WithPhase(name)
	ctx = logger.WithContext(ctx)
	po := PhaseOutcome{Name: name, DryRun: dryRun}

	if dryRun {
		po.Attempted = len(steps)
		po.OK = true
		logIntent(logger, name, steps)
		po.Duration = o.now().Sub(start)
		return po, false
	}

	logger.InfoEvent().Int("resources", len(steps)).Msg("phase started")

	cancelled := false
	for _, s := range steps {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		res := o.runStep(ctx, s)
		s.collect(results, res)
		po.Attempted++
		if res.Success {
			po.Succeeded++
		} else {
			po.Failed++
		}
	}
	if !cancelled && ctx.Err() != nil {
		cancelled = true
	}

	po.OK = !cancelled && (po.Succeeded > 0 || len(steps) == 0)
	po.Duration = o.now().Sub(start)

	logger.InfoEvent().
		Int("succeeded", po.Succeeded).
		Int("failed", po.Failed).
		Bool("ok", po.OK).
		Dur("duration", po.Duration).
		Msg("phase finished")
	if !po.OK && !cancelled {
		telemetry.RecordError(span, fmt.Errorf("phase %s: no resource succeeded", name))
	}
	return po, cancelled
}

func (o *Orchestrator) runStep(ctx context.Context, s step) (res OperationResult) {
	ctx, span := o.tel.Tracer.StartResourceSpan(ctx, s.resourceType, s.identifier)
	defer span.End()

	logger := telemetry.FromContext(ctx).WithResource(s.resourceType, s.identifier)

	defer func() {
		if r := recover(); r != nil {
			res = Failed(s.resourceType, s.identifier, s.name, fmt.Errorf("panic: %v", r))
		}
		o.tel.Metrics.RecordResourceResult(res.ResourceType, string(res.Status))
		span.SetAttributes(telemetry.AttrResultStatus.String(string(res.Status)))
		if res.Success {
			logger.Info(res.String())
			telemetry.RecordSuccess(span)
			return
		}
		logger.ErrorEvent().Str("error", res.Error).Msg(res.String())
		telemetry.RecordError(span, errors.New(res.Error))
	}()

	return s.create(ctx)
}

func logIntent(logger *telemetry.Logger, phase string, steps []step) {
	if len(steps) == 0 {
		logger.InfoEvent().Msgf("[dry-run] %s: nothing to create", phase)
		return
	}
	counts := make(map[string]int)
	for _, s := range steps {
		counts[s.resourceType]++
		logger.DebugEvent().
			Str("resource_type", s.resourceType).
			Str("identifier", s.identifier).
			Msg("[dry-run] would create")
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		logger.InfoEvent().
			Str("resource_type", t).
			Int("count", counts[t]).
			Msgf("[dry-run] %s: would create %d %s resource(s)", phase, counts[t], t)
	}
}

func (o *Orchestrator) cancelled(ctx context.Context, out *Outcome, doc *config.Document, opts Options, from string) (*Outcome, error) {
	out.Phases = append(out.Phases, skippedPhases(from)...)
	err := NewCancelledError("run cancelled", ctx.Err())
	o.finish(ctx, out, doc, opts, RunStatusCancelled, err, true)
	return out, err
}

// skippedPhases returns skipped outcomes for from and every later phase.
func skippedPhases(from string) []PhaseOutcome {
	var out []PhaseOutcome
	found := false
	for _, name := range Phases {
		if name == from {
			found = true
		}
		if found {
			out = append(out, PhaseOutcome{Name: name, Skipped: true})
		}
	}
	return out
}

// finish sets the terminal status and performs the terminal actions:
// summary, report and history. persist is false when nothing was attempted.
func (o *Orchestrator) finish(ctx context.Context, out *Outcome, doc *config.Document, opts Options, status RunStatus, runErr error, persist bool) {
	run := out.Run
	completed := o.now()
	run.CompletedAt = &completed
	run.Status = status
	run.Summary = out.Results.Counts()
	if runErr != nil {
		run.Error = runErr.Error()
	}

	out.Status = status
	out.Completed = status.Completed()
	out.Cancelled = status == RunStatusCancelled
	out.FullySucceeded = out.Completed && run.Summary.Failed == 0

	// Terminal actions must run even after cancellation.
	ctx = context.WithoutCancel(ctx)
	logger := telemetry.FromContext(ctx)

	if persist && !opts.DryRun && opts.ReportDir != "" {
		path, err := WriteReport(opts.ReportDir, NewReport(out, doc))
		if err != nil {
			logger.WithError(err).Warn("failed to write report")
		} else {
			run.ReportPath = path
			logger.InfoEvent().Str("path", path).Msg("report written")
		}
	}

	if persist && !opts.DryRun && o.recorder != nil {
		if err := o.recorder.SaveRun(ctx, run); err != nil {
			logger.WithError(err).Warn("failed to record run")
		} else if err := o.recorder.SaveResults(ctx, run.ID, out.Results.All()); err != nil {
			logger.WithError(err).Warn("failed to record results")
		}
	}

	if opts.Summary != nil {
		if err := RenderSummary(opts.Summary, out); err != nil {
			logger.WithError(err).Warn("failed to render summary")
		}
	}

	o.tel.Metrics.RecordRunCompleted(string(status), run.Duration())

	logger.InfoEvent().
		Str("status", string(status)).
		Int("created", run.Summary.Created).
		Int("existing", run.Summary.Existing).
		Int("failed", run.Summary.Failed).
		Dur("duration", run.Duration()).
		Msg("provisioning run finished")
}

func (o *Orchestrator) connectorSteps(doc *config.Document, logger *telemetry.Logger) []step {
	supported, unsupported := doc.Connectors.Kinds()
	for _, kind := range unsupported {
		logger.WarnEvent().Str("kind", kind).Msg("unsupported connector kind, skipping")
	}

	var steps []step
	for _, kind := range supported {
		for _, c := range doc.Connectors[kind] {
			steps = append(steps, step{
				resourceType: ResourceConnector,
				identifier:   c.Identifier,
				name:         c.Name,
				create: func(ctx context.Context) OperationResult {
					return o.provisioner.CreateConnector(ctx, kind, c)
				},
				collect: func(r *Results, res OperationResult) { r.Connectors = append(r.Connectors, res) },
			})
		}
	}
	return steps
}

func (o *Orchestrator) secretSteps(doc *config.Document) []step {
	collect := func(r *Results, res OperationResult) { r.Secrets = append(r.Secrets, res) }

	var steps []step
	for _, s := range doc.Secrets.TextSecrets {
		steps = append(steps, step{
			resourceType: ResourceSecret,
			identifier:   s.Identifier,
			name:         s.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateTextSecret(ctx, s)
			},
			collect: collect,
		})
	}
	for _, s := range doc.Secrets.FileSecrets {
		steps = append(steps, step{
			resourceType: ResourceSecret,
			identifier:   s.Identifier,
			name:         s.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateFileSecret(ctx, s)
			},
			collect: collect,
		})
	}
	return steps
}

// accessControlSteps orders RBAC entities so that roles and resource groups
// exist before the principals that may be bound to them.
func (o *Orchestrator) accessControlSteps(doc *config.Document) []step {
	ac := doc.AccessControl

	var steps []step
	for _, r := range ac.Roles {
		steps = append(steps, step{
			resourceType: ResourceRole,
			identifier:   r.Identifier,
			name:         r.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateRole(ctx, r)
			},
			collect: func(rs *Results, res OperationResult) {
				rs.AccessControl.Roles = append(rs.AccessControl.Roles, res)
			},
		})
	}
	for _, g := range ac.ResourceGroups {
		steps = append(steps, step{
			resourceType: ResourceResourceGroup,
			identifier:   g.Identifier,
			name:         g.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateResourceGroup(ctx, g)
			},
			collect: func(rs *Results, res OperationResult) {
				rs.AccessControl.ResourceGroups = append(rs.AccessControl.ResourceGroups, res)
			},
		})
	}
	for _, sa := range ac.ServiceAccounts {
		steps = append(steps, step{
			resourceType: ResourceServiceAccount,
			identifier:   sa.Identifier,
			name:         sa.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateServiceAccount(ctx, sa)
			},
			collect: func(rs *Results, res OperationResult) {
				rs.AccessControl.ServiceAccounts = append(rs.AccessControl.ServiceAccounts, res)
			},
		})
	}
	for _, g := range ac.UserGroups {
		steps = append(steps, step{
			resourceType: ResourceUserGroup,
			identifier:   g.Identifier,
			name:         g.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateUserGroup(ctx, g)
			},
			collect: func(rs *Results, res OperationResult) {
				rs.AccessControl.UserGroups = append(rs.AccessControl.UserGroups, res)
			},
		})
	}
	return steps
}

// resourceSteps orders environments before the infrastructures that
// reference them, and both before services.
func (o *Orchestrator) resourceSteps(doc *config.Document) []step {
	var steps []step
	for _, e := range doc.Environments {
		steps = append(steps, step{
			resourceType: ResourceEnvironment,
			identifier:   e.Identifier,
			name:         e.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateEnvironment(ctx, e)
			},
			collect: func(r *Results, res OperationResult) {
				r.Resources.Environments = append(r.Resources.Environments, res)
			},
		})
	}
	for _, inf := range doc.Infrastructures {
		steps = append(steps, step{
			resourceType: ResourceInfrastructure,
			identifier:   inf.Identifier,
			name:         inf.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateInfrastructure(ctx, inf)
			},
			collect: func(r *Results, res OperationResult) {
				r.Resources.Infrastructures = append(r.Resources.Infrastructures, res)
			},
		})
	}
	for _, s := range doc.Services {
		steps = append(steps, step{
			resourceType: ResourceService,
			identifier:   s.Identifier,
			name:         s.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreateService(ctx, s)
			},
			collect: func(r *Results, res OperationResult) {
				r.Resources.Services = append(r.Resources.Services, res)
			},
		})
	}
	return steps
}

func (o *Orchestrator) pipelineSteps(doc *config.Document) []step {
	var steps []step
	for _, p := range doc.Pipelines {
		steps = append(steps, step{
			resourceType: ResourcePipeline,
			identifier:   p.Identifier,
			name:         p.Name,
			create: func(ctx context.Context) OperationResult {
				return o.provisioner.CreatePipeline(ctx, p)
			},
			collect: func(r *Results, res OperationResult) { r.Pipelines = append(r.Pipelines, res) },
		})
	}
	return steps
}
