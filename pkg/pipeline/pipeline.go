// Package pipeline runs the ordered provisioning stage sequence against each
// target. Stage failures are caught at the per-target boundary: one target's
// failure is recorded with its cause and never prevents attempting the
// others. There is no rollback; re-running the pipeline is the recovery
// mechanism and relies on every stage being idempotent.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/provisr/provisr/pkg/config"
	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/provision"
	"github.com/provisr/provisr/pkg/telemetry"
)

// BackendFactory builds the execution backend for one target.
type BackendFactory func(t config.Target) (executor.Backend, error)

// StageError reports the stage a target failed in.
type StageError struct {
	// Stage is the failed stage name.
	Stage string

	// Target is the target the stage ran for.
	Target string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("target %s, stage %s: %v", e.Target, e.Stage, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StageError) Unwrap() error {
	return e.Err
}

// StageResult is the outcome of one stage for one target.
type StageResult struct {
	Stage    string
	Duration time.Duration
	Err      error
}

// TargetResult is the outcome of one target's full pipeline.
type TargetResult struct {
	Target   string
	Host     string
	Stages   []StageResult
	Duration time.Duration
	Err      error
}

// Failed reports whether this target's pipeline failed.
func (r TargetResult) Failed() bool {
	return r.Err != nil
}

// Summary aggregates results for every attempted target. It is always
// produced, even under partial failure.
type Summary struct {
	Started  time.Time
	Finished time.Time
	Results  []TargetResult
}

// AllSucceeded reports whether every target's pipeline succeeded.
func (s Summary) AllSucceeded() bool {
	for _, r := range s.Results {
		if r.Failed() {
			return false
		}
	}
	return true
}

// FailedTargets returns the names of failed targets, in run order.
func (s Summary) FailedTargets() []string {
	var failed []string
	for _, r := range s.Results {
		if r.Failed() {
			failed = append(failed, r.Target)
		}
	}
	return failed
}

// Pipeline provisions targets one at a time, in the order supplied, for
// unambiguous failure attribution and log ordering.
type Pipeline struct {
	backends BackendFactory
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	packages []string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage and target counts on the given collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPackages overrides the host-wide prerequisite package set.
func WithPackages(packages []string) Option {
	return func(p *Pipeline) { p.packages = packages }
}

// New creates a pipeline.
func New(backends BackendFactory, logger *telemetry.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		backends: backends,
		logger:   logger.NewComponentLogger("pipeline"),
		packages: DefaultPackages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stageContext bundles what every stage needs for one target.
type stageContext struct {
	target  config.Target
	backend executor.Backend
	guard   *provision.Guard
	logger  *telemetry.Logger
}

// stage is a named, ordered unit of work with a single responsibility.
type stage struct {
	name string
	run  func(ctx context.Context, sc *stageContext) error
}

// stages returns the fixed per-target sequence, executed strictly in order.
func (p *Pipeline) stages() []stage {
	return []stage{
		{"prepare-system", p.prepareSystem},
		{"configure-database", p.configureDatabase},
		{"install-application", p.installApplication},
		{"install-extensions", p.installExtensions},
		{"configure-web-server", p.configureWebServer},
		{"configure-firewall", p.configureFirewall},
		{"start-services", p.startServices},
	}
}

// Run provisions every target and aggregates the results. The host-wide
// prerequisite package installation runs at most once per distinct backend
// host, before that host's first target.
func (p *Pipeline) Run(ctx context.Context, targets []config.Target) Summary {
	summary := Summary{Started: time.Now()}
	preparedHosts := make(map[string]bool)

	for _, t := range targets {
		result := p.runTarget(ctx, t, preparedHosts)

		status := "success"
		if result.Failed() {
			status = "failed"
			p.logger.WithTarget(t.Name).WithError(result.Err).Error("target provisioning failed")
		} else {
			p.logger.WithTarget(t.Name).Infof("target provisioned in %s", result.Duration)
		}
		p.metrics.RecordTarget(status)

		summary.Results = append(summary.Results, result)
	}

	summary.Finished = time.Now()
	return summary
}

// runTarget runs the full stage sequence for one target, converting any
// stage error into a target-level failure record.
func (p *Pipeline) runTarget(ctx context.Context, t config.Target, preparedHosts map[string]bool) TargetResult {
	start := time.Now()
	logger := p.logger.WithTarget(t.Name)
	logger.Infof("provisioning target (prefix %s, port %d)", t.Settings.Prefix, t.Port())

	backend, err := p.backends(t)
	if err != nil {
		return TargetResult{
			Target:   t.Name,
			Duration: time.Since(start),
			Err:      fmt.Errorf("building backend: %w", err),
		}
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			logger.WithError(cerr).Warn("closing backend")
		}
	}()

	result := TargetResult{
		Target: t.Name,
		Host:   backend.Host(),
	}

	sc := &stageContext{
		target:  t,
		backend: backend,
		guard:   provision.NewGuard(backend, logger),
		logger:  logger,
	}

	// The package manager is host-wide shared state; install prerequisites
	// once per host, not once per target.
	if !preparedHosts[backend.Host()] {
		if err := p.runStage(ctx, sc, stage{"prepare-host", p.prepareHost}, &result); err != nil {
			result.Duration = time.Since(start)
			result.Err = err
			return result
		}
		preparedHosts[backend.Host()] = true
	}

	for _, st := range p.stages() {
		if err := p.runStage(ctx, sc, st, &result); err != nil {
			result.Err = err
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// runStage executes a single stage, recording its timing and outcome.
func (p *Pipeline) runStage(ctx context.Context, sc *stageContext, st stage, result *TargetResult) error {
	logger := sc.logger.WithStage(st.name)
	logger.Info("stage started")
	start := time.Now()

	err := st.run(ctx, sc)
	duration := time.Since(start)

	sr := StageResult{Stage: st.name, Duration: duration}
	status := "success"
	if err != nil {
		status = "failed"
		sr.Err = err
	}
	result.Stages = append(result.Stages, sr)
	p.metrics.RecordStage(st.name, status, duration)

	if err != nil {
		logger.WithError(err).Error("stage failed")
		return &StageError{Stage: st.name, Target: sc.target.Name, Err: err}
	}

	logger.Infof("stage completed in %s", duration)
	return nil
}
