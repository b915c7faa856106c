// Package verify probes the live state of provisioned targets. Every probe is
// read-only and lenient: absence or failure maps to false in the report,
// never to an error, so an audit can run standalone against any host state
// and concurrently for multiple targets.
package verify

import (
	"context"
	"fmt"

	"github.com/provisr/provisr/pkg/config"
	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/telemetry"
)

// Check names, in report order.
const (
	CheckServiceActive  = "service-active"
	CheckPortBound      = "port-bound"
	CheckUserExists     = "user-exists"
	CheckDatabaseExists = "db-exists"
	CheckConfigPresent  = "config-present"
	CheckVhostPresent   = "vhost-present"
)

// CheckNames lists every probe in presentation order.
var CheckNames = []string{
	CheckServiceActive,
	CheckPortBound,
	CheckUserExists,
	CheckDatabaseExists,
	CheckConfigPresent,
	CheckVhostPresent,
}

// Report is the audit outcome for one target.
type Report struct {
	// Target is the audited target name.
	Target string

	// Checks maps check name to probe outcome.
	Checks map[string]bool
}

// Pass reports whether every check succeeded.
func (r Report) Pass() bool {
	for _, name := range CheckNames {
		if !r.Checks[name] {
			return false
		}
	}
	return true
}

// Auditor performs read-only verification probes.
type Auditor struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// AuditorOption customizes an Auditor.
type AuditorOption func(*Auditor)

// WithMetrics records audit counts on the given collector.
func WithMetrics(m *telemetry.Metrics) AuditorOption {
	return func(a *Auditor) { a.metrics = m }
}

// NewAuditor creates an auditor.
func NewAuditor(logger *telemetry.Logger, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		logger: logger.NewComponentLogger("verify"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Audit probes the current system state for one target. It does not require
// the pipeline to have run in this process.
func (a *Auditor) Audit(ctx context.Context, runner executor.Runner, t config.Target) Report {
	logger := a.logger.WithTarget(t.Name)

	probes := []struct {
		name    string
		cmd     string
		elevate bool
	}{
		{CheckServiceActive, fmt.Sprintf("systemctl is-active --quiet %s", t.ServiceUnit()), false},
		{CheckPortBound, fmt.Sprintf("ss -tln 'sport = :%d' | grep -q LISTEN", t.Port()), false},
		{CheckUserExists, fmt.Sprintf("id -u %s", t.User()), false},
		{CheckDatabaseExists, fmt.Sprintf("sudo -u postgres psql -lqt | cut -d '|' -f 1 | grep -qw %s", t.DatabaseName()), false},
		{CheckConfigPresent, fmt.Sprintf("test -f %s", t.ConfigPath()), true},
		{CheckVhostPresent, fmt.Sprintf("test -f %s", t.VhostEnabledPath()), true},
	}

	report := Report{
		Target: t.Name,
		Checks: make(map[string]bool, len(probes)),
	}

	for _, probe := range probes {
		result, err := runner.Run(ctx, probe.cmd, executor.RunOptions{
			Elevate: probe.elevate,
			Lenient: true,
		})
		ok := err == nil && result.Success()
		report.Checks[probe.name] = ok
		logger.Debugf("%s: %v", probe.name, ok)
	}

	status := "fail"
	if report.Pass() {
		status = "pass"
	}
	a.metrics.RecordAudit(status)
	logger.Infof("audit %s", status)

	return report
}
