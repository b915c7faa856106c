package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/provisr/provisr/pkg/executor"
	"github.com/provisr/provisr/pkg/provision"
	"github.com/provisr/provisr/pkg/render"
)

// DefaultPackages are the host-wide prerequisites installed once per host.
var DefaultPackages = []string{
	"git",
	"build-essential",
	"postgresql",
	"postgresql-client",
	"nginx",
	"ufw",
}

// prepareHost installs host-wide prerequisite packages. It runs at most once
// per distinct backend host because the package manager is shared state.
func (p *Pipeline) prepareHost(ctx context.Context, sc *stageContext) error {
	if _, err := sc.backend.Run(ctx, "apt-get update", executor.RunOptions{Elevate: true}); err != nil {
		return err
	}

	install := fmt.Sprintf("DEBIAN_FRONTEND=noninteractive apt-get install -y %s", strings.Join(p.packages, " "))
	if _, err := sc.backend.Run(ctx, install, executor.RunOptions{Elevate: true}); err != nil {
		return err
	}
	return nil
}

// prepareSystem ensures the target's system user and directory trees.
func (p *Pipeline) prepareSystem(ctx context.Context, sc *stageContext) error {
	t := sc.target

	_, err := sc.guard.EnsureExists(ctx,
		fmt.Sprintf("id -u %s", t.User()),
		fmt.Sprintf("useradd -m -d %s -U -r -s /bin/bash %s", t.Home(), t.User()),
		provision.EnsureOptions{ElevateCreate: true},
	)
	if err != nil {
		return err
	}

	for _, dir := range []string{t.LogDir(), t.ConfigDir(), t.AddonsDir()} {
		_, err := sc.guard.EnsureExists(ctx,
			fmt.Sprintf("test -d %s", dir),
			fmt.Sprintf("mkdir -p %s", dir),
			provision.Elevated,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// configureDatabase ensures the target's database role and database.
func (p *Pipeline) configureDatabase(ctx context.Context, sc *stageContext) error {
	t := sc.target
	dbUser := t.DatabaseUser()

	created, err := sc.guard.EnsureExists(ctx,
		fmt.Sprintf(`sudo -u postgres psql -tAc "SELECT 1 FROM pg_roles WHERE rolname='%s'" | grep -q 1`, dbUser),
		fmt.Sprintf("sudo -u postgres createuser -s %s", dbUser),
		provision.EnsureOptions{},
	)
	if err != nil {
		return err
	}

	if created && t.Settings.DBPassword != "" {
		alter := fmt.Sprintf(`sudo -u postgres psql -c "ALTER USER %s WITH PASSWORD '%s'"`, dbUser, t.Settings.DBPassword)
		if _, err := sc.backend.Run(ctx, alter, executor.RunOptions{}); err != nil {
			return err
		}
	}

	_, err = sc.guard.EnsureExists(ctx,
		fmt.Sprintf("sudo -u postgres psql -lqt | cut -d '|' -f 1 | grep -qw %s", t.DatabaseName()),
		fmt.Sprintf("sudo -u postgres createdb --owner=%s %s", dbUser, t.DatabaseName()),
		provision.EnsureOptions{},
	)
	return err
}

// installApplication ensures the application checkout and its generated
// configuration file, then fixes ownership of the installation tree.
func (p *Pipeline) installApplication(ctx context.Context, sc *stageContext) error {
	t := sc.target

	if t.Settings.SourceRepo != "" {
		_, err := sc.guard.EnsureExists(ctx,
			fmt.Sprintf("test -d %s/.git", t.SourceDir()),
			fmt.Sprintf("git clone -b %s --depth 1 %s %s", t.Settings.Version, t.Settings.SourceRepo, t.SourceDir()),
			provision.Elevated,
		)
		if err != nil {
			return err
		}
	} else {
		_, err := sc.guard.EnsureExists(ctx,
			fmt.Sprintf("test -d %s", t.SourceDir()),
			fmt.Sprintf("mkdir -p %s", t.SourceDir()),
			provision.Elevated,
		)
		if err != nil {
			return err
		}
	}

	created, err := p.ensureArtifact(ctx, sc, t.ConfigPath(), render.KindAppConfig, render.AppConfigVarsFor(t), t.User(), 0o640)
	if err != nil {
		return err
	}
	if created {
		sc.logger.Infof("wrote config file %s", t.ConfigPath())
	}

	for _, dir := range []string{t.Home(), t.LogDir()} {
		chown := fmt.Sprintf("chown -R %s:%s %s", t.User(), t.User(), dir)
		if _, err := sc.backend.Run(ctx, chown, executor.RunOptions{Elevate: true}); err != nil {
			return err
		}
	}
	return nil
}

// installExtensions ensures one addons subdirectory per configured extension.
// The extension code itself is an external collaborator; only its mount point
// on the target is managed here.
func (p *Pipeline) installExtensions(ctx context.Context, sc *stageContext) error {
	t := sc.target

	for _, ext := range t.Settings.Extensions {
		dir := t.AddonsDir() + "/" + ext
		created, err := sc.guard.EnsureExists(ctx,
			fmt.Sprintf("test -d %s", dir),
			fmt.Sprintf("mkdir -p %s", dir),
			provision.Elevated,
		)
		if err != nil {
			return err
		}
		if created {
			chown := fmt.Sprintf("chown -R %s:%s %s", t.User(), t.User(), dir)
			if _, err := sc.backend.Run(ctx, chown, executor.RunOptions{Elevate: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

// configureWebServer ensures the service unit and the reverse-proxy vhost.
func (p *Pipeline) configureWebServer(ctx context.Context, sc *stageContext) error {
	t := sc.target

	unitCreated, err := p.ensureArtifact(ctx, sc, t.UnitPath(), render.KindServiceUnit, render.ServiceUnitVarsFor(t), "", 0o644)
	if err != nil {
		return err
	}
	if unitCreated {
		for _, cmd := range []string{
			"systemctl daemon-reload",
			fmt.Sprintf("systemctl enable %s", t.ServiceUnit()),
		} {
			if _, err := sc.backend.Run(ctx, cmd, executor.RunOptions{Elevate: true}); err != nil {
				return err
			}
		}
	}

	if _, err := p.ensureArtifact(ctx, sc, t.VhostAvailablePath(), render.KindVhost, render.VhostVarsFor(t), "", 0o644); err != nil {
		return err
	}

	_, err = sc.guard.EnsureExists(ctx,
		fmt.Sprintf("test -e %s", t.VhostEnabledPath()),
		fmt.Sprintf("ln -sf %s %s", t.VhostAvailablePath(), t.VhostEnabledPath()),
		provision.Elevated,
	)
	return err
}

// configureFirewall ensures allow rules for SSH, HTTP, HTTPS and the target
// port. Disabled per target via setup_firewall.
func (p *Pipeline) configureFirewall(ctx context.Context, sc *stageContext) error {
	t := sc.target

	if !t.Settings.SetupFirewall {
		sc.logger.Debug("firewall setup disabled for target")
		return nil
	}

	for _, port := range []int{22, 80, 443, t.Port()} {
		_, err := sc.guard.EnsureExists(ctx,
			fmt.Sprintf("ufw status | grep -qw %d/tcp", port),
			fmt.Sprintf("ufw allow %d/tcp", port),
			provision.Elevated,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// startServices starts the service unit and reloads the reverse proxy.
func (p *Pipeline) startServices(ctx context.Context, sc *stageContext) error {
	t := sc.target

	for _, cmd := range []string{
		fmt.Sprintf("systemctl start %s", t.ServiceUnit()),
		"systemctl reload nginx",
	} {
		if _, err := sc.backend.Run(ctx, cmd, executor.RunOptions{Elevate: true}); err != nil {
			return err
		}
	}

	result, err := sc.backend.Run(ctx,
		fmt.Sprintf("systemctl is-active %s", t.ServiceUnit()),
		executor.RunOptions{Elevate: true, Lenient: true},
	)
	if err != nil {
		return err
	}
	if result.Stdout != "active" {
		sc.logger.Warnf("service %s is not active after start: %s", t.ServiceUnit(), result.Stdout)
	}
	return nil
}

// ensureArtifact renders and writes an artifact only when the final path does
// not exist yet; an existing artifact is never rewritten.
func (p *Pipeline) ensureArtifact(ctx context.Context, sc *stageContext, path string, kind render.Kind, data interface{}, owner string, mode fs.FileMode) (bool, error) {
	result, err := sc.backend.Run(ctx,
		fmt.Sprintf("test -f %s", path),
		executor.RunOptions{Elevate: true, Lenient: true},
	)
	if err != nil {
		return false, err
	}
	if result.Success() {
		sc.logger.Debugf("artifact already present: %s", path)
		return false, nil
	}

	text, err := render.Render(kind, data)
	if err != nil {
		return false, err
	}

	if err := render.WriteArtifact(ctx, sc.backend, path, text, owner, mode); err != nil {
		return false, err
	}
	return true, nil
}
