package config

import (
	"fmt"
	"path"
)

// Settings holds the resolved configuration for one target. Required fields
// must be present after layering; everything the resolver does not know about
// is passed through opaquely in Extra.
type Settings struct {
	// Environment is the target name; injected by the resolver.
	Environment string `yaml:"environment"`

	// Version is the managed application version to install.
	Version string `yaml:"version" validate:"required"`

	// Port is the HTTP port the managed service listens on.
	Port int `yaml:"port" validate:"required,gt=0,lte=65535"`

	// Prefix namespaces every target-scoped resource name.
	Prefix string `yaml:"prefix" validate:"required"`

	// Domain is the vhost server name, default "{target}.example.com".
	Domain string `yaml:"domain"`

	// User is the system user the service runs as, default "{prefix}app".
	User string `yaml:"user"`

	// Home is the installation root, default "/opt/{prefix}app".
	Home string `yaml:"home"`

	// SourceRepo is the git repository the application is cloned from.
	SourceRepo string `yaml:"source_repo"`

	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBPassword string `yaml:"db_password"`

	// AdminPassword is the application master password written into the
	// generated config file. Treated as an opaque string.
	AdminPassword string `yaml:"admin_password"`

	// Workers is the application worker process count.
	Workers int `yaml:"workers"`

	// Extensions are addon directory names ensured under the addons path.
	Extensions []string `yaml:"extensions"`

	// SetupFirewall controls the firewall stage, default true.
	SetupFirewall bool `yaml:"setup_firewall"`

	// Remote connection parameters, used when the remote backend is selected.
	RemoteHost     string `yaml:"remote_host"`
	RemotePort     int    `yaml:"remote_port"`
	RemoteUser     string `yaml:"remote_user"`
	RemotePassword string `yaml:"remote_password"`
	RemoteKeyPath  string `yaml:"remote_key"`

	// Extra carries unknown option keys through unmodified.
	Extra map[string]interface{} `yaml:"-"`
}

// Target identifies one deployment environment. It is created once per run
// from resolved settings and is immutable afterwards; every derived resource
// name is namespaced by the settings prefix so targets sharing one host
// never collide.
type Target struct {
	Name     string
	Settings Settings
}

// NewTarget builds a Target from resolved settings.
func NewTarget(name string, s Settings) Target {
	return Target{Name: name, Settings: s}
}

// User returns the system user the service runs as.
func (t Target) User() string {
	return t.Settings.User
}

// Home returns the installation root directory.
func (t Target) Home() string {
	return t.Settings.Home
}

// SourceDir returns the application checkout directory.
func (t Target) SourceDir() string {
	return path.Join(t.Settings.Home, "app")
}

// AddonsDir returns the extension addons directory.
func (t Target) AddonsDir() string {
	return path.Join(t.Settings.Home, "addons")
}

// DatabaseName returns the target's database name.
func (t Target) DatabaseName() string {
	return t.Settings.Prefix + "app"
}

// DatabaseUser returns the target's database role name.
func (t Target) DatabaseUser() string {
	return t.Settings.Prefix + "app"
}

// ServiceName returns the service unit base name.
func (t Target) ServiceName() string {
	return t.Settings.Prefix + "app"
}

// ServiceUnit returns the full systemd unit name.
func (t Target) ServiceUnit() string {
	return t.ServiceName() + ".service"
}

// UnitPath returns the systemd unit file path.
func (t Target) UnitPath() string {
	return "/etc/systemd/system/" + t.ServiceUnit()
}

// ConfigDir returns the service configuration directory.
func (t Target) ConfigDir() string {
	return "/etc/" + t.Settings.Prefix + "app"
}

// ConfigPath returns the generated application config file path.
func (t Target) ConfigPath() string {
	return path.Join(t.ConfigDir(), "app.conf")
}

// LogDir returns the service log directory.
func (t Target) LogDir() string {
	return "/var/log/" + t.Settings.Prefix + "app"
}

// LogFile returns the application log file path.
func (t Target) LogFile() string {
	return path.Join(t.LogDir(), "server.log")
}

// VhostName returns the reverse-proxy site name.
func (t Target) VhostName() string {
	return t.Settings.Prefix + "app"
}

// VhostAvailablePath returns the vhost file path under sites-available.
func (t Target) VhostAvailablePath() string {
	return "/etc/nginx/sites-available/" + t.VhostName()
}

// VhostEnabledPath returns the vhost symlink path under sites-enabled.
func (t Target) VhostEnabledPath() string {
	return "/etc/nginx/sites-enabled/" + t.VhostName()
}

// Port returns the service HTTP port.
func (t Target) Port() int {
	return t.Settings.Port
}

// LongpollPort returns the secondary upstream port, by convention the
// service port plus 1000.
func (t Target) LongpollPort() int {
	return t.Settings.Port + 1000
}

// ExecStart returns the service start command written into the unit file.
func (t Target) ExecStart() string {
	return fmt.Sprintf("%s/bin/app --config %s", t.Settings.Home, t.ConfigPath())
}
