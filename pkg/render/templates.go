// Package render generates on-disk artifacts (application config, service
// unit, reverse-proxy vhost) from fixed templates. Templates are pure
// substitution: no control flow lives inside them, which keeps rendering a
// data-in/text-out function.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/provisr/provisr/pkg/config"
)

// Kind names one artifact template.
type Kind string

const (
	// KindAppConfig is the ini-style application configuration file.
	KindAppConfig Kind = "app-config"

	// KindServiceUnit is the systemd service unit definition.
	KindServiceUnit Kind = "service-unit"

	// KindVhost is the reverse-proxy virtual-host block.
	KindVhost Kind = "vhost"
)

const appConfigTemplate = `[options]
; This is the password that allows database operations:
admin_passwd = {{.AdminPassword}}
db_host = {{.DBHost}}
db_port = {{.DBPort}}
db_user = {{.DBUser}}
db_password = {{.DBPassword}}
dbfilter = {{.DBFilter}}
addons_path = {{.AddonsPath}}
logfile = {{.LogFile}}
log_level = info
proxy_mode = True
http_port = {{.HTTPPort}}
longpolling_port = {{.LongpollPort}}
workers = {{.Workers}}
limit_time_cpu = 600
limit_time_real = 1200
max_cron_threads = 1
`

const serviceUnitTemplate = `[Unit]
Description={{.Description}}
Requires=postgresql.service
After=network.target postgresql.service

[Service]
Type=simple
SyslogIdentifier={{.SyslogIdentifier}}
User={{.User}}
Group={{.Group}}
ExecStart={{.ExecStart}}
StandardOutput=journal+console
RestartSec=5
Restart=always

[Install]
WantedBy=multi-user.target
`

const vhostTemplate = `upstream {{.Upstream}} {
    server 127.0.0.1:{{.HTTPPort}};
}

upstream {{.Upstream}}-longpoll {
    server 127.0.0.1:{{.LongpollPort}};
}

server {
    listen 80;
    server_name {{.Domain}};

    proxy_set_header X-Forwarded-Host $host;
    proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
    proxy_set_header X-Forwarded-Proto $scheme;
    proxy_set_header X-Real-IP $remote_addr;

    access_log /var/log/nginx/{{.Upstream}}-access.log;
    error_log /var/log/nginx/{{.Upstream}}-error.log;

    location /longpolling {
        proxy_pass http://{{.Upstream}}-longpoll;
    }

    location / {
        proxy_redirect off;
        proxy_pass http://{{.Upstream}};
    }

    location ~* /web/static/ {
        proxy_cache_valid 200 90m;
        proxy_buffering on;
        expires 864000;
        proxy_pass http://{{.Upstream}};
    }

    gzip_types text/css text/less text/plain text/xml application/xml application/json application/javascript;
    gzip on;
}
`

var templates = map[Kind]*template.Template{
	KindAppConfig:   template.Must(template.New(string(KindAppConfig)).Parse(appConfigTemplate)),
	KindServiceUnit: template.Must(template.New(string(KindServiceUnit)).Parse(serviceUnitTemplate)),
	KindVhost:       template.Must(template.New(string(KindVhost)).Parse(vhostTemplate)),
}

// AppConfigVars fills the application config template.
type AppConfigVars struct {
	AdminPassword string
	DBHost        string
	DBPort        int
	DBUser        string
	DBPassword    string
	DBFilter      string
	AddonsPath    string
	LogFile       string
	HTTPPort      int
	LongpollPort  int
	Workers       int
}

// ServiceUnitVars fills the service unit template.
type ServiceUnitVars struct {
	Description      string
	SyslogIdentifier string
	User             string
	Group            string
	ExecStart        string
}

// VhostVars fills the virtual-host template.
type VhostVars struct {
	Upstream     string
	Domain       string
	HTTPPort     int
	LongpollPort int
}

// Render substitutes variables into the named template.
func Render(kind Kind, data interface{}) (string, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown template kind %q", kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", kind, err)
	}
	return buf.String(), nil
}

// AppConfigVarsFor derives config-file variables from a target.
func AppConfigVarsFor(t config.Target) AppConfigVars {
	s := t.Settings
	workers := s.Workers
	if workers == 0 {
		workers = 2
	}
	return AppConfigVars{
		AdminPassword: s.AdminPassword,
		DBHost:        s.DBHost,
		DBPort:        s.DBPort,
		DBUser:        t.DatabaseUser(),
		DBPassword:    s.DBPassword,
		DBFilter:      t.DatabaseName(),
		AddonsPath:    t.SourceDir() + "/addons," + t.AddonsDir(),
		LogFile:       t.LogFile(),
		HTTPPort:      t.Port(),
		LongpollPort:  t.LongpollPort(),
		Workers:       workers,
	}
}

// ServiceUnitVarsFor derives unit-file variables from a target.
func ServiceUnitVarsFor(t config.Target) ServiceUnitVars {
	return ServiceUnitVars{
		Description:      fmt.Sprintf("Managed service (%s)", titleCase(t.Name)),
		SyslogIdentifier: t.ServiceName(),
		User:             t.User(),
		Group:            t.User(),
		ExecStart:        t.ExecStart(),
	}
}

// VhostVarsFor derives vhost variables from a target.
func VhostVarsFor(t config.Target) VhostVars {
	return VhostVars{
		Upstream:     t.VhostName(),
		Domain:       t.Settings.Domain,
		HTTPPort:     t.Port(),
		LongpollPort: t.LongpollPort(),
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
