package nginx

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"gitship/internal/logger"
	"gitship/internal/server"
)

var nlog = logger.PackageLogger("nginx")

const (
	sitesAvailable = "/etc/nginx/sites-available"
	sitesEnabled   = "/etc/nginx/sites-enabled"
)

// ConfigError is a fatal proxy configuration failure. The running nginx is
// never reloaded with a configuration that failed validation.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("proxy config: %s: %v", e.Stage, e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// siteTemplate routes all inbound traffic on port 80 to the container's
// internal port, forwards the standard proxy headers, supports websocket
// upgrades and sets baseline security response headers.
var siteTemplate = template.Must(template.New("site").Parse(`server {
    listen 80;
    server_name {{.ServerName}};

    add_header X-Frame-Options "DENY" always;
    add_header X-Content-Type-Options "nosniff" always;
    add_header X-XSS-Protection "1; mode=block" always;

    location / {
        proxy_pass http://127.0.0.1:{{.Port}};
        proxy_http_version 1.1;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
    }
}
`))

// RenderSite produces the server block for a project.
func RenderSite(serverName string, port int) (string, error) {
	var buf bytes.Buffer
	err := siteTemplate.Execute(&buf, struct {
		ServerName string
		Port       int
	}{ServerName: serverName, Port: port})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SitePath returns the sites-available file for a project.
func SitePath(project string) string {
	return sitesAvailable + "/" + project + ".conf"
}

// EnabledPath returns the sites-enabled symlink for a project.
func EnabledPath(project string) string {
	return sitesEnabled + "/" + project + ".conf"
}

// Configurer writes and activates the reverse-proxy rule for a project.
type Configurer struct {
	r server.Runner
}

// New creates a Configurer executing through the given runner.
func New(r server.Runner) *Configurer {
	return &Configurer{r: r}
}

// Configure writes the project-scoped server block, enables it, disables the
// default catch-all site, validates the full nginx configuration and only
// then reloads the service. Validation failure aborts before any reload.
func (c *Configurer) Configure(ctx context.Context, project, serverName string, port int) error {
	site, err := RenderSite(serverName, port)
	if err != nil {
		return &ConfigError{Stage: "render", Err: err}
	}

	sitePath := SitePath(project)
	nlog.Info("Writing proxy rule %s (port 80 -> %d)", sitePath, port)
	write := server.Command{Argv: []string{"sudo", "tee", sitePath}, Stdin: site}
	if _, err := c.r.Run(ctx, write); err != nil {
		return &ConfigError{Stage: "write", Err: err}
	}

	enable := server.Command{Argv: []string{"sudo", "ln", "-sfn", sitePath, EnabledPath(project)}}
	if _, err := c.r.Run(ctx, enable); err != nil {
		return &ConfigError{Stage: "enable", Err: err}
	}

	disableDefault := server.Command{Argv: []string{"sudo", "rm", "-f", sitesEnabled + "/default"}}
	if _, err := c.r.Run(ctx, disableDefault); err != nil {
		return &ConfigError{Stage: "disable default site", Err: err}
	}

	if _, err := c.r.Run(ctx, server.Command{Argv: []string{"sudo", "nginx", "-t"}}); err != nil {
		return &ConfigError{Stage: "validate", Err: err}
	}

	if _, err := c.r.Run(ctx, server.Command{Argv: []string{"sudo", "systemctl", "reload", "nginx"}}); err != nil {
		return &ConfigError{Stage: "reload", Err: err}
	}

	nlog.Success("Proxy rule for %s active", project)
	nlog.Info("TLS is a manual follow-up: sudo certbot --nginx -d %s", serverName)
	return nil
}
