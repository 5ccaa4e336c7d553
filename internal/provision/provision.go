package provision

import (
	"context"
	"fmt"

	"gitship/internal/logger"
	"gitship/internal/server"
)

var plog = logger.PackageLogger("provision")

const certsDir = "/etc/gitship/certs"

const certsReadme = `TLS certificates for gitship-managed sites live here.

No certificate is issued automatically. To add one for a deployed project:

    sudo certbot --nginx -d your.domain.example

and point the project's server block at the issued certificate.
`

// ComponentError reports which runtime component failed to converge.
type ComponentError struct {
	Component string
	Err       error
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("provisioning %s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// Provisioner brings the remote host to the state the deployment needs:
// container engine, compose plugin and reverse proxy present and running.
// Converge is idempotent; components already present are left alone.
type Provisioner struct {
	r  server.Runner
	pm PackageManager
}

// New detects the host's package manager and returns a Provisioner for it.
func New(ctx context.Context, r server.Runner) (*Provisioner, error) {
	pmType, err := DetectPackageManager(ctx, r)
	if err != nil {
		return nil, &ComponentError{Component: "package manager", Err: err}
	}
	plog.Debug("Detected package manager: %s", pmType)
	pm, err := NewPackageManager(pmType, r)
	if err != nil {
		return nil, &ComponentError{Component: "package manager", Err: err}
	}
	return &Provisioner{r: r, pm: pm}, nil
}

// Converge ensures each required component independently, installing only
// what is missing. Safe to run any number of times.
func (p *Provisioner) Converge(ctx context.Context) error {
	if err := p.ensureDocker(ctx); err != nil {
		return &ComponentError{Component: "docker", Err: err}
	}
	if err := p.ensureCompose(ctx); err != nil {
		return &ComponentError{Component: "docker compose", Err: err}
	}
	if err := p.ensureNginx(ctx); err != nil {
		return &ComponentError{Component: "nginx", Err: err}
	}
	if err := p.ensureCertsDir(ctx); err != nil {
		return &ComponentError{Component: "certificate directory", Err: err}
	}
	plog.Success("Remote environment converged")
	return nil
}

func (p *Provisioner) ensureDocker(ctx context.Context) error {
	ok, err := commandExists(ctx, p.r, "docker")
	if err != nil {
		return err
	}
	if ok {
		plog.Info("Docker already installed")
		return nil
	}

	plog.Info("Installing Docker via get.docker.com")
	steps := []server.Command{
		server.Script(`curl -fsSL https://get.docker.com | sudo sh`),
		server.Script(`sudo usermod -aG docker "$(whoami)"`),
		{Argv: []string{"sudo", "systemctl", "enable", "--now", "docker"}},
	}
	for _, cmd := range steps {
		if _, err := p.r.Run(ctx, cmd); err != nil {
			return err
		}
	}
	plog.Success("Docker installed")
	return nil
}

func (p *Provisioner) ensureCompose(ctx context.Context) error {
	probe := server.Command{
		Argv:        []string{"docker", "compose", "version"},
		OkExitCodes: []int{0, 1, 125, 127},
	}
	res, err := p.r.Run(ctx, probe)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		plog.Info("Docker Compose already installed")
		return nil
	}

	plog.Info("Installing Docker Compose plugin")
	if err := p.pm.Update(ctx); err != nil {
		return err
	}
	if err := p.pm.Install(ctx, "docker-compose-plugin"); err != nil {
		return err
	}
	plog.Success("Docker Compose installed")
	return nil
}

func (p *Provisioner) ensureNginx(ctx context.Context) error {
	ok, err := commandExists(ctx, p.r, "nginx")
	if err != nil {
		return err
	}
	if !ok {
		plog.Info("Installing nginx")
		if err := p.pm.Update(ctx); err != nil {
			return err
		}
		if err := p.pm.Install(ctx, "nginx"); err != nil {
			return err
		}
	} else {
		plog.Info("nginx already installed")
	}

	// enable --now is idempotent on an already-running service.
	cmd := server.Command{Argv: []string{"sudo", "systemctl", "enable", "--now", "nginx"}}
	if _, err := p.r.Run(ctx, cmd); err != nil {
		return err
	}
	return nil
}

func (p *Provisioner) ensureCertsDir(ctx context.Context) error {
	mk := server.Command{Argv: []string{"sudo", "mkdir", "-p", certsDir}}
	if _, err := p.r.Run(ctx, mk); err != nil {
		return err
	}
	write := server.Command{
		Argv:  []string{"sudo", "tee", certsDir + "/README"},
		Stdin: certsReadme,
	}
	if _, err := p.r.Run(ctx, write); err != nil {
		return err
	}
	return nil
}
