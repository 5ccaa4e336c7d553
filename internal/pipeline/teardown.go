package pipeline

import (
	"context"
	"strings"

	"gitship/internal/deploy"
	"gitship/internal/gitsync"
	"gitship/internal/nginx"
	"gitship/internal/server"
)

// removeOutcome distinguishes an expected-absent resource from one that was
// actually removed, so teardown logging can tell the two apart.
type removeOutcome int

const (
	outcomeRemoved removeOutcome = iota
	outcomeAbsent
)

// Teardown reverses the deployment: containers and images gone, proxy rule
// gone, remote project directory gone. Every step tolerates resources that
// are already absent, so teardown is idempotent and a second call still
// exits cleanly.
func (p *Pipeline) Teardown(ctx context.Context) error {
	spec := p.spec

	project, err := gitsync.ProjectName(spec.RepoURL)
	if err != nil {
		return fail(CategoryConfig, "derive project name", err)
	}
	plog.Info("Tearing down project %q on %s", project, spec.RemoteHost)

	client, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	return p.teardownRemote(ctx, client, project)
}

// teardownRemote does the remote-side removal work over an established
// runner.
func (p *Pipeline) teardownRemote(ctx context.Context, r server.Runner, project string) error {
	p.removeContainers(ctx, r, project)
	p.removeImages(ctx, r, project)

	enabled := p.removePath(ctx, r, nginx.EnabledPath(project), false)
	available := p.removePath(ctx, r, nginx.SitePath(project), false)
	if enabled == outcomeRemoved || available == outcomeRemoved {
		p.reloadProxy(ctx, r)
	} else {
		plog.Info("No proxy rule found for %s", project)
	}

	remoteDir := p.spec.RemoteDir(project)
	if p.removePath(ctx, r, remoteDir, true) == outcomeRemoved {
		plog.Info("Removed remote project directory %s", remoteDir)
	} else {
		plog.Info("Remote project directory already absent")
	}

	p.releaseLock(r, project)
	plog.Success("Teardown of %s complete", project)
	return nil
}

func (p *Pipeline) removeContainers(ctx context.Context, r server.Runner, project string) {
	list := server.Command{Argv: []string{"docker", "ps", "-aq", "--filter", "name=^/" + project}}
	res, err := r.Run(ctx, list)
	if err != nil {
		plog.Warn("Could not list containers for %s: %v", project, err)
		return
	}
	ids := strings.Fields(res.Stdout)
	if len(ids) == 0 {
		plog.Info("No containers found for %s", project)
		return
	}
	rm := server.Command{Argv: append([]string{"docker", "rm", "-f"}, ids...)}
	if _, err := r.Run(ctx, rm); err != nil {
		plog.Warn("Could not remove containers for %s: %v", project, err)
		return
	}
	plog.Info("Removed %d container(s) for %s", len(ids), project)
}

func (p *Pipeline) removeImages(ctx context.Context, r server.Runner, project string) {
	ids, err := deploy.ProjectImages(ctx, r, project)
	if err != nil {
		plog.Warn("Could not list images for %s: %v", project, err)
		return
	}
	if len(ids) == 0 {
		plog.Info("No images found for %s", project)
		return
	}
	rmi := server.Command{Argv: append([]string{"docker", "rmi", "-f"}, ids...)}
	if _, err := r.Run(ctx, rmi); err != nil {
		plog.Warn("Could not remove images for %s: %v", project, err)
		return
	}
	plog.Info("Removed image(s) for %s", project)
}

// removePath removes a remote file or directory, reporting absence as its
// own outcome rather than as a failure.
func (p *Pipeline) removePath(ctx context.Context, r server.Runner, path string, recursive bool) removeOutcome {
	probe := server.Script(`test -e "$1" || test -L "$1"`, path)
	probe.OkExitCodes = []int{0, 1}
	res, err := r.Run(ctx, probe)
	if err != nil || res.ExitCode != 0 {
		return outcomeAbsent
	}

	argv := []string{"sudo", "rm", "-f", path}
	if recursive {
		argv = []string{"sudo", "rm", "-rf", path}
	}
	if _, err := r.Run(ctx, server.Command{Argv: argv}); err != nil {
		plog.Warn("Could not remove %s: %v", path, err)
		return outcomeAbsent
	}
	return outcomeRemoved
}

// reloadProxy re-validates and reloads nginx after proxy files changed.
// Best-effort during teardown.
func (p *Pipeline) reloadProxy(ctx context.Context, r server.Runner) {
	if _, err := r.Run(ctx, server.Command{Argv: []string{"sudo", "nginx", "-t"}}); err != nil {
		plog.Warn("nginx configuration invalid after teardown: %v", err)
		return
	}
	if _, err := r.Run(ctx, server.Command{Argv: []string{"sudo", "systemctl", "reload", "nginx"}}); err != nil {
		plog.Warn("Could not reload nginx: %v", err)
		return
	}
	plog.Info("Proxy rule removed and nginx reloaded")
}
