package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gitship/internal/gitsync"
	"gitship/internal/logger"
	"gitship/internal/server"
)

var dlog = logger.PackageLogger("deploy")

// Error is a fatal container build or start failure.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("container deploy: %s: %v", e.Stage, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Deployer builds and starts the project's containers on the remote host.
// Redeploys are idempotent: anything from a previous run matching the
// project name is force-removed before building.
type Deployer struct {
	r   server.Runner
	now func() time.Time
}

// New creates a Deployer executing through the given runner.
func New(r server.Runner) *Deployer {
	return &Deployer{r: r, now: time.Now}
}

// Deploy removes prior containers and images for the project, then either
// brings up the compose stack or builds and runs the single-Dockerfile
// container, publishing the container port on the same host port with an
// unless-stopped restart policy.
func (d *Deployer) Deploy(ctx context.Context, project, remoteDir string, kind gitsync.Descriptor, descriptorFile string, port int) error {
	if err := d.removeExisting(ctx, project); err != nil {
		return &Error{Stage: "remove previous artifacts", Err: err}
	}

	switch kind {
	case gitsync.DescriptorCompose:
		return d.deployCompose(ctx, project, remoteDir, descriptorFile)
	case gitsync.DescriptorDockerfile:
		return d.deployDockerfile(ctx, project, remoteDir, port)
	default:
		return &Error{Stage: "select build path", Err: fmt.Errorf("no build descriptor for %s", project)}
	}
}

// removeExisting force-removes containers and images whose names match the
// project, so repeated deploys never accumulate stale artifacts. Absence of
// matches is not an error.
func (d *Deployer) removeExisting(ctx context.Context, project string) error {
	list := server.Command{Argv: []string{"docker", "ps", "-aq", "--filter", "name=^/" + project}}
	res, err := d.r.Run(ctx, list)
	if err != nil {
		return err
	}
	if ids := strings.Fields(res.Stdout); len(ids) > 0 {
		dlog.Info("Removing %d previous container(s) for %s", len(ids), project)
		rm := server.Command{Argv: append([]string{"docker", "rm", "-f"}, ids...)}
		if _, err := d.r.Run(ctx, rm); err != nil {
			return err
		}
	}

	ids, err := ProjectImages(ctx, d.r, project)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		dlog.Info("Removing %d previous image(s) for %s", len(ids), project)
		rmi := server.Command{Argv: append([]string{"docker", "rmi", "-f"}, ids...)}
		if _, err := d.r.Run(ctx, rmi); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployer) deployCompose(ctx context.Context, project, remoteDir, file string) error {
	dlog.Info("Deploying compose stack %s", project)

	down := server.Script(`cd "$1" && docker compose -p "$2" -f "$3" down --remove-orphans`,
		remoteDir, project, file)
	if _, err := d.r.Run(ctx, down); err != nil {
		return &Error{Stage: "compose down", Err: err}
	}

	up := server.Script(`cd "$1" && docker compose -p "$2" -f "$3" up -d --build`,
		remoteDir, project, file)
	if _, err := d.r.Run(ctx, up); err != nil {
		return &Error{Stage: "compose up", Err: err}
	}

	dlog.Success("Compose stack %s is up", project)
	return nil
}

func (d *Deployer) deployDockerfile(ctx context.Context, project, remoteDir string, port int) error {
	image := project + ":latest"
	dlog.Info("Building image %s", image)

	build := server.Script(`cd "$1" && docker build -t "$2" .`, remoteDir, image)
	if _, err := d.r.Run(ctx, build); err != nil {
		return &Error{Stage: "build", Err: err}
	}

	// Timestamp suffix keeps the name unique against leftovers from a
	// failed partial run; removeExisting matches on the project prefix.
	name := ContainerName(project, d.now())
	dlog.Info("Starting container %s on port %d", name, port)

	run := server.Command{Argv: []string{
		"docker", "run", "-d",
		"--name", name,
		"--restart", "unless-stopped",
		"-p", fmt.Sprintf("%d:%d", port, port),
		image,
	}}
	if _, err := d.r.Run(ctx, run); err != nil {
		return &Error{Stage: "run", Err: err}
	}

	dlog.Success("Container %s is up", name)
	return nil
}

// ProjectImages lists the IDs of images belonging to the project: the plain
// <project> repository plus compose-built <project>-<service> repositories.
// A bare `docker images -q <name>` is an exact repository match and would
// miss the service images.
func ProjectImages(ctx context.Context, r server.Runner, project string) ([]string, error) {
	list := server.Command{Argv: []string{
		"docker", "images", "-q",
		"--filter", "reference=" + project,
		"--filter", "reference=" + project + "-*",
	}}
	res, err := r.Run(ctx, list)
	if err != nil {
		return nil, err
	}
	return dedupe(strings.Fields(res.Stdout)), nil
}

// ContainerName embeds the project identity plus a timestamp uniqueness
// token.
func ContainerName(project string, t time.Time) string {
	return project + "-" + t.Format("20060102150405")
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
