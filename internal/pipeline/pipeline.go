package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"gitship/internal/config"
	"gitship/internal/deploy"
	"gitship/internal/gitsync"
	"gitship/internal/logger"
	"gitship/internal/nginx"
	"gitship/internal/provision"
	"gitship/internal/server"
	"gitship/internal/transfer"
	"gitship/internal/validate"
)

var plog = logger.PackageLogger("pipeline")

// Summary is what a successful run reports back to the operator.
type Summary struct {
	Project       string
	URL           string
	ContainerPort int
	Report        *validate.Report
}

// Pipeline runs the deployment steps strictly forward, fail-fast. One
// pipeline runs at a time per host+project, enforced by a remote lock.
type Pipeline struct {
	spec  *config.DeploymentSpec
	runID string
}

// New prepares a pipeline for the given spec.
func New(spec *config.DeploymentSpec) *Pipeline {
	return &Pipeline{spec: spec, runID: uuid.NewString()[:8]}
}

// RunID identifies this run in the lock file and the log file name.
func (p *Pipeline) RunID() string { return p.runID }

func (p *Pipeline) connect(ctx context.Context) (*server.Client, error) {
	client := server.NewClient(p.spec.RemoteHost, p.spec.RemoteUser, p.spec.SSHKeyPath)
	if err := client.Connect(); err != nil {
		return nil, fail(CategoryUnreachable, "remote probe", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fail(CategoryUnreachable, "remote probe", err)
	}
	plog.Info("Remote host %s reachable", p.spec.RemoteHost)
	return client, nil
}

// Deploy runs the full forward pipeline and returns the run summary.
func (p *Pipeline) Deploy(ctx context.Context) (*Summary, error) {
	spec := p.spec

	project, err := gitsync.ProjectName(spec.RepoURL)
	if err != nil {
		return nil, fail(CategoryConfig, "derive project name", err)
	}
	plog.Info("Deploying project %q (run %s)", project, p.runID)

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fail(CategoryGeneric, "resolve home directory", err)
	}
	syncer := &gitsync.Syncer{BaseDir: filepath.Join(home, ".gitship", "src")}
	localDir, err := syncer.EnsureLocalCheckout(ctx, spec.RepoURL, spec.Branch, spec.AccessToken, project)
	if err != nil {
		return nil, fail(CategorySourceSync, "source sync", err)
	}

	kind, descriptorFile := gitsync.DetectDescriptor(localDir)
	if kind == gitsync.DescriptorNone {
		return nil, fail(CategoryMissingDescriptor, "detect build descriptor",
			fmt.Errorf("neither a Dockerfile nor a compose file found in %s", localDir))
	}
	plog.Info("Build descriptor: %s", descriptorFile)

	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := server.AcquireLock(ctx, client, project, p.runID); err != nil {
		return nil, fail(CategoryGeneric, "acquire deployment lock", err)
	}
	defer p.releaseLock(client, project)

	p.preflight(ctx, client)

	prov, err := provision.New(ctx, client)
	if err != nil {
		return nil, fail(CategoryProvisioning, "provision environment", err)
	}
	if err := prov.Converge(ctx); err != nil {
		return nil, fail(CategoryProvisioning, "provision environment", err)
	}

	remoteDir := spec.RemoteDir(project)
	err = transfer.Mirror(ctx, client, localDir, remoteDir, spec.RemoteUser, spec.RemoteHost, spec.SSHKeyPath)
	if err != nil {
		return nil, fail(CategoryTransfer, "transfer artifacts", err)
	}

	if err := deploy.New(client).Deploy(ctx, project, remoteDir, kind, descriptorFile, spec.ContainerPort); err != nil {
		return nil, fail(CategoryDeploy, "deploy containers", err)
	}

	if err := nginx.New(client).Configure(ctx, project, spec.RemoteHost, spec.ContainerPort); err != nil {
		return nil, fail(CategoryProxy, "configure proxy", err)
	}

	report, err := validate.New(client).Validate(ctx, spec.RemoteHost, spec.ContainerPort)
	if err != nil {
		return nil, fail(CategoryValidation, "validate deployment", err)
	}

	return &Summary{
		Project:       project,
		URL:           "http://" + spec.RemoteHost + "/",
		ContainerPort: spec.ContainerPort,
		Report:        report,
	}, nil
}

// preflight records basic host facts in the run log. Informational only; a
// failing fact never fails the run.
func (p *Pipeline) preflight(ctx context.Context, r server.Runner) {
	facts := []server.Command{
		{Argv: []string{"uname", "-srm"}},
		{Argv: []string{"df", "-h", "/"}},
	}
	for _, cmd := range facts {
		res, err := r.Run(ctx, cmd)
		if err != nil {
			plog.Debug("preflight %s: %v", cmd.Line(), err)
			continue
		}
		plog.Debug("preflight %s: %s", cmd.Line(), strings.TrimSpace(res.Stdout))
	}
}

// releaseLock is best-effort and runs on a detached context so an
// interrupted run still frees the lock.
func (p *Pipeline) releaseLock(r server.Runner, project string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.ReleaseLock(ctx, r, project, p.runID); err != nil {
		plog.Warn("Could not release deployment lock for %s: %v", project, err)
	}
}
