package validate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gitship/internal/logger"
	"gitship/internal/server"
)

var vlog = logger.PackageLogger("validate")

// Error is a fatal post-deployment validation failure.
type Error struct {
	Check string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("validation: %s: %v", e.Check, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// ProbeStatus is the outcome of a best-effort reachability probe.
type ProbeStatus int

const (
	ProbeOK ProbeStatus = iota
	ProbeWarned
)

// Report summarizes the validation outcome. The service and config checks
// are fatal when they fail; the two HTTP probes only warn, since transient
// network or firewall conditions outside the pipeline can block them.
type Report struct {
	DockerActive  bool
	NginxActive   bool
	ConfigValid   bool
	InternalProbe ProbeStatus
	PublicProbe   ProbeStatus
}

// Validator checks the deployed state from both ends: service state and
// internal probe on the remote host, public probe from the invoking machine.
type Validator struct {
	r          server.Runner
	httpClient *http.Client
}

// New creates a Validator executing remote checks through the given runner.
func New(r server.Runner) *Validator {
	return &Validator{
		r:          r,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Validate runs the check sequence. It returns a Report alongside a nil
// error when the deployment is considered successful, even if probes warned.
func (v *Validator) Validate(ctx context.Context, host string, containerPort int) (*Report, error) {
	report := &Report{}

	for _, svc := range []string{"docker", "nginx"} {
		cmd := server.Command{Argv: []string{"systemctl", "is-active", "--quiet", svc}}
		if _, err := v.r.Run(ctx, cmd); err != nil {
			return report, &Error{Check: svc + " service", Err: err}
		}
		vlog.Info("%s service is active", svc)
	}
	report.DockerActive = true
	report.NginxActive = true

	if _, err := v.r.Run(ctx, server.Command{Argv: []string{"sudo", "nginx", "-t"}}); err != nil {
		return report, &Error{Check: "nginx configuration", Err: err}
	}
	report.ConfigValid = true

	// Application probe from inside the host. Best-effort: a slow-starting
	// app or a non-root health route must not fail the deployment.
	internal := server.Command{
		Argv:        []string{"curl", "-sf", "-o", "/dev/null", "--max-time", "10", fmt.Sprintf("http://127.0.0.1:%d/", containerPort)},
		OkExitCodes: []int{0, 7, 22, 28, 52, 56},
	}
	res, err := v.r.Run(ctx, internal)
	switch {
	case err != nil:
		report.InternalProbe = ProbeWarned
		vlog.Warn("Internal probe on 127.0.0.1:%d failed: %v", containerPort, err)
	case res.ExitCode != 0:
		report.InternalProbe = ProbeWarned
		vlog.Warn("Application did not answer on 127.0.0.1:%d yet (curl exit %d)", containerPort, res.ExitCode)
	default:
		vlog.Info("Application answers on container port %d", containerPort)
	}

	// Public probe from the invoking machine.
	report.PublicProbe = v.probePublic(ctx, host)

	return report, nil
}

func (v *Validator) probePublic(ctx context.Context, host string) ProbeStatus {
	url := "http://" + host + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		vlog.Warn("Public probe skipped: %v", err)
		return ProbeWarned
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		vlog.Warn("Public URL %s not reachable from here: %v", url, err)
		return ProbeWarned
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		vlog.Warn("Public URL %s answered %d", url, resp.StatusCode)
		return ProbeWarned
	}
	vlog.Success("Public URL %s answered %d", url, resp.StatusCode)
	return ProbeOK
}
