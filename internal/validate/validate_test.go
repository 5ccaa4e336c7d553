package validate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gitship/internal/server"
)

type fakeRunner struct {
	calls   []string
	respond func(cmd server.Command) (server.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd server.Command) (server.Result, error) {
	f.calls = append(f.calls, cmd.Line())
	if f.respond != nil {
		return f.respond(cmd)
	}
	return server.Result{}, nil
}

// probeTarget runs a local HTTP server and returns its host:port, so the
// public probe has something real to hit.
func probeTarget(t *testing.T, status int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestValidateAllGreen(t *testing.T) {
	host := probeTarget(t, http.StatusOK)
	r := &fakeRunner{}

	report, err := New(r).Validate(context.Background(), host, 3000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.DockerActive || !report.NginxActive || !report.ConfigValid {
		t.Errorf("fatal checks not all recorded: %+v", report)
	}
	if report.InternalProbe != ProbeOK || report.PublicProbe != ProbeOK {
		t.Errorf("probes should be OK: %+v", report)
	}
}

func TestValidateServiceInactiveIsFatal(t *testing.T) {
	bang := errors.New("inactive")
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		if cmd.Line() == "systemctl is-active --quiet nginx" {
			return server.Result{}, bang
		}
		return server.Result{}, nil
	}}

	_, err := New(r).Validate(context.Background(), "198.51.100.1", 3000)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *Error", err)
	}
	if verr.Check != "nginx service" {
		t.Errorf("check = %q, want nginx service", verr.Check)
	}
}

func TestValidateConfigFailureIsFatal(t *testing.T) {
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		if cmd.Line() == "sudo nginx -t" {
			return server.Result{}, errors.New("test failed")
		}
		return server.Result{}, nil
	}}

	report, err := New(r).Validate(context.Background(), "198.51.100.1", 3000)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *Error", err)
	}
	if verr.Check != "nginx configuration" {
		t.Errorf("check = %q, want nginx configuration", verr.Check)
	}
	if !report.DockerActive || !report.NginxActive {
		t.Errorf("service checks should have passed before the failure: %+v", report)
	}
}

func TestValidateInternalProbeOnlyWarns(t *testing.T) {
	host := probeTarget(t, http.StatusOK)
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		if strings.HasPrefix(cmd.Line(), "curl ") {
			return server.Result{ExitCode: 7}, nil // connection refused
		}
		return server.Result{}, nil
	}}

	report, err := New(r).Validate(context.Background(), host, 3000)
	if err != nil {
		t.Fatalf("an unanswered internal probe must not fail validation: %v", err)
	}
	if report.InternalProbe != ProbeWarned {
		t.Error("internal probe warning not recorded")
	}
	if report.PublicProbe != ProbeOK {
		t.Errorf("public probe should be independent of the internal one: %+v", report)
	}
}

func TestValidateInternalProbeTransportFailureOnlyWarns(t *testing.T) {
	host := probeTarget(t, http.StatusOK)
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		if strings.HasPrefix(cmd.Line(), "curl ") {
			return server.Result{}, errors.New("open session: connection reset")
		}
		return server.Result{}, nil
	}}

	report, err := New(r).Validate(context.Background(), host, 3000)
	if err != nil {
		t.Fatalf("a transport failure on the internal probe must not fail validation: %v", err)
	}
	if report.InternalProbe != ProbeWarned {
		t.Error("internal probe warning not recorded")
	}
}

func TestValidatePublicProbeWarnsOnServerError(t *testing.T) {
	host := probeTarget(t, http.StatusBadGateway)
	report, err := New(&fakeRunner{}).Validate(context.Background(), host, 3000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.PublicProbe != ProbeWarned {
		t.Error("a 502 from the public URL should warn")
	}
}

func TestValidatePublicProbeWarnsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	report, err := New(&fakeRunner{}).Validate(context.Background(), host, 3000)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.PublicProbe != ProbeWarned {
		t.Error("an unreachable public URL should warn, not fail")
	}
}
