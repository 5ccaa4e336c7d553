package provision

import (
	"context"
	"strings"
	"testing"

	"gitship/internal/server"
)

// fakeHost simulates a remote host well enough to exercise convergence:
// command probes answer from the installed set, and install commands mutate
// it.
type fakeHost struct {
	installed map[string]bool
	calls     []string
}

func newFakeHost(commands ...string) *fakeHost {
	h := &fakeHost{installed: map[string]bool{}}
	for _, c := range commands {
		h.installed[c] = true
	}
	return h
}

func (h *fakeHost) Run(ctx context.Context, cmd server.Command) (server.Result, error) {
	line := cmd.Line()
	h.calls = append(h.calls, line)

	switch {
	case strings.Contains(line, "command -v"):
		name := cmd.Argv[len(cmd.Argv)-1]
		if h.installed[name] {
			return server.Result{ExitCode: 0}, nil
		}
		return server.Result{ExitCode: 1}, nil
	case line == "docker compose version":
		if h.installed["docker-compose"] {
			return server.Result{ExitCode: 0}, nil
		}
		return server.Result{ExitCode: 127}, nil
	case strings.Contains(line, "get.docker.com"):
		h.installed["docker"] = true
	case strings.Contains(line, "install -y"):
		if strings.Contains(line, "docker-compose-plugin") {
			h.installed["docker-compose"] = true
		}
		if strings.Contains(line, "nginx") {
			h.installed["nginx"] = true
		}
	}
	return server.Result{}, nil
}

func (h *fakeHost) indexMatching(substr string) int {
	for i, line := range h.calls {
		if strings.Contains(line, substr) {
			return i
		}
	}
	return -1
}

func (h *fakeHost) countMatching(substr string) int {
	n := 0
	for _, line := range h.calls {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func TestDetectPackageManager(t *testing.T) {
	tests := []struct {
		name     string
		commands []string
		want     PackageManagerType
		wantErr  bool
	}{
		{name: "debian", commands: []string{"apt-get"}, want: Apt},
		{name: "fedora", commands: []string{"dnf"}, want: Dnf},
		{name: "centos", commands: []string{"yum"}, want: Yum},
		{name: "apt wins over yum", commands: []string{"apt-get", "yum"}, want: Apt},
		{name: "bare host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectPackageManager(context.Background(), newFakeHost(tt.commands...))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DetectPackageManager: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConvergeFreshHost(t *testing.T) {
	host := newFakeHost("apt-get", "curl")
	p, err := New(context.Background(), host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Converge(context.Background()); err != nil {
		t.Fatalf("Converge: %v", err)
	}

	if n := host.countMatching("get.docker.com"); n != 1 {
		t.Errorf("docker bootstrap ran %d times, want 1", n)
	}
	if n := host.countMatching("docker-compose-plugin"); n != 1 {
		t.Errorf("compose plugin installed %d times, want 1", n)
	}
	if n := host.countMatching("apt-get install -y nginx"); n != 1 {
		t.Errorf("nginx installed %d times, want 1", n)
	}
	if n := host.countMatching(certsDir); n == 0 {
		t.Error("certificate directory was never prepared")
	}
}

func TestConvergeIsIdempotent(t *testing.T) {
	host := newFakeHost("apt-get", "curl")
	p, err := New(context.Background(), host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := p.Converge(context.Background()); err != nil {
			t.Fatalf("Converge #%d: %v", i+1, err)
		}
	}

	// Each component installs exactly once; the second pass only probes.
	if n := host.countMatching("get.docker.com"); n != 1 {
		t.Errorf("docker bootstrap ran %d times, want 1", n)
	}
	if n := host.countMatching("docker-compose-plugin"); n != 1 {
		t.Errorf("compose plugin installed %d times, want 1", n)
	}
	if n := host.countMatching("apt-get install -y nginx"); n != 1 {
		t.Errorf("nginx installed %d times, want 1", n)
	}
}

func TestComposeInstallRefreshesPackageIndex(t *testing.T) {
	// Docker preinstalled, so the get.docker.com bootstrap (which refreshes
	// the index itself) never runs; the plugin install must not rely on it.
	host := newFakeHost("apt-get", "docker", "nginx")
	p, err := New(context.Background(), host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Converge(context.Background()); err != nil {
		t.Fatalf("Converge: %v", err)
	}

	updateIdx := host.indexMatching("apt-get update")
	installIdx := host.indexMatching("docker-compose-plugin")
	if installIdx == -1 {
		t.Fatalf("compose plugin never installed: %v", host.calls)
	}
	if updateIdx == -1 || updateIdx > installIdx {
		t.Errorf("package index not refreshed before the plugin install: %v", host.calls)
	}
}

func TestConvergeAlreadyProvisioned(t *testing.T) {
	host := newFakeHost("apt-get", "docker", "docker-compose", "nginx")
	p, err := New(context.Background(), host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Converge(context.Background()); err != nil {
		t.Fatalf("Converge: %v", err)
	}
	for _, marker := range []string{"get.docker.com", "install -y"} {
		if n := host.countMatching(marker); n != 0 {
			t.Errorf("unexpected install activity %q on a provisioned host: %v", marker, host.calls)
		}
	}
}

func TestYumManagerCommands(t *testing.T) {
	host := newFakeHost()
	ym := &YumManager{r: host, tool: "dnf"}
	if err := ym.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := ym.Install(context.Background(), "nginx"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	want := []string{
		"sudo dnf makecache -y",
		"sudo dnf install -y nginx",
	}
	for i, w := range want {
		if host.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, host.calls[i], w)
		}
	}
}
