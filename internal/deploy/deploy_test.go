package deploy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gitship/internal/gitsync"
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

func fixedDeployer(r server.Runner) *Deployer {
	return &Deployer{r: r, now: func() time.Time {
		return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	}}
}

func indexOf(lines []string, substr string) int {
	for i, line := range lines {
		if strings.Contains(line, substr) {
			return i
		}
	}
	return -1
}

func TestDeployDockerfile(t *testing.T) {
	r := &fakeRunner{}
	d := fixedDeployer(r)

	err := d.Deploy(context.Background(), "shop", "/srv/deployments/shop", gitsync.DescriptorDockerfile, "Dockerfile", 3000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	runIdx := indexOf(r.calls, "docker run")
	buildIdx := indexOf(r.calls, "docker build")
	if buildIdx == -1 || runIdx == -1 {
		t.Fatalf("missing build or run call: %v", r.calls)
	}
	if buildIdx > runIdx {
		t.Error("container started before the image was built")
	}

	runLine := r.calls[runIdx]
	for _, want := range []string{
		"--name shop-20250314092653",
		"--restart unless-stopped",
		"-p 3000:3000",
		"shop:latest",
	} {
		if !strings.Contains(runLine, want) {
			t.Errorf("docker run line %q missing %q", runLine, want)
		}
	}
}

func TestDeployRemovesPreviousArtifacts(t *testing.T) {
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		switch {
		case strings.HasPrefix(cmd.Line(), "docker ps -aq"):
			return server.Result{Stdout: "abc123\ndef456\n"}, nil
		case strings.HasPrefix(cmd.Line(), "docker images -q"):
			return server.Result{Stdout: "img111\nimg111\nimg222\n"}, nil
		}
		return server.Result{}, nil
	}}
	d := fixedDeployer(r)

	err := d.Deploy(context.Background(), "shop", "/srv/deployments/shop", gitsync.DescriptorDockerfile, "Dockerfile", 3000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	rmIdx := indexOf(r.calls, "docker rm -f abc123 def456")
	rmiIdx := indexOf(r.calls, "docker rmi -f img111 img222")
	buildIdx := indexOf(r.calls, "docker build")
	if rmIdx == -1 {
		t.Fatalf("previous containers were not removed: %v", r.calls)
	}
	if rmiIdx == -1 {
		t.Fatalf("previous images were not removed (or not deduplicated): %v", r.calls)
	}
	if buildIdx < rmIdx || buildIdx < rmiIdx {
		t.Error("build ran before previous artifacts were removed")
	}
}

func TestDeployRemovesComposeServiceImages(t *testing.T) {
	// Docker resolves a bare repository argument as an exact match, so
	// compose-built shop-web/shop-api images only answer to the pattern
	// filter.
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		line := cmd.Line()
		if strings.HasPrefix(line, "docker images -q") {
			if strings.Contains(line, "reference=shop-*") {
				return server.Result{Stdout: "img111\nimg222\n"}, nil
			}
			return server.Result{}, nil
		}
		return server.Result{}, nil
	}}
	d := fixedDeployer(r)

	err := d.Deploy(context.Background(), "shop", "/srv/deployments/shop", gitsync.DescriptorCompose, "docker-compose.yml", 3000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if indexOf(r.calls, "docker rmi -f img111 img222") == -1 {
		t.Errorf("compose service images survived the redeploy: %v", r.calls)
	}
}

func TestProjectImagesFilters(t *testing.T) {
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		return server.Result{Stdout: "img111\nimg111\nimg222\n"}, nil
	}}

	ids, err := ProjectImages(context.Background(), r, "shop")
	if err != nil {
		t.Fatalf("ProjectImages: %v", err)
	}
	if len(ids) != 2 || ids[0] != "img111" || ids[1] != "img222" {
		t.Errorf("ids = %v, want deduplicated [img111 img222]", ids)
	}

	line := r.calls[0]
	for _, want := range []string{"--filter reference=shop", "reference=shop-*"} {
		if !strings.Contains(line, want) {
			t.Errorf("listing %q missing %q", line, want)
		}
	}
}

func TestDeployNoPreviousArtifacts(t *testing.T) {
	r := &fakeRunner{}
	d := fixedDeployer(r)

	err := d.Deploy(context.Background(), "shop", "/srv/deployments/shop", gitsync.DescriptorDockerfile, "Dockerfile", 3000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if idx := indexOf(r.calls, "docker rm -f"); idx != -1 {
		t.Errorf("issued docker rm with nothing to remove: %v", r.calls)
	}
	if idx := indexOf(r.calls, "docker rmi"); idx != -1 {
		t.Errorf("issued docker rmi with nothing to remove: %v", r.calls)
	}
}

func TestDeployCompose(t *testing.T) {
	r := &fakeRunner{}
	d := fixedDeployer(r)

	err := d.Deploy(context.Background(), "shop", "/srv/deployments/shop", gitsync.DescriptorCompose, "docker-compose.yml", 3000)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	downIdx := indexOf(r.calls, "down --remove-orphans")
	upIdx := indexOf(r.calls, "up -d --build")
	if downIdx == -1 || upIdx == -1 {
		t.Fatalf("missing compose down or up: %v", r.calls)
	}
	if downIdx > upIdx {
		t.Error("compose up ran before the previous stack was torn down")
	}
	for _, idx := range []int{downIdx, upIdx} {
		line := r.calls[idx]
		if !strings.Contains(line, "/srv/deployments/shop") || !strings.Contains(line, "docker-compose.yml") {
			t.Errorf("compose line %q missing dir or file argument", line)
		}
	}
}

func TestDeployBuildFailure(t *testing.T) {
	bang := errors.New("no space left on device")
	r := &fakeRunner{respond: func(cmd server.Command) (server.Result, error) {
		if strings.Contains(cmd.Line(), "docker build") {
			return server.Result{}, bang
		}
		return server.Result{}, nil
	}}
	d := fixedDeployer(r)

	err := d.Deploy(context.Background(), "shop", "/srv/deployments/shop", gitsync.DescriptorDockerfile, "Dockerfile", 3000)
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, want *Error", err)
	}
	if derr.Stage != "build" {
		t.Errorf("stage = %q, want build", derr.Stage)
	}
	if !errors.Is(err, bang) {
		t.Error("underlying error not preserved")
	}
	if idx := indexOf(r.calls, "docker run"); idx != -1 {
		t.Error("container started after a failed build")
	}
}

func TestDeployNoDescriptor(t *testing.T) {
	d := fixedDeployer(&fakeRunner{})
	err := d.Deploy(context.Background(), "shop", "/srv", gitsync.DescriptorNone, "", 3000)
	if err == nil {
		t.Fatal("expected an error for a project without a build descriptor")
	}
}

func TestContainerName(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	if got, want := ContainerName("shop", at), "shop-20250314092653"; got != want {
		t.Errorf("ContainerName = %q, want %q", got, want)
	}
}
