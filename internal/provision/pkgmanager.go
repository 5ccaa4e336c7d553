package provision

import (
	"context"
	"fmt"
	"strings"

	"gitship/internal/server"
)

// PackageManager abstracts the remote host's package tooling.
type PackageManager interface {
	Update(ctx context.Context) error
	Install(ctx context.Context, packages ...string) error
}

// PackageManagerType identifies the detected package manager family.
type PackageManagerType string

const (
	Apt PackageManagerType = "apt"
	Dnf PackageManagerType = "dnf"
	Yum PackageManagerType = "yum"
)

// DetectPackageManager probes the remote host for a supported package
// manager.
func DetectPackageManager(ctx context.Context, r server.Runner) (PackageManagerType, error) {
	for _, pm := range []PackageManagerType{Apt, Dnf, Yum} {
		probe := "apt-get"
		if pm != Apt {
			probe = string(pm)
		}
		ok, err := commandExists(ctx, r, probe)
		if err != nil {
			return "", fmt.Errorf("detect package manager: %w", err)
		}
		if ok {
			return pm, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found (need apt, dnf or yum)")
}

// NewPackageManager creates the manager for the detected type.
func NewPackageManager(pmType PackageManagerType, r server.Runner) (PackageManager, error) {
	switch pmType {
	case Apt:
		return &AptManager{r: r}, nil
	case Dnf, Yum:
		return &YumManager{r: r, tool: string(pmType)}, nil
	default:
		return nil, fmt.Errorf("unsupported package manager %q", pmType)
	}
}

// AptManager drives apt-get on Debian-family hosts.
type AptManager struct {
	r server.Runner
}

func (am *AptManager) Update(ctx context.Context) error {
	cmd := server.Command{Argv: []string{"sudo", "DEBIAN_FRONTEND=noninteractive", "apt-get", "update", "-y"}}
	if _, err := am.r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("apt-get update: %w", err)
	}
	return nil
}

func (am *AptManager) Install(ctx context.Context, packages ...string) error {
	argv := append([]string{"sudo", "DEBIAN_FRONTEND=noninteractive", "apt-get", "install", "-y"}, packages...)
	if _, err := am.r.Run(ctx, server.Command{Argv: argv}); err != nil {
		return fmt.Errorf("apt-get install %s: %w", strings.Join(packages, " "), err)
	}
	return nil
}

// YumManager drives yum or dnf on RedHat-family hosts.
type YumManager struct {
	r    server.Runner
	tool string
}

func (ym *YumManager) Update(ctx context.Context) error {
	cmd := server.Command{Argv: []string{"sudo", ym.tool, "makecache", "-y"}}
	if _, err := ym.r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("%s makecache: %w", ym.tool, err)
	}
	return nil
}

func (ym *YumManager) Install(ctx context.Context, packages ...string) error {
	argv := append([]string{"sudo", ym.tool, "install", "-y"}, packages...)
	if _, err := ym.r.Run(ctx, server.Command{Argv: argv}); err != nil {
		return fmt.Errorf("%s install %s: %w", ym.tool, strings.Join(packages, " "), err)
	}
	return nil
}

// commandExists checks command presence the way the shell would.
func commandExists(ctx context.Context, r server.Runner, name string) (bool, error) {
	cmd := server.Script(`command -v "$1" >/dev/null 2>&1`, name)
	cmd.OkExitCodes = []int{0, 1, 127}
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}
