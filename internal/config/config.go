package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"gitship/internal/logger"
)

var clog = logger.PackageLogger("config")

// DeploymentSpec holds every parameter a deployment run needs. It is built
// once by Collect and passed explicitly to each pipeline step; nothing reads
// ambient configuration after that.
type DeploymentSpec struct {
	RepoURL          string
	AccessToken      string // secret, never logged
	Branch           string
	RemoteUser       string
	RemoteHost       string
	SSHKeyPath       string
	ContainerPort    int
	RemoteProjectDir string // optional override, derived from project name when empty
}

// ConfigurationError identifies the spec field that failed validation.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// newViper binds GITSHIP_* environment variables so that values already set
// in the environment are never re-prompted.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("gitship")
	v.AutomaticEnv()
	v.SetDefault("branch", "main")
	return v
}

// Validate checks the invariants the pipeline relies on: all fields except
// the access token and the directory override are non-empty, the container
// port is a positive integer and the SSH key resolves to an existing file.
func (s *DeploymentSpec) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"repository URL", s.RepoURL},
		{"branch", s.Branch},
		{"remote user", s.RemoteUser},
		{"remote host", s.RemoteHost},
		{"SSH key path", s.SSHKeyPath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigurationError{Field: r.field, Reason: "must not be empty"}
		}
	}

	if s.ContainerPort <= 0 {
		return &ConfigurationError{
			Field:  "container port",
			Reason: fmt.Sprintf("must be a positive integer, got %d", s.ContainerPort),
		}
	}

	keyPath, err := ExpandPath(s.SSHKeyPath)
	if err != nil {
		return &ConfigurationError{Field: "SSH key path", Reason: err.Error()}
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		return &ConfigurationError{Field: "SSH key path", Reason: fmt.Sprintf("%s: not readable", s.SSHKeyPath)}
	}
	if info.IsDir() {
		return &ConfigurationError{Field: "SSH key path", Reason: fmt.Sprintf("%s: is a directory", s.SSHKeyPath)}
	}
	s.SSHKeyPath = keyPath

	return nil
}

// RemoteDir returns the remote project directory for the given project name.
// Relative paths are resolved against the remote user's home directory by the
// remote shell.
func (s *DeploymentSpec) RemoteDir(project string) string {
	if s.RemoteProjectDir != "" {
		return s.RemoteProjectDir
	}
	return path.Join("deployments", project)
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if port <= 0 {
		return 0, fmt.Errorf("%d is not a positive port", port)
	}
	return port, nil
}
