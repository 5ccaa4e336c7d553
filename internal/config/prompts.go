package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Collect builds the DeploymentSpec. Each field is taken from the GITSHIP_*
// environment first; anything still missing is prompted for interactively.
// In non-interactive mode a missing required field is a ConfigurationError
// instead of a prompt.
func Collect(nonInteractive bool) (*DeploymentSpec, error) {
	v := newViper()
	reader := bufio.NewReader(os.Stdin)

	spec := &DeploymentSpec{
		RepoURL:          v.GetString("repo_url"),
		AccessToken:      v.GetString("access_token"),
		Branch:           v.GetString("branch"),
		RemoteUser:       v.GetString("remote_user"),
		RemoteHost:       v.GetString("remote_host"),
		SSHKeyPath:       v.GetString("ssh_key_path"),
		RemoteProjectDir: v.GetString("remote_project_dir"),
	}

	if raw := v.GetString("container_port"); raw != "" {
		port, err := parsePort(raw)
		if err != nil {
			return nil, &ConfigurationError{Field: "container port", Reason: err.Error()}
		}
		spec.ContainerPort = port
	}

	prompts := []struct {
		field string
		dest  *string
		hint  string
	}{
		{"repository URL", &spec.RepoURL, "HTTPS or SSH clone URL, e.g. https://github.com/you/app.git"},
		{"remote host", &spec.RemoteHost, "hostname or IP of the deployment server"},
		{"remote user", &spec.RemoteUser, "SSH user on the deployment server"},
		{"SSH key path", &spec.SSHKeyPath, "private key for the remote user, e.g. ~/.ssh/id_ed25519"},
	}
	for _, p := range prompts {
		if *p.dest != "" {
			continue
		}
		if nonInteractive {
			return nil, &ConfigurationError{Field: p.field, Reason: "required but not set"}
		}
		clog.Info("%s", p.hint)
		*p.dest = readRequired(reader, p.field)
	}

	if spec.ContainerPort == 0 {
		if nonInteractive {
			return nil, &ConfigurationError{Field: "container port", Reason: "required but not set"}
		}
		clog.Info("Port the application listens on inside the container.")
		for {
			raw := readWithDefault(reader, "container port", "3000")
			port, err := parsePort(raw)
			if err == nil {
				spec.ContainerPort = port
				break
			}
			fmt.Printf("invalid port: %v\n", err)
		}
	}

	if spec.AccessToken == "" && !nonInteractive {
		token, err := readToken()
		if err != nil {
			return nil, &ConfigurationError{Field: "access token", Reason: err.Error()}
		}
		spec.AccessToken = token
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// readToken reads the repository access token with terminal echo suppressed.
// An empty token is fine: public repositories need none.
func readToken() (string, error) {
	fmt.Print("access token (empty for public repos) > ")
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line), nil
	}
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func readRequired(reader *bufio.Reader, field string) string {
	for {
		fmt.Printf("%s > ", field)
		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" {
			return input
		}
		fmt.Printf("%s is required\n", field)
	}
}

func readWithDefault(reader *bufio.Reader, field, def string) string {
	fmt.Printf("%s (default: %s) > ", field, def)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}
