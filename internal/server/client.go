package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"gitship/internal/logger"
)

var slog = logger.PackageLogger("server")

const connectTimeout = 10 * time.Second

// UnreachableError means the remote host could not be reached or
// authenticated against. Nothing after the reachability probe runs when this
// is returned.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("remote host %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Client is an authenticated SSH connection to the deployment host. One
// client is opened per pipeline run; every step executes through it.
type Client struct {
	host    string
	user    string
	keyPath string
	conn    *ssh.Client
}

// NewClient prepares a client for user@host using the given private key.
func NewClient(host, user, keyPath string) *Client {
	return &Client{host: host, user: user, keyPath: keyPath}
}

// Connect dials the host with key authentication and a bounded timeout.
func (c *Client) Connect() error {
	key, err := os.ReadFile(c.keyPath)
	if err != nil {
		return &UnreachableError{Host: c.host, Err: fmt.Errorf("read key %s: %w", c.keyPath, err)}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return &UnreachableError{Host: c.host, Err: fmt.Errorf("parse key: %w", err)}
	}

	cfg := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	addr := c.host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return &UnreachableError{Host: c.host, Err: err}
	}
	c.conn = conn
	return nil
}

// Close tears down the SSH connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Ping runs a trivial no-op remote command to verify the session works.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Run(ctx, Command{Argv: []string{"true"}})
	if err != nil {
		return &UnreachableError{Host: c.host, Err: err}
	}
	return nil
}

// Run executes one command in a fresh session and enforces the command's
// exit-code contract. A non-nil error means either a transport failure or an
// exit code outside the contract; the Result is populated either way.
func (c *Client) Run(ctx context.Context, cmd Command) (Result, error) {
	if c.conn == nil {
		return Result{}, fmt.Errorf("not connected to %s", c.host)
	}

	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session on %s: %w", c.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	line := cmd.Line()
	slog.Debug("remote: %s", line)

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-runCtx.Done():
		session.Close()
		<-done
		return Result{}, fmt.Errorf("%s: %w", line, runCtx.Err())
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		if !ok {
			return res, fmt.Errorf("%s: %w", line, err)
		}
		res.ExitCode = exitErr.ExitStatus()
	}

	if !cmd.allows(res.ExitCode) {
		return res, &ExitError{Cmd: line, Code: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}
