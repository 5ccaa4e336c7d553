package transfer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"gitship/internal/logger"
	"gitship/internal/server"
)

var tlog = logger.PackageLogger("transfer")

// Error is a fatal artifact transfer failure.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("artifact transfer: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Mirror synchronizes the local project tree into the remote project
// directory with rsync in delete-extraneous mode: files removed locally are
// removed remotely on the next sync. The remote directory is created and
// chowned to the remote user first.
func Mirror(ctx context.Context, r server.Runner, localDir, remoteDir, user, host, keyPath string) error {
	mk := server.Script(`mkdir -p "$1" && chown "$2": "$1"`, remoteDir, user)
	if _, err := r.Run(ctx, mk); err != nil {
		return &Error{Err: fmt.Errorf("create remote directory %s: %w", remoteDir, err)}
	}

	args := RsyncArgs(localDir, remoteDir, user, host, keyPath)
	tlog.Info("Mirroring %s to %s:%s", localDir, host, remoteDir)
	tlog.Debug("rsync %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "rsync", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &Error{Err: fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(string(out)))}
	}
	tlog.Success("Project tree synchronized")
	return nil
}

// RsyncArgs builds the rsync argument list. Split out so the mirrored-delete
// contract is testable without a remote host.
func RsyncArgs(localDir, remoteDir, user, host, keyPath string) []string {
	return []string{
		"-az",
		"--delete",
		"--exclude", ".git",
		"-e", fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -o BatchMode=yes", keyPath),
		strings.TrimSuffix(localDir, "/") + "/",
		fmt.Sprintf("%s@%s:%s/", user, host, remoteDir),
	}
}
