package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lockStaleAfter bounds how long a crashed run can hold the remote lock.
const lockStaleAfter = 30 * time.Minute

// ErrLocked means another pipeline run holds the host+project lock.
type ErrLocked struct {
	Path  string
	Owner string
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("another deployment holds %s (owner %s)", e.Path, e.Owner)
}

func lockPath(project string) string {
	return "/tmp/gitship-" + project + ".lock"
}

// AcquireLock takes the host+project deployment lock by creating the lock
// file atomically (noclobber). The file records the owning run ID and a unix
// timestamp; a lock older than the staleness window is broken and re-taken
// once.
func AcquireLock(ctx context.Context, r Runner, project, runID string) error {
	path := lockPath(project)
	content := fmt.Sprintf("%s %d", runID, time.Now().Unix())

	for attempt := 0; attempt < 2; attempt++ {
		cmd := Script(`set -C; printf '%s\n' "$2" > "$1"`, path, content)
		cmd.OkExitCodes = []int{0, 1, 2}
		res, err := r.Run(ctx, cmd)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if res.ExitCode == 0 {
			return nil
		}

		owner, stamp, rerr := readLock(ctx, r, path)
		if rerr != nil {
			return fmt.Errorf("acquire lock %s: %w", path, rerr)
		}
		if time.Since(stamp) > lockStaleAfter {
			slog.Warn("Breaking stale deployment lock %s (held by %s since %s)", path, owner, stamp.Format(time.RFC3339))
			if _, err := r.Run(ctx, Command{Argv: []string{"rm", "-f", path}}); err != nil {
				return fmt.Errorf("break stale lock %s: %w", path, err)
			}
			continue
		}
		return &ErrLocked{Path: path, Owner: owner}
	}
	return &ErrLocked{Path: path, Owner: "unknown"}
}

// ReleaseLock removes the lock file if this run still owns it. Releasing a
// lock that is absent or owned by someone else is a no-op.
func ReleaseLock(ctx context.Context, r Runner, project, runID string) error {
	path := lockPath(project)
	owner, _, err := readLock(ctx, r, path)
	if err != nil || owner != runID {
		return nil
	}
	_, err = r.Run(ctx, Command{Argv: []string{"rm", "-f", path}})
	return err
}

func readLock(ctx context.Context, r Runner, path string) (owner string, stamp time.Time, err error) {
	cmd := Command{Argv: []string{"cat", path}, OkExitCodes: []int{0, 1}}
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return "", time.Time{}, err
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) < 2 {
		return "", time.Time{}, nil
	}
	unix, perr := strconv.ParseInt(fields[1], 10, 64)
	if perr != nil {
		return fields[0], time.Time{}, nil
	}
	return fields[0], time.Unix(unix, 0), nil
}
