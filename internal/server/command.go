package server

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Command is one remote invocation: an explicit argument vector plus its
// expected-outcome contract. Remote command text is only ever produced by
// quoting this vector, never by interpolating raw strings.
type Command struct {
	Argv        []string
	Stdin       string
	Timeout     time.Duration
	OkExitCodes []int // nil means only 0 is acceptable
}

// Result captures what the remote command produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands. The SSH client implements it against the remote
// host; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a command that completed with an exit code outside its
// contract.
type ExitError struct {
	Cmd    string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Line renders the argument vector as a single shell line with each argument
// individually quoted.
func (c Command) Line() string {
	parts := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		parts[i] = Quote(a)
	}
	return strings.Join(parts, " ")
}

func (c Command) allows(code int) bool {
	if c.OkExitCodes == nil {
		return code == 0
	}
	for _, ok := range c.OkExitCodes {
		if code == ok {
			return true
		}
	}
	return false
}

var plainArg = func(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '/' || r == ':' || r == '=' || r == ',' || r == '@' || r == '^' || r == '+' || r == '%':
		default:
			return false
		}
	}
	return true
}

// Quote single-quotes an argument for POSIX shells. Arguments made only of
// safe characters pass through untouched to keep logged command lines
// readable.
func Quote(s string) string {
	if plainArg(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Script wraps a multi-command shell fragment. The fragment must be a fixed
// string; anything variable goes in as a quoted argument of the fragment.
func Script(fragment string, args ...string) Command {
	argv := append([]string{"sh", "-c", fragment, "sh"}, args...)
	return Command{Argv: argv}
}
