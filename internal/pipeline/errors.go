package pipeline

import (
	"context"
	"errors"
	"fmt"

	"gitship/internal/config"
)

// Category classifies a pipeline failure. Every category maps to a distinct
// process exit status so callers can tell failure classes apart from the
// exit code alone.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryConfig
	CategorySourceSync
	CategoryMissingDescriptor
	CategoryUnreachable
	CategoryProvisioning
	CategoryTransfer
	CategoryDeploy
	CategoryProxy
	CategoryValidation
	CategoryInterrupted
)

var exitCodes = map[Category]int{
	CategoryGeneric:           1,
	CategoryConfig:            2,
	CategorySourceSync:        3,
	CategoryMissingDescriptor: 4,
	CategoryUnreachable:       5,
	CategoryProvisioning:      6,
	CategoryTransfer:          7,
	CategoryDeploy:            8,
	CategoryProxy:             9,
	CategoryValidation:        10,
	CategoryInterrupted:       130,
}

var categoryNames = map[Category]string{
	CategoryGeneric:           "pipeline",
	CategoryConfig:            "configuration",
	CategorySourceSync:        "source sync",
	CategoryMissingDescriptor: "build descriptor",
	CategoryUnreachable:       "remote host",
	CategoryProvisioning:      "provisioning",
	CategoryTransfer:          "transfer",
	CategoryDeploy:            "deploy",
	CategoryProxy:             "proxy",
	CategoryValidation:        "validation",
	CategoryInterrupted:       "interrupted",
}

// Error is a categorized, step-attributed pipeline failure.
type Error struct {
	Category Category
	Step     string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Step, categoryNames[e.Category], e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(cat Category, step string, err error) *Error {
	return &Error{Category: cat, Step: step, Err: err}
}

// ExitCode maps an error to the process exit status for its failure class.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var perr *Error
	if errors.As(err, &perr) {
		return exitCodes[perr.Category]
	}
	var cerr *config.ConfigurationError
	if errors.As(err, &cerr) {
		return exitCodes[CategoryConfig]
	}
	if errors.Is(err, context.Canceled) {
		return exitCodes[CategoryInterrupted]
	}
	return exitCodes[CategoryGeneric]
}
