// Package exitcodes maps run errors to process exit codes. A scrub run
// either fully succeeds or fails; every failure exits with the same code so
// schedulers only need to check for zero.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - the scrubbed dump was written and the ephemeral database removed
	Success = 0

	// Failure - any detected failure: connection, export, import, empty
	// restore, scrub or cleanup
	Failure = 1
)

// Describer is implemented by errors that know their own failure category.
type Describer interface {
	Describe() string
}

// FromError returns the exit code for err.
func FromError(err error) int {
	if err == nil {
		return Success
	}
	return Failure
}

// Describe returns a short human-readable category for err, used in the
// final log line. Typed errors describe themselves; anything else is
// classified from its message.
func Describe(err error) string {
	if err == nil {
		return "success"
	}

	var d Describer
	if errors.As(err, &d) {
		return d.Describe()
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "I/O error"
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"context canceled",
		"interrupt",
		"cancel",
	}) {
		return "cancelled"
	}

	if containsAny(errStr, []string{
		"yaml:",
		"unmarshal",
		"invalid configuration",
		"parsing config",
		"must be",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return "configuration error"
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"no such host",
		"server selection",
		"ping",
		"authentication",
	}) {
		return "connection error"
	}

	if containsAny(errStr, []string{
		"no such file",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return "I/O error"
	}

	return "failure"
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
