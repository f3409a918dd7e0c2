package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind classifies an error into one of the orchestrator's failure domains.
// Every error that crosses a package boundary carries a kind, either directly
// or through wrapping, so callers can branch on the class of failure without
// string matching.
type Kind string

const (
	// KindValidation marks invalid user input: malformed configs, bad port
	// ranges, unknown provider tags.
	KindValidation Kind = "validation"
	// KindDependency marks a missing host dependency such as the docker or
	// limactl binary.
	KindDependency Kind = "dependency"
	// KindProvider marks a failure reported by a virtualization backend.
	KindProvider Kind = "provider"
	// KindCommand marks a host command that exited non-zero.
	KindCommand Kind = "command"
	// KindTimeout marks a host command that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindFilesystem marks a failed filesystem operation.
	KindFilesystem Kind = "filesystem"
	// KindInternal marks everything else.
	KindInternal Kind = "internal"
)

// Sentinel errors - lookups and auth
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// MaxOutputLines bounds how much command output a CommandError retains.
const MaxOutputLines = 50

// Error is a kind-tagged error with optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *Error) Unwrap() error {
	return e.Err
}

// CommandError reports a host command that ran and exited non-zero. It keeps
// the argv and the tail of the combined output so CLI error paths can show
// the user what the underlying tool printed.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   []string
	Err      error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if len(e.Output) > 0 {
		return fmt.Sprintf("command %q exited %d: %s", cmd, e.ExitCode, e.Output[len(e.Output)-1])
	}
	return fmt.Sprintf("command %q exited %d", cmd, e.ExitCode)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError builds a CommandError, keeping at most the last
// MaxOutputLines lines of output.
func NewCommandError(args []string, exitCode int, output string, err error) *CommandError {
	var lines []string
	if trimmed := strings.TrimRight(output, "\n"); trimmed != "" {
		lines = strings.Split(trimmed, "\n")
		if len(lines) > MaxOutputLines {
			lines = lines[len(lines)-MaxOutputLines:]
		}
	}
	return &CommandError{
		Args:     args,
		ExitCode: exitCode,
		Output:   lines,
		Err:      err,
	}
}

// TimeoutError reports a host command that was killed after exceeding its
// deadline.
type TimeoutError struct {
	Args  []string
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", strings.Join(e.Args, " "), e.After)
}

// FilesystemError reports a failed filesystem operation with the path that
// was being touched.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Dependencyf creates a dependency error with a formatted message. The
// message should tell the user how to install what is missing.
func Dependencyf(format string, args ...any) error {
	return &Error{Kind: KindDependency, Msg: fmt.Sprintf(format, args...)}
}

// Providerf creates a provider error with a formatted message.
func Providerf(format string, args ...any) error {
	return &Error{Kind: KindProvider, Msg: fmt.Sprintf(format, args...)}
}

// Internalf creates an internal error with a formatted message.
func Internalf(format string, args ...any) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf wraps ErrNotFound with formatted context so errors.Is checks and
// HTTP mapping keep working through the wrap.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Unauthorizedf wraps ErrUnauthorized with formatted context.
func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnauthorized)...)
}

// Wrap tags err with a kind and a context message. Returns nil if err is
// nil. The original error stays reachable via errors.Is/errors.As.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WrapFilesystem wraps err as a FilesystemError with operation and path
// context. Returns nil if err is nil.
func WrapFilesystem(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// GetKind reports the failure domain of err by walking the unwrap chain and
// returning the first tagged error found. Untagged errors are internal; nil
// has no kind.
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *Error:
			return t.Kind
		case *CommandError:
			return KindCommand
		case *TimeoutError:
			return KindTimeout
		case *FilesystemError:
			return KindFilesystem
		}
	}
	return KindInternal
}

// IsKind checks whether err belongs to the given failure domain.
func IsKind(err error, k Kind) bool {
	return err != nil && GetKind(err) == k
}

// HTTPStatus maps an error to the status code the API should answer with.
// Unauthorized and not-found sentinels map to 401 and 404, validation errors
// to 400, and everything else to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case IsKind(err, KindValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
