package grading

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSandboxUnavailable aborts a grading pass. The session stays submitted
// and the pass can be retried.
var ErrSandboxUnavailable = errors.New("code execution sandbox unavailable")

// ExecutionStatus is the verdict reported by the sandbox for one run.
type ExecutionStatus string

const (
	ExecOK           ExecutionStatus = "ok"
	ExecTimeout      ExecutionStatus = "timeout"
	ExecMemoryLimit  ExecutionStatus = "memory_limit_exceeded"
	ExecRuntimeError ExecutionStatus = "runtime_error"
	ExecCompileError ExecutionStatus = "compile_error"
)

// ExecutionRequest is one run of a submission against one stdin.
type ExecutionRequest struct {
	Language      string
	Source        string
	Stdin         string
	TimeLimit     time.Duration
	MemoryLimitMB int
}

// ExecutionResult is what the sandbox observed.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	Status   ExecutionStatus
}

// Sandbox executes untrusted code. Implementations return ErrSandboxUnavailable
// (possibly wrapped) when the executor cannot be reached.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionTimeoutError marks a run that exceeded its time limit.
type ExecutionTimeoutError struct {
	Limit time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("execution exceeded %s", e.Limit)
}

// ExecutionRuntimeError marks a run that crashed or exited non-zero.
type ExecutionRuntimeError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecutionRuntimeError) Error() string {
	return fmt.Sprintf("execution exited with code %d", e.ExitCode)
}
