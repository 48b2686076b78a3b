package runners

import "github.com/Molefas/trikhub/internal/common/apperrors"

// Error definitions shared by the execution backends.
var (
	// ErrRunner is the base error for the runner packages.
	ErrRunner = apperrors.New("runner error")

	// ErrTrikNotFound is returned when a runner cannot resolve the trik.
	ErrTrikNotFound = ErrRunner.New("trik not found")

	// ErrActionNotFound is returned when the trik does not implement the action.
	ErrActionNotFound = ErrRunner.New("action not found")

	// ErrExecutionTimeout is returned when an invocation outlives its deadline.
	ErrExecutionTimeout = ErrRunner.New("execution timed out")

	// ErrExecutionFailed is returned when skill code fails.
	ErrExecutionFailed = ErrRunner.New("execution failed")

	// ErrWorkerNotReady is returned when a worker cannot be spawned or fails
	// its startup health check.
	ErrWorkerNotReady = ErrRunner.New("worker not ready")

	// ErrChannelTerminated is returned for requests pending when the worker
	// channel closes.
	ErrChannelTerminated = ErrRunner.New("worker channel terminated")

	// ErrCancelled is returned when the caller abandons an in-flight
	// invocation.
	ErrCancelled = ErrRunner.New("invocation cancelled")

	// ErrInvalidConfig is returned for malformed runner configuration.
	ErrInvalidConfig = ErrRunner.New("invalid runner config")
)
