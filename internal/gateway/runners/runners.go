// Package runners defines the dispatch contract between the gateway core and
// the execution backends: the in-process runner for host-runtime triks and
// the subprocess worker manager for foreign runtimes.
package runners

import (
	"context"
	"time"

	"github.com/Molefas/trikhub/internal/common/apperrors"
	"github.com/Molefas/trikhub/pkg/api"
)

// Invocation carries everything a runner needs to execute one action. The
// storage and config contexts are already scoped to the owning trik.
type Invocation struct {
	TrikID   string
	TrikPath string
	Action   string
	Input    any
	Session  *api.SessionContext
	Config   api.ConfigContext
	Storage  api.StorageContext
	Timeout  time.Duration
}

// Runner executes trik actions.
type Runner interface {
	// ID identifies the runner for logging.
	ID() string

	// Invoke runs one action and returns the skill's output. Validation of
	// the output against the action's schemas is the gateway's concern.
	Invoke(ctx context.Context, inv *Invocation) (*api.SkillOutput, apperrors.Error)

	// Shutdown releases the runner's resources.
	Shutdown(ctx context.Context)
}
