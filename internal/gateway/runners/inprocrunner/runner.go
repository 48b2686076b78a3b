package inprocrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/common/apperrors"
	"github.com/Molefas/trikhub/internal/gateway/runners"
	"github.com/Molefas/trikhub/internal/manifest"
	"github.com/Molefas/trikhub/pkg/api"
)

// RunnerID identifies the in-process runner in logs.
const RunnerID = "inproc"

// Runner dispatches to graphs from the registry. One instance serves every
// host-runtime trik.
type Runner struct {
	resolve func(module, export string) (api.Graph, bool)
}

// New creates an in-process runner backed by the package registry.
func New() *Runner {
	return &Runner{resolve: Resolve}
}

func (r *Runner) ID() string {
	return RunnerID
}

// GraphFor resolves the graph for a manifest's entry.
func (r *Runner) GraphFor(m *manifest.Manifest) (api.Graph, bool) {
	return r.resolve(m.Entry.Module, m.Entry.Export)
}

// InvokeGraph runs one action on a resolved graph under the invocation
// timeout. Skill panics are contained and surfaced as execution failures.
func (r *Runner) InvokeGraph(ctx context.Context, graph api.Graph, inv *runners.Invocation) (*api.SkillOutput, apperrors.Error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := &api.SkillInput{
		Action:  inv.Action,
		Input:   inv.Input,
		Session: inv.Session,
		Config:  inv.Config,
		Storage: inv.Storage,
	}

	type invokeResult struct {
		output *api.SkillOutput
		err    error
	}
	resultChan := make(chan invokeResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultChan <- invokeResult{err: fmt.Errorf("skill panicked: %v", rec)}
			}
		}()
		output, err := graph.Invoke(ctx, input)
		resultChan <- invokeResult{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, runners.ErrExecutionTimeout.Msg(fmt.Sprintf("action %q exceeded %s", inv.Action, timeout))
		}
		return nil, runners.ErrCancelled
	case res := <-resultChan:
		if res.err != nil {
			log.Ctx(ctx).Error().Err(res.err).Str("trik", inv.TrikID).Str("action", inv.Action).Msg("in-process skill failed")
			return nil, runners.ErrExecutionFailed.Err(res.err)
		}
		if res.output == nil {
			return nil, runners.ErrExecutionFailed.Msg("skill returned no output")
		}
		return res.output, nil
	}
}

// Shutdown is a no-op: in-process graphs hold no resources of their own.
func (r *Runner) Shutdown(context.Context) {}
