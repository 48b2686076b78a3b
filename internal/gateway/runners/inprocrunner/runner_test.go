package inprocrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Molefas/trikhub/internal/gateway/runners"
	"github.com/Molefas/trikhub/pkg/api"
)

func TestRegistryResolve(t *testing.T) {
	graph := api.GraphFunc(func(ctx context.Context, input *api.SkillInput) (*api.SkillOutput, error) {
		return &api.SkillOutput{}, nil
	})
	Register("graph", "main", graph)
	defer Unregister("graph", "main")

	_, ok := Resolve("graph", "main")
	assert.True(t, ok)

	_, ok = Resolve("graph", "other")
	assert.False(t, ok)
}

func TestInvokeGraph(t *testing.T) {
	r := New()
	graph := api.GraphFunc(func(ctx context.Context, input *api.SkillInput) (*api.SkillOutput, error) {
		assert.Equal(t, "search", input.Action)
		return &api.SkillOutput{
			ResponseMode: api.ResponseModeTemplate,
			AgentData:    map[string]any{"template": "success", "count": 2},
		}, nil
	})

	output, err := r.InvokeGraph(context.Background(), graph, &runners.Invocation{
		TrikID: "@demo/a",
		Action: "search",
		Input:  map[string]any{"q": "x"},
	})
	require.Nil(t, err)
	assert.Equal(t, map[string]any{"template": "success", "count": 2}, output.AgentData)
}

func TestInvokeGraphTimeout(t *testing.T) {
	r := New()
	graph := api.GraphFunc(func(ctx context.Context, input *api.SkillInput) (*api.SkillOutput, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &api.SkillOutput{}, nil
		}
	})

	_, err := r.InvokeGraph(context.Background(), graph, &runners.Invocation{
		TrikID:  "@demo/a",
		Action:  "slow",
		Timeout: 100 * time.Millisecond,
	})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, runners.ErrExecutionTimeout))
}

func TestInvokeGraphPanicContained(t *testing.T) {
	r := New()
	graph := api.GraphFunc(func(ctx context.Context, input *api.SkillInput) (*api.SkillOutput, error) {
		panic("skill bug")
	})

	_, err := r.InvokeGraph(context.Background(), graph, &runners.Invocation{
		TrikID: "@demo/a",
		Action: "boom",
	})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, runners.ErrExecutionFailed))
}

func TestInvokeGraphNilOutput(t *testing.T) {
	r := New()
	graph := api.GraphFunc(func(ctx context.Context, input *api.SkillInput) (*api.SkillOutput, error) {
		return nil, nil
	})

	_, err := r.InvokeGraph(context.Background(), graph, &runners.Invocation{TrikID: "@demo/a", Action: "x"})
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, runners.ErrExecutionFailed))
}
