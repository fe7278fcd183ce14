package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/tool"
)

func TestMockTool(t *testing.T) {
	ctx := context.Background()
	mt := New(objects.Config{ID: "t1", Name: "mock", Kind: objects.KindTool, Subtype: Subtype})

	resp, err := mt.Execute(ctx, tool.Request{RequestID: "r1", TaskExecutionID: "te1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.True(t, resp.HasState())

	assert.True(t, mt.HasFunction(ctx, FunctionName))
	assert.False(t, mt.HasFunction(ctx, "other"))
	assert.Equal(t, "execute_mock", mt.CanonicalOutputKey())

	out, err := mt.TaskOutput(ctx, "te1")
	require.NoError(t, err)
	assert.Equal(t, TaskOutput, out)
}
