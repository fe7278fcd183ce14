package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

func TestBaseOutputKeyAndSchema(t *testing.T) {
	b := NewBase(objects.Config{ID: "r", Name: "Design Doc", Variables: map[string]any{"example": "# Title"}})
	assert.Equal(t, "design_docs", b.CanonicalOutputKey())

	plain := b.Schema(false)
	assert.Equal(t, "design_docs", plain.Title)
	assert.Equal(t, []string{"name", "message", "content"}, plain.Items.Required)
	content, ok := plain.Items.Properties.Get("content")
	require.True(t, ok)
	assert.Contains(t, content.Description, "# Title")

	tool := b.Schema(true)
	assert.Equal(t, []string{"name", "message", FieldFunctionName}, tool.Items.Required)
}

func TestBaseValidate(t *testing.T) {
	b := NewBase(objects.Config{ID: "r", Name: "doc"})
	ctx := context.Background()

	tests := []struct {
		name    string
		payload any
		tool    bool
		wantErr bool
	}{
		{name: "complete object", payload: []any{map[string]any{"name": "a", "message": "m", "content": "c"}}},
		{name: "missing content", payload: []any{map[string]any{"name": "a", "message": "m"}}, wantErr: true},
		{name: "tool output", payload: []any{map[string]any{"name": "a", "message": "m", "function_name": "f"}}, tool: true},
		{name: "tool output without function", payload: []any{map[string]any{"name": "a", "message": "m"}}, tool: true, wantErr: true},
		{name: "unclean string", payload: "```json\n[{\"name\":\"a\",\"message\":\"m\",\"content\":\"c\"}]\n```"},
		{name: "not objects", payload: []any{"a"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.tool {
				err = b.ValidateToolOutput(ctx, tt.payload)
			} else {
				err = b.ValidateObject(ctx, tt.payload)
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBaseLatestVersionTracksEmit(t *testing.T) {
	b := NewBase(objects.Config{ID: "r", Name: "doc"})
	ctx := context.Background()
	_, ok := b.LatestVersion(ctx)
	assert.False(t, ok)

	require.NoError(t, b.Emit(ctx, Version{VersionID: "v1"}))
	v, ok := b.LatestVersion(ctx)
	require.True(t, ok)
	assert.Equal(t, "r", v.ResourceID)
	assert.Equal(t, "v1", v.VersionID)

	require.NoError(t, b.Destroy(ctx))
	assert.Error(t, b.Emit(ctx, Version{VersionID: "v2"}))
}

func TestObjectFromData(t *testing.T) {
	obj := ObjectFromData(map[string]any{"name": "n", "content": "c", "metadata": map[string]any{"k": "v"}})
	assert.Equal(t, Object{Name: "n", Content: "c", Metadata: map[string]any{"k": "v"}}, obj)
	assert.Equal(t, Object{}, ObjectFromData(nil))
}
