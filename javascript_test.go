package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJavascript(t *testing.T) {
	doc, err := NewDocumentFrom(map[string]any{
		"_id":   "1",
		"email": "a@x.com",
		"age":   10,
	})
	assert.NoError(t, err)
	t.Run("bool expression", func(t *testing.T) {
		vm, err := getJavascriptVM(map[string]any{})
		assert.NoError(t, err)
		assert.NotNil(t, vm)
		assert.NoError(t, vm.Set("doc", doc.Value()))
		v, err := vm.RunString(`doc.age > 5`)
		assert.NoError(t, err)
		res := v.Export().(bool)
		assert.True(t, res, v.String())
	})
	t.Run("same result with or without connection metadata", func(t *testing.T) {
		ctx := NewMetadata(map[string]any{MetadataKeyUserID: "1"}).ToContext(context.Background())
		filter, err := ScriptFilter(`typeof metadata === "undefined" && doc._id === "1"`)
		assert.NoError(t, err)
		pass, err := filter.Match(ctx, doc)
		assert.NoError(t, err)
		assert.True(t, pass)
		pass, err = filter.Match(context.Background(), doc)
		assert.NoError(t, err)
		assert.True(t, pass)
	})
	t.Run("script filter", func(t *testing.T) {
		filter := MustScriptFilter(`doc.email.endsWith("@x.com")`)
		pass, err := filter.Match(context.Background(), doc)
		assert.NoError(t, err)
		assert.True(t, pass)
		other, err := NewDocumentFrom(map[string]any{"_id": "2", "email": "b@y.com"})
		assert.NoError(t, err)
		pass, err = filter.Match(context.Background(), other)
		assert.NoError(t, err)
		assert.False(t, pass)
	})
	t.Run("id binding", func(t *testing.T) {
		pass, err := MustScriptFilter(`id === "1"`).Match(context.Background(), doc)
		assert.NoError(t, err)
		assert.True(t, pass)
	})
	t.Run("runtime error", func(t *testing.T) {
		pass, err := MustScriptFilter(`doc.missing.field`).Match(context.Background(), doc)
		assert.Error(t, err)
		assert.False(t, pass)
	})
	t.Run("interrupted", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		pass, err := MustScriptFilter(`while (true) {}`).Match(ctx, doc)
		assert.Error(t, err)
		assert.False(t, pass)
	})
	t.Run("invalid script", func(t *testing.T) {
		_, err := ScriptFilter(`doc.email ===`)
		assert.Error(t, err)
		_, err = ScriptFilter("")
		assert.Error(t, err)
		assert.Panics(t, func() {
			MustScriptFilter(`(`)
		})
	})
}
