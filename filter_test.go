package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	var docs []*Document
	for i := 0; i < 10; i++ {
		doc, err := NewDocumentFrom(map[string]any{"_id": fmt.Sprint(i), "n": i})
		assert.NoError(t, err)
		docs = append(docs, doc)
	}
	t.Run("preserves order", func(t *testing.T) {
		even := FilterFunc(func(ctx context.Context, doc *Document) (bool, error) {
			// finish out of order
			time.Sleep(time.Duration(10-int(doc.Get("n").(float64))) * time.Millisecond)
			return int(doc.Get("n").(float64))%2 == 0, nil
		})
		filtered := evaluate(ctx, even, docs, nil)
		assert.Equal(t, []string{"0", "2", "4", "6", "8"}, Documents(filtered).IDs())
	})
	t.Run("failures exclude only their document", func(t *testing.T) {
		var (
			mu     sync.Mutex
			failed []string
		)
		flaky := FilterFunc(func(ctx context.Context, doc *Document) (bool, error) {
			switch doc.ID() {
			case "1":
				panic("boom")
			case "2":
				return true, fmt.Errorf("rejected")
			}
			return true, nil
		})
		filtered := evaluate(ctx, flaky, docs, func(doc *Document, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, doc.ID())
		})
		assert.Equal(t, []string{"0", "3", "4", "5", "6", "7", "8", "9"}, Documents(filtered).IDs())
		assert.ElementsMatch(t, []string{"1", "2"}, failed)
	})
	t.Run("nil filter", func(t *testing.T) {
		assert.Len(t, evaluate(ctx, nil, docs, nil), len(docs))
	})
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, evaluate(ctx, MatchAll, nil, nil))
	})
	t.Run("field equals", func(t *testing.T) {
		filtered := evaluate(ctx, FieldEquals("n", 3), docs, nil)
		assert.Equal(t, []string{"3"}, Documents(filtered).IDs())
	})
	t.Run("script", func(t *testing.T) {
		filtered := evaluate(ctx, MustScriptFilter(`doc.n >= 7`), docs, nil)
		assert.Equal(t, "7,8,9", strings.Join(Documents(filtered).IDs(), ","))
	})
}
