package realtime

import (
	"context"
	"fmt"

	"github.com/autom8ter/realtime/errors"
	"golang.org/x/sync/errgroup"
)

// Filter decides whether a document belongs in a list-stream. A filter may block, fail or panic; any of
// those excludes only the document being evaluated.
type Filter interface {
	Match(ctx context.Context, doc *Document) (bool, error)
}

// FilterFunc adapts a function into a Filter
type FilterFunc func(ctx context.Context, doc *Document) (bool, error)

// Match calls the function
func (f FilterFunc) Match(ctx context.Context, doc *Document) (bool, error) {
	return f(ctx, doc)
}

// MatchAll is a filter that accepts every document
var MatchAll = FilterFunc(func(ctx context.Context, doc *Document) (bool, error) {
	return true, nil
})

// matchSafely evaluates the filter, converting a panic into an error
func matchSafely(ctx context.Context, filter Filter, doc *Document) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pass = false
			err = errors.New(errors.Internal, "filter panic: %v", r)
		}
	}()
	return filter.Match(ctx, doc)
}

// evaluate runs the filter against every document concurrently and returns the matching documents in their
// original order. A failed evaluation excludes its document and is reported to onFailure.
func evaluate(ctx context.Context, filter Filter, docs []*Document, onFailure func(doc *Document, err error)) []*Document {
	if filter == nil {
		filter = MatchAll
	}
	var (
		matches = make([]bool, len(docs))
		egp     = &errgroup.Group{}
	)
	for i, doc := range docs {
		i, doc := i, doc
		egp.Go(func() error {
			pass, err := matchSafely(ctx, filter, doc)
			if err != nil {
				if onFailure != nil {
					onFailure(doc, err)
				}
				return nil
			}
			matches[i] = pass
			return nil
		})
	}
	_ = egp.Wait()
	filtered := make([]*Document, 0, len(docs))
	for i, doc := range docs {
		if matches[i] {
			filtered = append(filtered, doc)
		}
	}
	return filtered
}

// FieldEquals returns a filter that matches documents whose field equals the value
func FieldEquals(field string, value any) Filter {
	return FilterFunc(func(ctx context.Context, doc *Document) (bool, error) {
		return fmt.Sprint(doc.Get(field)) == fmt.Sprint(value), nil
	})
}
