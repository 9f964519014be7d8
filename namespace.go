package realtime

import (
	"github.com/samber/lo"
)

// NamespaceFilter decides which collections' events reach the engine.
//
//	watch     | ignore    | passes
//	empty     | empty     | all collections
//	non-empty | empty     | only collections in watch
//	empty     | non-empty | all except collections in ignore
//	non-empty | non-empty | collections in watch minus those in ignore
type NamespaceFilter struct {
	Watch  []string `json:"watch,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
}

// Pass returns true if events for the collection should be processed
func (n NamespaceFilter) Pass(collection string) bool {
	if len(n.Watch) > 0 && !lo.Contains(n.Watch, collection) {
		return false
	}
	return !lo.Contains(n.Ignore, collection)
}

// Collections returns the subset of the given collections that pass the filter, in order
func (n NamespaceFilter) Collections(collections []string) []string {
	return lo.Filter(collections, func(c string, _ int) bool {
		return n.Pass(c)
	})
}
