package permit

import (
	"context"
)

// DefaultMaxDepth bounds hierarchy traversal when no explicit limit is set.
const DefaultMaxDepth = 10

// Walker performs iterative upward traversal of resource parent edges.
// Each call to Walk is independent; the walker holds no traversal state.
type Walker struct {
	store    StoreClient
	maxDepth int
}

// NewWalker builds a walker over the given store. maxDepth <= 0 selects
// DefaultMaxDepth.
func NewWalker(store StoreClient, maxDepth int) *Walker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Walker{store: store, maxDepth: maxDepth}
}

// Walk fetches ancestors of (resourceType, resourceID) one parent edge at a
// time and hands each to visit before advancing. Traversal stops when visit
// returns true (the result), when no parent edge exists, when maxDepth hops
// have been taken, or when a previously visited node reappears. The data
// model disallows cycles, but the guard keeps a violated invariant upstream
// from turning into an infinite loop here.
func (w *Walker) Walk(ctx context.Context, resourceType, resourceID string, visit func(ctx context.Context, ancestor ResourceRef) (bool, error)) (bool, error) {
	cur := ResourceRef{Type: resourceType, ID: resourceID}
	visited := map[ResourceRef]struct{}{cur: {}}
	for depth := 0; depth < w.maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		parent, ok, err := w.store.ParentResource(ctx, cur.Type, cur.ID)
		if err != nil {
			return false, wrapStore("parent_resource", err)
		}
		if !ok {
			return false, nil
		}
		if _, seen := visited[parent]; seen {
			return false, nil
		}
		visited[parent] = struct{}{}
		done, err := visit(ctx, parent)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
		cur = parent
	}
	return false, nil
}
