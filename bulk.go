package pquadtree

import "github.com/pkg/errors"

// Insertion is one item for InsertAll.
type Insertion[T comparable] struct {
	Item     T
	Bounds   Rect
	Priority float64
}

// InsertAll adds every insertion, in order, and notifies subscribers once.
// Nothing is inserted if any of the bounds are undefined.
func (x *Index[T]) InsertAll(items []Insertion[T]) error {
	for i, it := range items {
		if err := checkBounds("insert", it.Bounds); err != nil {
			return errors.Wrapf(err, "item %d", i)
		}
	}
	for _, it := range items {
		x.insert(it.Item, it.Bounds, it.Priority)
	}
	if len(items) > 0 {
		x.notify(Change{Added: len(items)})
	}
	return nil
}

// rebuild re-inserts every node into a fresh tree over extent. Nodes keep
// their sequence numbers, so ties still resolve in the order items were first inserted.
func (x *Index[T]) rebuild(extent Rect) {
	old := x.tree
	x.tree = newTree[T](extent, x.maxDepth)
	old.each(func(n node[T]) bool {
		x.tree.insert(n)
		return true
	})
	x.logger.Debugf("index rebuilt over %v with %d items", extent, x.tree.len())
}
