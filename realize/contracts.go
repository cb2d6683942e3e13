// Package realize keeps expensive visuals alive for exactly the items of a
// pquadtree index that intersect a viewport. Reconciliation runs as a
// resumable pass, one throttled quantum per dispatcher callback.
package realize

import (
	"github.com/peterstace/pquadtree"
)

// Item is an object placed in the scene. Bounds and Priority are read when
// the item is inserted into an index; changes after that must go through
// pquadtree.Index.Update.
type Item interface {
	Bounds() pquadtree.Rect
	Priority() float64
	ZOrder() int32
	IsVisible() bool
	DataItem() any
	// Measure is called once per layout pass while the item is realized.
	Measure()
}

// VisualFactory creates and discards the visuals for items. Every pass is
// bracketed by BeginRealize and EndRealize, including passes that are
// cancelled or fail.
type VisualFactory[T any, V any] interface {
	BeginRealize()
	EndRealize()
	// Realize creates the visual for item. Returning false skips the item
	// for this pass. force is set by Realizer.ForceRealize.
	Realize(item T, force bool) (V, bool, error)
	// Virtualize discards visual. Returning false keeps it for this pass.
	Virtualize(visual V) (bool, error)
}

// Source is the part of a pquadtree.Index a Realizer reads.
type Source[T comparable] interface {
	Intersecting(r pquadtree.Rect) (*pquadtree.Cursor[T], error)
	Subscribe(fn func(pquadtree.Change)) (unsubscribe func())
}

var _ Source[int] = (*pquadtree.Index[int])(nil)

// Dispatcher runs posted callbacks later, one at a time, on the goroutine
// that owns the index and the realizer.
type Dispatcher interface {
	Post(fn func())
}

// InsertItems adds items to idx using their own bounds and priorities.
func InsertItems[T interface {
	comparable
	Item
}](idx *pquadtree.Index[T], items ...T) error {
	ins := make([]pquadtree.Insertion[T], len(items))
	for i, item := range items {
		ins[i] = pquadtree.Insertion[T]{Item: item, Bounds: item.Bounds(), Priority: item.Priority()}
	}
	return idx.InsertAll(ins)
}
