package pquadtree

import (
	"io"
	"iter"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Change summarises one batch of mutations of an Index.
type Change struct {
	Added   int
	Removed int
	Updated int
	Cleared bool
}

// IsZero reports whether c records no mutation.
func (c Change) IsZero() bool {
	return c == Change{}
}

func (c Change) merge(o Change) Change {
	return Change{
		Added:   c.Added + o.Added,
		Removed: c.Removed + o.Removed,
		Updated: c.Updated + o.Updated,
		Cleared: c.Cleared || o.Cleared,
	}
}

// Option configures an Index.
type Option func(*options)

type options struct {
	maxDepth int
	logger   logrus.FieldLogger
}

// WithMaxDepth sets how deep the tree may subdivide. The default is
// DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(o *options) { o.maxDepth = depth }
}

// WithLogger sets the logger used for re-index and notification tracing.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type subscription struct {
	fn func(Change)
}

// Index is a spatial index over items of type T that answers containment and
// intersection queries in descending priority order. Items are compared with
// ==, so pointer types give identity semantics.
//
// An Index is not safe for concurrent use.
type Index[T comparable] struct {
	extent   Rect
	tree     *tree[T]
	empties  nodeList[T]
	seq      uint64
	maxDepth int
	logger   logrus.FieldLogger

	subs       []*subscription
	batchDepth int
	pending    Change
}

// New creates an empty index over extent. Items may still be inserted
// outside the extent; they are kept at the top of the tree.
func New[T comparable](extent Rect, opts ...Option) (*Index[T], error) {
	if err := checkBounds("extent", extent); err != nil {
		return nil, err
	}
	o := options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxDepth < 0 {
		return nil, errors.Wrapf(ErrInvalidOption, "max depth %d", o.maxDepth)
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	return &Index[T]{
		extent:   extent,
		tree:     newTree[T](extent, o.maxDepth),
		maxDepth: o.maxDepth,
		logger:   o.logger,
	}, nil
}

// Len is the number of stored items.
func (x *Index[T]) Len() int {
	return x.tree.len() + len(x.empties)
}

// Extent is the rectangle most recently configured with New or SetExtent.
func (x *Index[T]) Extent() Rect {
	return x.extent
}

// SetExtent changes the indexed extent. The tree is only rebuilt when the new
// extent does not fit inside the one the tree was built over, or is less than
// half its area; otherwise the existing structure is kept.
func (x *Index[T]) SetExtent(extent Rect) error {
	if err := checkBounds("extent", extent); err != nil {
		return err
	}
	x.extent = extent
	built := x.tree.bounds
	if built.Contains(extent) && extent.Area() >= built.Area()/2 {
		return nil
	}
	x.rebuild(extent)
	return nil
}

// Insert adds item with the given bounds and priority. A NaN priority sorts
// below every other priority.
func (x *Index[T]) Insert(item T, bounds Rect, priority float64) error {
	if err := checkBounds("insert", bounds); err != nil {
		return err
	}
	x.insert(item, bounds, priority)
	x.notify(Change{Added: 1})
	return nil
}

func (x *Index[T]) insert(item T, bounds Rect, priority float64) {
	x.seq++
	n := node[T]{item: item, bounds: bounds, priority: normalizePriority(priority), seq: x.seq}
	if bounds.IsEmpty() {
		x.empties.insert(n)
		return
	}
	x.tree.insert(n)
}

// Remove deletes item, searching the whole index. It reports whether the item
// was found.
func (x *Index[T]) Remove(item T) bool {
	found, _ := x.RemoveWithin(item, Infinite)
	return found
}

// RemoveWithin deletes item, only searching the parts of the tree that
// intersect hint. Passing the bounds the item was inserted with gives the
// cheapest search.
func (x *Index[T]) RemoveWithin(item T, hint Rect) (bool, error) {
	if err := checkBounds("remove", hint); err != nil {
		return false, err
	}
	if !x.remove(item, hint) {
		return false, nil
	}
	x.notify(Change{Removed: 1})
	return true, nil
}

func (x *Index[T]) remove(item T, hint Rect) bool {
	if hint.IsEmpty() || hint.IsInfinite() {
		if _, ok := x.empties.remove(item); ok {
			return true
		}
		if hint.IsEmpty() {
			return false
		}
	}
	_, ok := x.tree.remove(item, hint)
	return ok
}

// Update moves item from oldBounds to newBounds with a new priority. Bounds
// and priority are captured at insert time, so any change to them must go
// through Update. It reports false, leaving the index untouched, when the
// item is not found within oldBounds.
func (x *Index[T]) Update(item T, oldBounds, newBounds Rect, priority float64) (bool, error) {
	if err := checkBounds("update", oldBounds); err != nil {
		return false, err
	}
	if err := checkBounds("update", newBounds); err != nil {
		return false, err
	}
	if !x.remove(item, oldBounds) {
		return false, nil
	}
	x.insert(item, newBounds, priority)
	x.notify(Change{Updated: 1})
	return true, nil
}

// Clear removes every item.
func (x *Index[T]) Clear() {
	x.tree = newTree[T](x.tree.bounds, x.maxDepth)
	x.empties = nil
	x.notify(Change{Cleared: true})
}

// Intersecting returns the items whose bounds intersect r, highest priority
// first. Items with Empty bounds always match.
func (x *Index[T]) Intersecting(r Rect) (*Cursor[T], error) {
	if err := checkBounds("query", r); err != nil {
		return nil, err
	}
	always := func(Rect) bool { return true }
	return newCursor(x.tree.root, x.empties, always, intersectingFilter(r)), nil
}

// HasItemsIntersecting reports whether any item intersects r.
func (x *Index[T]) HasItemsIntersecting(r Rect) (bool, error) {
	c, err := x.Intersecting(r)
	if err != nil {
		return false, err
	}
	_, ok := c.Next()
	return ok, nil
}

// Inside returns the items whose bounds lie entirely within r. Items with
// Empty bounds match only when r is Infinite or contains Empty.
func (x *Index[T]) Inside(r Rect) (*Cursor[T], error) {
	if err := checkBounds("query", r); err != nil {
		return nil, err
	}
	emptyMatches := r.IsInfinite() || r.Contains(Empty)
	emptyMatch := func(Rect) bool { return emptyMatches }
	return newCursor(x.tree.root, x.empties, emptyMatch, insideFilter(r)), nil
}

// HasItemsInside reports whether any item lies entirely within r.
func (x *Index[T]) HasItemsInside(r Rect) (bool, error) {
	c, err := x.Inside(r)
	if err != nil {
		return false, err
	}
	_, ok := c.Next()
	return ok, nil
}

// All ranges over every item in no particular order.
func (x *Index[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		more := x.tree.each(func(n node[T]) bool {
			return yield(n.item)
		})
		if !more {
			return
		}
		for _, n := range x.empties {
			if !yield(n.item) {
				return
			}
		}
	}
}

// Subscribe registers fn to be called after every mutation batch. The
// returned function removes the subscription.
func (x *Index[T]) Subscribe(fn func(Change)) (unsubscribe func()) {
	s := &subscription{fn: fn}
	x.subs = append(x.subs, s)
	return func() {
		for i, o := range x.subs {
			if o == s {
				x.subs = append(x.subs[:i:i], x.subs[i+1:]...)
				return
			}
		}
	}
}

// Batch runs fn and delivers the mutations it makes as a single Change once
// the outermost Batch returns.
func (x *Index[T]) Batch(fn func()) {
	x.batchDepth++
	defer func() {
		x.batchDepth--
		if x.batchDepth == 0 {
			x.flush()
		}
	}()
	fn()
}

func (x *Index[T]) notify(c Change) {
	x.pending = x.pending.merge(c)
	if x.batchDepth == 0 {
		x.flush()
	}
}

func (x *Index[T]) flush() {
	c := x.pending
	x.pending = Change{}
	if c.IsZero() {
		return
	}
	x.logger.Debugf("index changed: added=%d removed=%d updated=%d cleared=%t", c.Added, c.Removed, c.Updated, c.Cleared)
	subs := append([]*subscription(nil), x.subs...)
	for _, s := range subs {
		s.fn(c)
	}
}
