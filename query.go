package pquadtree

import (
	"iter"

	"github.com/tidwall/tinyqueue"
)

// Entry is an item yielded by a query, with the bounds and priority it was
// inserted with.
type Entry[T comparable] struct {
	Item     T
	Bounds   Rect
	Priority float64
}

// queryFilter decides which stored nodes match a query and which child
// quadrants could hold matches.
type queryFilter struct {
	node  func(bounds Rect) bool
	child func(bounds Rect) bool
}

func intersectingFilter(r Rect) *queryFilter {
	unbounded := r.IsInfinite()
	match := func(b Rect) bool { return unbounded || b.Intersects(r) }
	return &queryFilter{node: match, child: match}
}

func insideFilter(r Rect) *queryFilter {
	unbounded := r.IsInfinite()
	return &queryFilter{
		node:  func(b Rect) bool { return unbounded || r.Contains(b) },
		child: func(b Rect) bool { return unbounded || b.Intersects(r) },
	}
}

// producer yields nodes in query order. potential is an upper bound on the
// key of the next node it could yield; ok is false once it cannot yield
// anything more.
type producer[T comparable] interface {
	next() (node[T], bool)
	potential() (priority float64, seq uint64, ok bool)
}

// listProducer scans one sorted node list, skipping nodes that do not match.
type listProducer[T comparable] struct {
	nodes []node[T]
	pos   int
	match func(Rect) bool
}

func (p *listProducer[T]) next() (node[T], bool) {
	for p.pos < len(p.nodes) {
		n := p.nodes[p.pos]
		p.pos++
		if p.match(n.bounds) {
			return n, true
		}
	}
	return node[T]{}, false
}

func (p *listProducer[T]) potential() (float64, uint64, bool) {
	if p.pos >= len(p.nodes) {
		return 0, 0, false
	}
	n := &p.nodes[p.pos]
	return n.priority, n.seq, true
}

// quadrantProducer yields the matching nodes of a whole subtree. Until it is
// first pulled it only advertises the subtree's cached max priority; the
// first pull expands it into a merge over its own list and children.
type quadrantProducer[T comparable] struct {
	q      *quadrant[T]
	filter *queryFilter
	merge  *merger[T]
}

func (p *quadrantProducer[T]) next() (node[T], bool) {
	if p.merge == nil {
		p.merge = &merger[T]{queue: tinyqueue.New(nil)}
		p.merge.add(&listProducer[T]{nodes: p.q.nodes, match: p.filter.node})
		for _, c := range p.q.children {
			if c != nil && p.filter.child(c.bounds) {
				p.merge.add(&quadrantProducer[T]{q: c, filter: p.filter})
			}
		}
	}
	return p.merge.next()
}

func (p *quadrantProducer[T]) potential() (float64, uint64, bool) {
	if p.merge == nil {
		// seq 0 ranks ahead of every stored node with the same priority.
		return p.q.maxPriority, 0, p.q.count > 0
	}
	return p.merge.potential()
}

// queueItem is either a pending producer keyed by its potential, or a
// resolved node keyed by its own priority and sequence.
type queueItem[T comparable] struct {
	priority float64
	seq      uint64
	src      producer[T]
	n        node[T]
}

func (a *queueItem[T]) Less(b tinyqueue.Item) bool {
	o := b.(*queueItem[T])
	return ranksBefore(a.priority, a.seq, o.priority, o.seq)
}

// merger combines producers into one stream in global query order without
// materialising any producer ahead of need.
type merger[T comparable] struct {
	queue *tinyqueue.Queue
}

func (m *merger[T]) add(p producer[T]) {
	if prio, seq, ok := p.potential(); ok {
		m.queue.Push(&queueItem[T]{priority: prio, seq: seq, src: p})
	}
}

func (m *merger[T]) next() (node[T], bool) {
	for m.queue.Len() > 0 {
		top := m.queue.Pop().(*queueItem[T])
		if top.src == nil {
			return top.n, true
		}
		n, ok := top.src.next()
		if prio, seq, more := top.src.potential(); more {
			top.priority, top.seq = prio, seq
			m.queue.Push(top)
		}
		if !ok {
			continue
		}
		// Something still queued may outrank n; park n until it is next.
		if peek := m.queue.Peek(); peek != nil {
			head := peek.(*queueItem[T])
			if ranksBefore(head.priority, head.seq, n.priority, n.seq) {
				m.queue.Push(&queueItem[T]{priority: n.priority, seq: n.seq, n: n})
				continue
			}
		}
		return n, true
	}
	return node[T]{}, false
}

func (m *merger[T]) potential() (float64, uint64, bool) {
	peek := m.queue.Peek()
	if peek == nil {
		return 0, 0, false
	}
	head := peek.(*queueItem[T])
	return head.priority, head.seq, true
}

// Cursor is a lazy query result. Entries are produced in descending priority,
// ties in insertion order, and each call to Next does only the work needed
// to prove which entry comes next. Mutating the index while a cursor is in
// use gives unspecified results.
type Cursor[T comparable] struct {
	m *merger[T]
}

func newCursor[T comparable](root *quadrant[T], empties []node[T], emptyMatch func(Rect) bool, f *queryFilter) *Cursor[T] {
	m := &merger[T]{queue: tinyqueue.New(nil)}
	if root != nil {
		m.add(&quadrantProducer[T]{q: root, filter: f})
	}
	if len(empties) > 0 {
		m.add(&listProducer[T]{nodes: empties, match: emptyMatch})
	}
	return &Cursor[T]{m: m}
}

// Next returns the next entry, or false once the query is exhausted.
func (c *Cursor[T]) Next() (Entry[T], bool) {
	n, ok := c.m.next()
	if !ok {
		return Entry[T]{}, false
	}
	return Entry[T]{Item: n.item, Bounds: n.bounds, Priority: n.priority}, true
}

// Entries ranges over the remaining entries.
func (c *Cursor[T]) Entries() iter.Seq[Entry[T]] {
	return func(yield func(Entry[T]) bool) {
		for {
			e, ok := c.Next()
			if !ok || !yield(e) {
				return
			}
		}
	}
}

// All ranges over the remaining items.
func (c *Cursor[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			e, ok := c.Next()
			if !ok || !yield(e.Item) {
				return
			}
		}
	}
}

// Collect drains the cursor into a slice.
func (c *Cursor[T]) Collect() []T {
	var items []T
	for item := range c.All() {
		items = append(items, item)
	}
	return items
}
