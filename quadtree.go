package pquadtree

import (
	"math"
	"slices"
	"sort"
)

// DefaultMaxDepth is the depth below which quadrants are no longer
// subdivided. Items that would need a deeper quadrant stay at this depth.
const DefaultMaxDepth = 50

// node is an item held by a quadrant, together with the bounds and priority
// it was inserted with.
type node[T comparable] struct {
	item     T
	bounds   Rect
	priority float64
	seq      uint64
}

// ranksBefore reports whether the key (p1, s1) is yielded before (p2, s2):
// higher priority first, then earlier insertion.
func ranksBefore(p1 float64, s1 uint64, p2 float64, s2 uint64) bool {
	if p1 != p2 {
		return p1 > p2
	}
	return s1 < s2
}

// nodeList is kept sorted in query order.
type nodeList[T comparable] []node[T]

func (l *nodeList[T]) insert(n node[T]) {
	nodes := *l
	i := sort.Search(len(nodes), func(i int) bool {
		return ranksBefore(n.priority, n.seq, nodes[i].priority, nodes[i].seq)
	})
	*l = slices.Insert(nodes, i, n)
}

func (l *nodeList[T]) remove(item T) (node[T], bool) {
	nodes := *l
	for i := range nodes {
		if nodes[i].item == item {
			n := nodes[i]
			*l = slices.Delete(nodes, i, i+1)
			return n, true
		}
	}
	return node[T]{}, false
}

func normalizePriority(p float64) float64 {
	if math.IsNaN(p) {
		return math.Inf(-1)
	}
	return p
}

// quadrant is a node of the spatial tree. Nodes that fit entirely within
// one of its four quarters live in the matching child, the rest straddle
// and are kept here, sorted in query order.
type quadrant[T comparable] struct {
	bounds   Rect
	children [4]*quadrant[T]
	nodes    nodeList[T]

	// count is the number of nodes in the subtree rooted here.
	count int
	// maxPriority is the highest priority of any node in the subtree.
	maxPriority float64
}

func newQuadrant[T comparable](bounds Rect) *quadrant[T] {
	return &quadrant[T]{bounds: bounds, maxPriority: math.Inf(-1)}
}

// recomputeMax derives maxPriority from the local list and the cached values
// of the children.
func (q *quadrant[T]) recomputeMax() {
	m := math.Inf(-1)
	if len(q.nodes) > 0 {
		m = q.nodes[0].priority
	}
	for _, c := range q.children {
		if c != nil && c.maxPriority > m {
			m = c.maxPriority
		}
	}
	q.maxPriority = m
}

// canSubdivide reports whether nodes may be pushed below q.
func (q *quadrant[T]) canSubdivide(depth, maxDepth int) bool {
	if depth >= maxDepth {
		return false
	}
	if q.bounds.Width <= 0 && q.bounds.Height <= 0 {
		return false
	}
	return q.bounds.isFinite()
}

// tree is the quadrant hierarchy over a fixed extent. The root is created
// lazily by the first insert.
type tree[T comparable] struct {
	bounds   Rect
	maxDepth int
	root     *quadrant[T]
}

func newTree[T comparable](bounds Rect, maxDepth int) *tree[T] {
	return &tree[T]{bounds: bounds, maxDepth: maxDepth}
}

func (t *tree[T]) len() int {
	if t.root == nil {
		return 0
	}
	return t.root.count
}

// each visits every node breadth first, stopping early if fn returns false.
// The visiting order is unrelated to priority.
func (t *tree[T]) each(fn func(n node[T]) bool) bool {
	if t.root == nil {
		return true
	}
	queue := []*quadrant[T]{t.root}
	for len(queue) > 0 {
		q := queue[0]
		queue = queue[1:]
		for _, n := range q.nodes {
			if !fn(n) {
				return false
			}
		}
		for _, c := range q.children {
			if c != nil {
				queue = append(queue, c)
			}
		}
	}
	return true
}
