package pquadtree

// insert places n in the deepest quadrant whose quarter fully contains its
// bounds, creating quadrants along the way. Every quadrant on the path
// accounts for n in its count and max priority.
func (t *tree[T]) insert(n node[T]) {
	if t.root == nil {
		t.root = newQuadrant[T](t.bounds)
	}
	q := t.root
	for depth := 0; ; depth++ {
		q.count++
		if n.priority > q.maxPriority {
			q.maxPriority = n.priority
		}

		child := -1
		if !n.bounds.IsInfinite() && q.canSubdivide(depth, t.maxDepth) {
			for i, sub := range q.bounds.quarters() {
				if sub.Contains(n.bounds) {
					child = i
					if q.children[i] == nil {
						q.children[i] = newQuadrant[T](sub)
					}
					break
				}
			}
		}
		if child == -1 {
			q.nodes.insert(n)
			return
		}
		q = q.children[child]
	}
}
