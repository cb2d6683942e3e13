package pquadtree

// removeFrame is one level of the explicit stack used by remove. next is the
// index of the next child to try; -1 means the local list has not been
// searched yet.
type removeFrame[T comparable] struct {
	q    *quadrant[T]
	next int
}

// remove deletes the first node holding item, searching only quadrants that
// intersect hint. Counts and max priorities are recomputed along the path,
// and children left empty are pruned.
func (t *tree[T]) remove(item T, hint Rect) (node[T], bool) {
	if t.root == nil {
		return node[T]{}, false
	}
	unbounded := hint.IsInfinite()

	var removed node[T]
	found := false
	stack := []removeFrame[T]{{q: t.root, next: -1}}
	for len(stack) > 0 && !found {
		top := &stack[len(stack)-1]
		if top.next == -1 {
			if n, ok := top.q.nodes.remove(item); ok {
				removed, found = n, true
				break
			}
			top.next = 0
		}
		var descend *quadrant[T]
		for top.next < len(top.q.children) {
			c := top.q.children[top.next]
			top.next++
			if c != nil && (unbounded || c.bounds.Intersects(hint)) {
				descend = c
				break
			}
		}
		if descend == nil {
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, removeFrame[T]{q: descend, next: -1})
	}
	if !found {
		return node[T]{}, false
	}

	for i := len(stack) - 1; i >= 0; i-- {
		q := stack[i].q
		if q.count <= 0 {
			panic("quadrant count underflow")
		}
		q.count--
		if i < len(stack)-1 && stack[i+1].q.count == 0 {
			idx := stack[i].next - 1
			if q.children[idx] != stack[i+1].q {
				panic("could not find child on removal path")
			}
			q.children[idx] = nil
		}
		q.recomputeMax()
	}
	if t.root.count == 0 {
		t.root = nil
	}
	return removed, true
}
