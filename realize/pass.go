package realize

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"

	"github.com/peterstace/pquadtree/throttle"
)

// pass is one reconciliation. It first realizes a snapshot of the items in
// the viewport, then virtualizes a snapshot of the visuals it did not keep.
// pos is the resume point within whichever snapshot is current.
type pass[T comparable, V any] struct {
	id           uint64
	begun        bool
	virtualizing bool
	items        []T
	pos          int
	realized     map[T]struct{}
}

// step runs one quantum of p and posts the next. A panic from the factory
// propagates once the pass scope has been closed.
func (r *Realizer[T, V]) step(p *pass[T, V]) {
	if r.pass != p {
		return
	}
	clean := false
	defer func() {
		if !clean {
			r.endPass(p)
		}
	}()
	if !p.begun {
		if err := r.begin(p); err != nil {
			clean = true
			r.abort(p, err)
			return
		}
	}
	work := r.realizeWork(p)
	if p.virtualizing {
		work = r.virtualizeWork(p)
	}
	_, more, err := r.throttle.Step(work)
	clean = true
	switch {
	case err != nil:
		r.abort(p, err)
	case r.pass != p:
	case more:
		r.dispatcher.Post(func() { r.step(p) })
	case !p.virtualizing:
		r.startVirtualizing(p)
		r.dispatcher.Post(func() { r.step(p) })
	default:
		r.complete(p)
	}
}

func (r *Realizer[T, V]) begin(p *pass[T, V]) error {
	p.begun = true
	r.factory.BeginRealize()
	p.realized = make(map[T]struct{})
	if r.viewport.IsEmpty() {
		return nil
	}
	c, err := r.src.Intersecting(r.viewport)
	if err != nil {
		return errors.Wrap(err, "querying viewport")
	}
	p.items = c.Collect()
	r.logger.Debugf("realize pass %d started: %d items in %v", p.id, len(p.items), r.viewport)
	return nil
}

func (r *Realizer[T, V]) realizeWork(p *pass[T, V]) throttle.Work {
	return func(n int) (int, error) {
		done := 0
		for done < n && p.pos < len(p.items) && r.pass == p {
			item := p.items[p.pos]
			p.pos++
			done++
			if err := r.realizeOne(p, item); err != nil {
				return done, err
			}
		}
		return done, nil
	}
}

func (r *Realizer[T, V]) realizeOne(p *pass[T, V], item T) error {
	if !item.IsVisible() {
		return nil
	}
	if _, ok := r.visuals[item]; ok {
		p.realized[item] = struct{}{}
		return nil
	}
	v, ok, err := r.factory.Realize(item, false)
	if err != nil {
		return errors.Wrap(err, "realizing item")
	}
	if !ok {
		return nil
	}
	r.track(item, v)
	p.realized[item] = struct{}{}
	return nil
}

// startVirtualizing switches p to the visuals outside its realized set,
// oldest first.
func (r *Realizer[T, V]) startVirtualizing(p *pass[T, V]) {
	var stale []T
	for item := range r.visuals {
		if _, ok := p.realized[item]; !ok {
			stale = append(stale, item)
		}
	}
	slices.SortFunc(stale, func(a, b T) int {
		return cmp.Compare(r.visuals[a].seq, r.visuals[b].seq)
	})
	p.virtualizing = true
	p.items = stale
	p.pos = 0
}

func (r *Realizer[T, V]) virtualizeWork(p *pass[T, V]) throttle.Work {
	return func(n int) (int, error) {
		done := 0
		for done < n && p.pos < len(p.items) && r.pass == p {
			item := p.items[p.pos]
			p.pos++
			done++
			if err := r.virtualizeOne(item); err != nil {
				return done, err
			}
		}
		return done, nil
	}
}

func (r *Realizer[T, V]) virtualizeOne(item T) error {
	rec, ok := r.visuals[item]
	if !ok || !r.shouldVirtualize(item, rec.v) {
		return nil
	}
	gone, err := r.factory.Virtualize(rec.v)
	if err != nil {
		return errors.Wrap(err, "virtualizing item")
	}
	if gone {
		delete(r.visuals, item)
		r.stats.Virtualized++
		r.metrics.virtualized()
	}
	return nil
}

// endPass detaches p and closes its factory scope. It is safe to call more
// than once.
func (r *Realizer[T, V]) endPass(p *pass[T, V]) {
	if r.pass == p {
		r.pass = nil
	}
	if p.begun {
		p.begun = false
		r.factory.EndRealize()
	}
}

func (r *Realizer[T, V]) complete(p *pass[T, V]) {
	r.endPass(p)
	c := r.stats
	r.stats = Completion{}
	r.metrics.passCompleted()
	r.logger.Debugf("realize pass %d complete: realized=%d virtualized=%d updated=%d", p.id, c.Realized, c.Virtualized, c.Updated)
	for _, fn := range slices.Clone(r.onComplete) {
		fn(c)
	}
	idle := r.idle
	r.idle = nil
	for _, fn := range idle {
		fn()
	}
}

func (r *Realizer[T, V]) abort(p *pass[T, V], err error) {
	r.endPass(p)
	r.logger.WithError(err).Errorf("realize pass %d aborted at item %d", p.id, p.pos)
	for _, fn := range slices.Clone(r.onError) {
		fn(err)
	}
}
