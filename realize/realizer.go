package realize

import (
	"cmp"
	"io"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/peterstace/pquadtree"
	"github.com/peterstace/pquadtree/throttle"
)

var (
	// ErrClosed is returned by a Realizer after Close.
	ErrClosed = errors.New("realizer closed")
	// ErrInvalidOption is returned by New for a mistyped option.
	ErrInvalidOption = errors.New("invalid realizer option")
)

// Option configures a Realizer.
type Option func(*options)

type options struct {
	throttle         throttle.Config
	shouldVirtualize any
	logger           logrus.FieldLogger
	metrics          *Metrics
	now              func() time.Time
}

// WithThrottle sets how quanta are sized. The default is
// throttle.DefaultConfig.
func WithThrottle(cfg throttle.Config) Option {
	return func(o *options) { o.throttle = cfg }
}

// WithShouldVirtualize sets the predicate consulted before discarding the
// visual of an item that left the viewport. Items it rejects, such as one
// holding focus, keep their visual. T and V must match the Realizer's.
func WithShouldVirtualize[T, V any](fn func(item T, visual V) bool) Option {
	return func(o *options) { o.shouldVirtualize = fn }
}

// WithLogger sets the logger for pass lifecycle and failures.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records realizer activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now when timing quanta.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Completion summarises the work done since the previous completed pass.
type Completion struct {
	Realized    int
	Virtualized int
	// Updated counts items re-indexed in the source.
	Updated int
}

type visual[V any] struct {
	v   V
	seq uint64
}

// Realizer reconciles the visuals of a VisualFactory with the items of a
// Source that intersect the viewport. Every change of viewport or source
// schedules a pass on the Dispatcher; a newer pass always replaces an older
// one.
//
// A Realizer is not safe for concurrent use. It must be used from the
// goroutine the Dispatcher runs callbacks on.
type Realizer[T interface {
	comparable
	Item
}, V any] struct {
	src              Source[T]
	factory          VisualFactory[T, V]
	dispatcher       Dispatcher
	throttle         *throttle.Throttle
	shouldVirtualize func(T, V) bool
	logger           logrus.FieldLogger
	metrics          *Metrics
	unsubscribe      func()

	viewport pquadtree.Rect
	visuals  map[T]visual[V]
	seq      uint64

	pass    *pass[T, V]
	passes  uint64
	paused  int
	pending bool
	closed  bool

	stats      Completion
	idle       []func()
	onComplete []func(Completion)
	onError    []func(error)
}

// New creates a Realizer with an Empty viewport and subscribes it to src.
func New[T interface {
	comparable
	Item
}, V any](src Source[T], factory VisualFactory[T, V], dispatcher Dispatcher, opts ...Option) (*Realizer[T, V], error) {
	o := options{throttle: throttle.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.logger = l
	}
	keep := func(T, V) bool { return true }
	if o.shouldVirtualize != nil {
		fn, ok := o.shouldVirtualize.(func(T, V) bool)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidOption, "should-virtualize predicate has type %T", o.shouldVirtualize)
		}
		keep = fn
	}
	r := &Realizer[T, V]{
		src:              src,
		factory:          factory,
		dispatcher:       dispatcher,
		shouldVirtualize: keep,
		logger:           o.logger,
		metrics:          o.metrics,
		viewport:         pquadtree.Empty,
		visuals:          make(map[T]visual[V]),
	}
	topts := []throttle.Option{throttle.WithObserver(r.observe)}
	if o.now != nil {
		topts = append(topts, throttle.WithClock(o.now))
	}
	th, err := throttle.New(o.throttle, topts...)
	if err != nil {
		return nil, err
	}
	r.throttle = th
	r.unsubscribe = src.Subscribe(r.sourceChanged)
	return r, nil
}

// Viewport is the rectangle whose items are kept realized.
func (r *Realizer[T, V]) Viewport() pquadtree.Rect {
	return r.viewport
}

// SetViewport moves the viewport and schedules a pass if it changed. An
// Empty viewport realizes nothing.
func (r *Realizer[T, V]) SetViewport(viewport pquadtree.Rect) error {
	if r.closed {
		return ErrClosed
	}
	if !viewport.IsDefined() {
		return errors.Wrapf(pquadtree.ErrUndefinedBounds, "viewport %v", viewport)
	}
	if viewport == r.viewport {
		return nil
	}
	r.viewport = viewport
	r.Invalidate()
	return nil
}

// Invalidate schedules a new pass, cancelling any pass in flight. While
// paused it only records that a pass is owed.
func (r *Realizer[T, V]) Invalidate() {
	if r.closed {
		return
	}
	if r.paused > 0 {
		r.pending = true
		return
	}
	r.cancel("superseded")
	r.passes++
	p := &pass[T, V]{id: r.passes}
	r.pass = p
	r.dispatcher.Post(func() { r.step(p) })
}

// Cancel stops the pass in flight, if any. Visuals it already created or
// discarded stay that way.
func (r *Realizer[T, V]) Cancel() {
	r.pending = false
	r.cancel("cancelled")
}

func (r *Realizer[T, V]) cancel(reason string) {
	p := r.pass
	if p == nil {
		return
	}
	r.endPass(p)
	r.logger.Debugf("realize pass %d %s at item %d", p.id, reason, p.pos)
}

// Pause stops scheduling until the matching Resume. A pass in flight is
// cancelled and restarted on Resume.
func (r *Realizer[T, V]) Pause() {
	r.paused++
	if r.pass != nil {
		r.pending = true
		r.cancel("paused")
	}
}

// Resume undoes one Pause. Leaving the last pause starts a single pass if
// anything was invalidated in between.
func (r *Realizer[T, V]) Resume() {
	if r.paused == 0 {
		panic("realize: Resume without Pause")
	}
	r.paused--
	if r.paused == 0 && r.pending {
		r.pending = false
		r.Invalidate()
	}
}

// Idle reports whether no pass is in flight or owed.
func (r *Realizer[T, V]) Idle() bool {
	return r.pass == nil && !r.pending
}

// WhenIdle calls fn after the next pass completes. Callbacks run in the order
// they were registered. If the realizer is already idle with nothing queued,
// fn is posted to the dispatcher.
func (r *Realizer[T, V]) WhenIdle(fn func()) {
	if r.Idle() && len(r.idle) == 0 {
		r.dispatcher.Post(fn)
		return
	}
	r.idle = append(r.idle, fn)
}

// OnComplete registers fn to be called after every completed pass.
func (r *Realizer[T, V]) OnComplete(fn func(Completion)) {
	r.onComplete = append(r.onComplete, fn)
}

// OnError registers fn to be called with the error of every aborted pass.
func (r *Realizer[T, V]) OnError(fn func(error)) {
	r.onError = append(r.onError, fn)
}

// Visual returns the visual of item, if it is realized.
func (r *Realizer[T, V]) Visual(item T) (V, bool) {
	rec, ok := r.visuals[item]
	return rec.v, ok
}

// RealizedCount is the number of items with a visual.
func (r *Realizer[T, V]) RealizedCount() int {
	return len(r.visuals)
}

// Realized returns the realized items in the order they were realized.
func (r *Realizer[T, V]) Realized() []T {
	items := make([]T, 0, len(r.visuals))
	for item := range r.visuals {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b T) int {
		return cmp.Compare(r.visuals[a].seq, r.visuals[b].seq)
	})
	return items
}

// RealizedByZOrder returns the realized items by ascending ZOrder, ties in
// the order they were realized.
func (r *Realizer[T, V]) RealizedByZOrder() []T {
	items := r.Realized()
	slices.SortStableFunc(items, func(a, b T) int {
		return cmp.Compare(a.ZOrder(), b.ZOrder())
	})
	return items
}

// ForceRealize creates the visual for item immediately, asking the factory
// to ignore anything that would make it skip the item. The visual is kept
// by a pass in flight but, like any other, is discarded by later passes
// once it is out of view and the should-virtualize predicate agrees.
func (r *Realizer[T, V]) ForceRealize(item T) (V, bool, error) {
	var zero V
	if r.closed {
		return zero, false, ErrClosed
	}
	if rec, ok := r.visuals[item]; ok {
		return rec.v, true, nil
	}
	p := r.pass
	if p == nil || !p.begun {
		r.factory.BeginRealize()
		defer r.factory.EndRealize()
	}
	v, ok, err := r.factory.Realize(item, true)
	if err != nil {
		return zero, false, errors.Wrap(err, "force realizing item")
	}
	if !ok {
		return zero, false, nil
	}
	r.track(item, v)
	if p != nil && p.realized != nil {
		p.realized[item] = struct{}{}
	}
	return v, true, nil
}

// Measure calls Measure on every realized item.
func (r *Realizer[T, V]) Measure() {
	for _, item := range r.Realized() {
		item.Measure()
	}
}

// Close cancels any pass, unsubscribes from the source and drops pending
// idle callbacks. Visuals are left as they are.
func (r *Realizer[T, V]) Close() {
	if r.closed {
		return
	}
	r.Cancel()
	r.unsubscribe()
	r.closed = true
	r.idle = nil
}

func (r *Realizer[T, V]) sourceChanged(c pquadtree.Change) {
	r.stats.Updated += c.Updated
	r.Invalidate()
}

func (r *Realizer[T, V]) observe(quantum, done int, elapsed time.Duration) {
	r.metrics.quantum(quantum, elapsed)
}

func (r *Realizer[T, V]) track(item T, v V) {
	r.seq++
	r.visuals[item] = visual[V]{v: v, seq: r.seq}
	r.stats.Realized++
	r.metrics.realized()
}
