package realize

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterstace/pquadtree"
	"github.com/peterstace/pquadtree/throttle"
)

type testItem struct {
	name     string
	bounds   pquadtree.Rect
	priority float64
	z        int32
	hidden   bool
	measured int
}

func (i *testItem) Bounds() pquadtree.Rect { return i.bounds }
func (i *testItem) Priority() float64      { return i.priority }
func (i *testItem) ZOrder() int32          { return i.z }
func (i *testItem) IsVisible() bool        { return !i.hidden }
func (i *testItem) DataItem() any          { return i.name }
func (i *testItem) Measure()               { i.measured++ }

type testVisual struct {
	item *testItem
}

type testFactory struct {
	begins, ends int
	open         int
	realized     []string
	virtualized  []string
	forced       []string
	fail         map[string]error
	panicOn      string
	skip         map[string]bool
	veto         map[string]bool
	onRealize    func(*testItem)
}

func newTestFactory() *testFactory {
	return &testFactory{
		fail: make(map[string]error),
		skip: make(map[string]bool),
		veto: make(map[string]bool),
	}
}

func (f *testFactory) BeginRealize() {
	f.begins++
	f.open++
}

func (f *testFactory) EndRealize() {
	f.ends++
	f.open--
}

func (f *testFactory) Realize(item *testItem, force bool) (*testVisual, bool, error) {
	if f.onRealize != nil {
		f.onRealize(item)
	}
	if err := f.fail[item.name]; err != nil {
		return nil, false, err
	}
	if item.name == f.panicOn {
		panic("boom")
	}
	if f.skip[item.name] && !force {
		return nil, false, nil
	}
	if force {
		f.forced = append(f.forced, item.name)
	}
	f.realized = append(f.realized, item.name)
	return &testVisual{item: item}, true, nil
}

func (f *testFactory) Virtualize(v *testVisual) (bool, error) {
	if f.veto[v.item.name] {
		return false, nil
	}
	f.virtualized = append(f.virtualized, v.item.name)
	return true, nil
}

type fixture struct {
	idx         *pquadtree.Index[*testItem]
	factory     *testFactory
	queue       *Queue
	r           *Realizer[*testItem, *testVisual]
	completions []Completion
	errs        []error
}

func newFixture(t *testing.T, items []*testItem, opts ...Option) *fixture {
	t.Helper()
	idx, err := pquadtree.New[*testItem](pquadtree.Rect{Width: 1000, Height: 1000})
	require.NoError(t, err)
	require.NoError(t, InsertItems(idx, items...))

	cfg := throttle.DefaultConfig()
	cfg.ThrottlingLimit = 2
	f := &fixture{idx: idx, factory: newTestFactory(), queue: NewQueue()}
	opts = append([]Option{WithThrottle(cfg)}, opts...)
	f.r, err = New[*testItem, *testVisual](idx, f.factory, f.queue, opts...)
	require.NoError(t, err)
	f.r.OnComplete(func(c Completion) { f.completions = append(f.completions, c) })
	f.r.OnError(func(err error) { f.errs = append(f.errs, err) })
	return f
}

func (f *fixture) show(t *testing.T, viewport pquadtree.Rect) {
	t.Helper()
	require.NoError(t, f.r.SetViewport(viewport))
	f.queue.Drain()
}

func names(items []*testItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.name)
	}
	return out
}

func square(x, y float64) pquadtree.Rect {
	return pquadtree.Rect{Left: x, Top: y, Width: 5, Height: 5}
}

var (
	nearView = pquadtree.Rect{Width: 100, Height: 100}
	farView  = pquadtree.Rect{Left: 400, Top: 400, Width: 600, Height: 600}
)

// tenItems has three items in nearView and seven in farView, in descending
// priority within each group.
func tenItems() []*testItem {
	var items []*testItem
	for i := 0; i < 3; i++ {
		items = append(items, &testItem{name: fmt.Sprintf("near%d", i), bounds: square(float64(10*i), float64(10*i)), priority: float64(10 - i)})
	}
	for i := 0; i < 7; i++ {
		items = append(items, &testItem{name: fmt.Sprintf("far%d", i), bounds: square(float64(500+10*i), 500), priority: float64(10 - i)})
	}
	return items
}

func TestViewportMoveRealizesThreeOfTen(t *testing.T) {
	f := newFixture(t, tenItems())
	f.show(t, farView)
	require.Equal(t, 7, f.r.RealizedCount())
	require.Len(t, f.completions, 1)
	f.completions = nil
	f.factory.realized = nil

	f.show(t, nearView)

	assert.Equal(t, []string{"near0", "near1", "near2"}, names(f.r.Realized()))
	assert.Equal(t, []string{"near0", "near1", "near2"}, f.factory.realized)
	assert.Equal(t, []string{"far0", "far1", "far2", "far3", "far4", "far5", "far6"}, f.factory.virtualized)
	assert.Equal(t, []Completion{{Realized: 3, Virtualized: 7}}, f.completions)
	assert.Equal(t, f.factory.begins, f.factory.ends)
	assert.Equal(t, 0, f.factory.open)
	assert.True(t, f.r.Idle())
}

func TestPassYieldsBetweenQuanta(t *testing.T) {
	f := newFixture(t, tenItems())
	require.NoError(t, f.r.SetViewport(farView))

	require.True(t, f.queue.RunOnce())
	assert.Equal(t, 2, f.r.RealizedCount())
	assert.Equal(t, 1, f.factory.open)
	require.True(t, f.queue.RunOnce())
	assert.Equal(t, 4, f.r.RealizedCount())
	assert.Empty(t, f.completions)

	f.queue.Drain()
	assert.Equal(t, 7, f.r.RealizedCount())
	assert.Len(t, f.completions, 1)
	assert.Equal(t, 0, f.factory.open)
}

func TestNewPassSupersedesOld(t *testing.T) {
	f := newFixture(t, tenItems())
	require.NoError(t, f.r.SetViewport(farView))
	require.True(t, f.queue.RunOnce())
	require.Equal(t, 1, f.factory.begins)

	require.NoError(t, f.r.SetViewport(nearView))
	assert.Equal(t, 1, f.factory.ends, "superseded pass closes its scope")

	f.queue.Drain()
	assert.Equal(t, []string{"near0", "near1", "near2"}, names(f.r.Realized()))
	assert.Equal(t, []string{"far0", "far1"}, f.factory.virtualized)
	assert.Equal(t, []Completion{{Realized: 5, Virtualized: 2}}, f.completions)
	assert.Equal(t, 2, f.factory.begins)
	assert.Equal(t, 2, f.factory.ends)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, tenItems())
	f.r.Cancel()
	assert.Equal(t, 0, f.factory.begins)

	require.NoError(t, f.r.SetViewport(farView))
	require.True(t, f.queue.RunOnce())
	f.r.Cancel()
	f.r.Cancel()
	f.queue.Drain()

	assert.Equal(t, 2, f.r.RealizedCount())
	assert.Empty(t, f.completions)
	assert.Equal(t, 1, f.factory.begins)
	assert.Equal(t, 1, f.factory.ends)
	assert.True(t, f.r.Idle())
}

func TestPauseDefersOnePass(t *testing.T) {
	f := newFixture(t, nil)
	f.r.Pause()
	f.r.Pause()
	require.NoError(t, InsertItems(f.idx, tenItems()...))
	require.NoError(t, f.r.SetViewport(nearView))
	assert.Equal(t, 0, f.queue.Len())

	f.r.Resume()
	assert.Equal(t, 0, f.queue.Len())
	f.r.Resume()
	assert.Equal(t, 1, f.queue.Len())

	f.queue.Drain()
	assert.Equal(t, []Completion{{Realized: 3}}, f.completions)
	assert.Panics(t, f.r.Resume)
}

func TestPauseRestartsPassInFlight(t *testing.T) {
	f := newFixture(t, tenItems())
	require.NoError(t, f.r.SetViewport(farView))
	require.True(t, f.queue.RunOnce())

	f.r.Pause()
	assert.Equal(t, f.factory.begins, f.factory.ends)
	f.queue.Drain()
	assert.Empty(t, f.completions)

	f.r.Resume()
	f.queue.Drain()
	assert.Equal(t, 7, f.r.RealizedCount())
	assert.Equal(t, []Completion{{Realized: 7}}, f.completions)
	assert.Equal(t, 2, f.factory.begins)
	assert.Equal(t, 2, f.factory.ends)
}

func TestResumeWithoutInvalidationSchedulesNothing(t *testing.T) {
	f := newFixture(t, tenItems())
	f.r.Pause()
	f.r.Resume()
	assert.Equal(t, 0, f.queue.Len())
}

func TestFailingRealizeAbortsPass(t *testing.T) {
	items := []*testItem{
		{name: "a", bounds: square(0, 0), priority: 3},
		{name: "b", bounds: square(10, 10), priority: 2},
		{name: "c", bounds: square(20, 20), priority: 1},
	}
	f := newFixture(t, items)
	errBroken := errors.New("broken template")
	f.factory.fail["b"] = errBroken

	f.show(t, nearView)
	require.Len(t, f.errs, 1)
	assert.ErrorIs(t, f.errs[0], errBroken)
	assert.Equal(t, []string{"a"}, names(f.r.Realized()))
	assert.Empty(t, f.completions)
	assert.Equal(t, 1, f.factory.begins)
	assert.Equal(t, 1, f.factory.ends)
	assert.Equal(t, 0, f.queue.Len(), "no retry")

	delete(f.factory.fail, "b")
	f.r.Invalidate()
	f.queue.Drain()
	assert.Equal(t, []string{"a", "b", "c"}, names(f.r.Realized()))
	assert.Equal(t, []Completion{{Realized: 3}}, f.completions)
}

func TestPanicClosesScope(t *testing.T) {
	f := newFixture(t, tenItems())
	f.factory.panicOn = "far1"
	require.NoError(t, f.r.SetViewport(farView))
	assert.PanicsWithValue(t, "boom", func() { f.queue.Drain() })
	assert.Equal(t, 1, f.factory.begins)
	assert.Equal(t, 1, f.factory.ends)
	assert.True(t, f.r.Idle())
	assert.Equal(t, []string{"far0"}, names(f.r.Realized()))
}

func TestShouldVirtualizeExempts(t *testing.T) {
	items := tenItems()
	f := newFixture(t, items, WithShouldVirtualize(func(item *testItem, _ *testVisual) bool {
		return item.name != "far3"
	}))
	f.factory.veto["far5"] = true
	f.show(t, farView)
	f.show(t, nearView)

	assert.Equal(t, []string{"far3", "far5", "near0", "near1", "near2"}, names(f.r.Realized()))
	assert.Equal(t, []string{"far0", "far1", "far2", "far4", "far6"}, f.factory.virtualized)
	v, ok := f.r.Visual(items[6])
	require.True(t, ok)
	assert.Same(t, items[6], v.item)
}

func TestInvisibleItemsAreNotRealized(t *testing.T) {
	items := tenItems()
	f := newFixture(t, items)
	items[1].hidden = true
	f.show(t, nearView)
	assert.Equal(t, []string{"near0", "near2"}, names(f.r.Realized()))

	items[0].hidden = true
	f.r.Invalidate()
	f.queue.Drain()
	assert.Equal(t, []string{"near2"}, names(f.r.Realized()))
	assert.Equal(t, []string{"near0"}, f.factory.virtualized)
}

func TestEmptyViewportVirtualizesEverything(t *testing.T) {
	f := newFixture(t, tenItems())
	f.show(t, nearView)
	f.show(t, pquadtree.Empty)
	assert.Equal(t, 0, f.r.RealizedCount())
	assert.Len(t, f.factory.virtualized, 3)
}

func TestWhenIdleRunsInOrder(t *testing.T) {
	f := newFixture(t, tenItems())
	var calls []int
	require.NoError(t, f.r.SetViewport(farView))
	f.r.WhenIdle(func() { calls = append(calls, 1) })
	f.r.WhenIdle(func() { calls = append(calls, 2) })
	require.True(t, f.queue.RunOnce())
	assert.Empty(t, calls)

	f.queue.Drain()
	assert.Equal(t, []int{1, 2}, calls)

	f.r.WhenIdle(func() { calls = append(calls, 3) })
	assert.Equal(t, []int{1, 2}, calls)
	f.queue.Drain()
	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestIndexChangesInvalidate(t *testing.T) {
	items := tenItems()
	f := newFixture(t, items)
	f.show(t, nearView)
	f.completions = nil

	moved := items[4]
	old := moved.bounds
	moved.bounds = square(50, 50)
	ok, err := f.idx.Update(moved, old, moved.bounds, moved.priority)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, f.queue.Len())

	f.queue.Drain()
	assert.Equal(t, []Completion{{Realized: 1, Updated: 1}}, f.completions)
	_, ok = f.r.Visual(moved)
	assert.True(t, ok)

	f.completions = nil
	require.True(t, f.idx.Remove(items[0]))
	f.queue.Drain()
	assert.Equal(t, []Completion{{Virtualized: 1}}, f.completions)
}

func TestMutationDuringCallbackSupersedesPass(t *testing.T) {
	items := tenItems()
	f := newFixture(t, items)
	late := &testItem{name: "late", bounds: square(1, 1), priority: 0}
	f.factory.onRealize = func(item *testItem) {
		if item.name == "near0" {
			f.factory.onRealize = nil
			require.NoError(t, InsertItems(f.idx, late))
		}
	}
	f.show(t, nearView)
	assert.Equal(t, []string{"near0", "near1", "near2", "late"}, names(f.r.Realized()))
	assert.Len(t, f.completions, 1)
	assert.Equal(t, f.factory.begins, f.factory.ends)
}

func TestForceRealize(t *testing.T) {
	items := tenItems()
	f := newFixture(t, items)
	f.factory.skip["near1"] = true
	f.show(t, nearView)
	assert.Equal(t, []string{"near0", "near2"}, names(f.r.Realized()))

	v, ok, err := f.r.ForceRealize(items[1])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, items[1], v.item)
	assert.Equal(t, []string{"near1"}, f.factory.forced)
	assert.Equal(t, f.factory.begins, f.factory.ends)

	again, ok, err := f.r.ForceRealize(items[1])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, v, again)
	assert.Len(t, f.factory.forced, 1)
}

func TestMeasureAndZOrder(t *testing.T) {
	items := tenItems()
	items[0].z = 2
	items[1].z = 1
	items[2].z = 1
	f := newFixture(t, items)
	f.show(t, nearView)

	assert.Equal(t, []string{"near1", "near2", "near0"}, names(f.r.RealizedByZOrder()))
	f.r.Measure()
	f.r.Measure()
	for _, it := range items[:3] {
		assert.Equal(t, 2, it.measured, it.name)
	}
	for _, it := range items[3:] {
		assert.Equal(t, 0, it.measured, it.name)
	}
}

func TestClose(t *testing.T) {
	items := tenItems()
	f := newFixture(t, items)
	require.NoError(t, f.r.SetViewport(farView))
	require.True(t, f.queue.RunOnce())
	f.r.Close()
	f.r.Close()
	f.queue.Drain()
	assert.Equal(t, f.factory.begins, f.factory.ends)

	assert.ErrorIs(t, f.r.SetViewport(nearView), ErrClosed)
	_, _, err := f.r.ForceRealize(items[0])
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, InsertItems(f.idx, &testItem{name: "x", bounds: square(600, 600)}))
	assert.Equal(t, 0, f.queue.Len())
}

func TestNewRejectsBadOptions(t *testing.T) {
	idx, err := pquadtree.New[*testItem](pquadtree.Infinite)
	require.NoError(t, err)
	q := NewQueue()

	_, err = New[*testItem, *testVisual](idx, newTestFactory(), q, WithShouldVirtualize(func(string, int) bool { return true }))
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = New[*testItem, *testVisual](idx, newTestFactory(), q, WithThrottle(throttle.Config{}))
	assert.ErrorIs(t, err, throttle.ErrInvalidConfig)
}

func TestSetViewportRejectsUndefined(t *testing.T) {
	f := newFixture(t, nil)
	err := f.r.SetViewport(pquadtree.Rect{Width: -1})
	assert.ErrorIs(t, err, pquadtree.ErrUndefinedBounds)
	assert.Equal(t, pquadtree.Empty, f.r.Viewport())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)

	f := newFixture(t, tenItems(), WithMetrics(m))
	f.show(t, farView)
	f.show(t, nearView)

	assert.Equal(t, 10.0, testutil.ToFloat64(m.cntRealized))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cntVirtualized))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cntPasses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.gaugeQuantum))
	assert.Equal(t, 5, testutil.CollectAndCount(reg))
}
