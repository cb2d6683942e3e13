package pquadtree

import (
	"math"
	"strconv"
)

// Rect is an axis-aligned rectangle given by its top-left corner and size.
type Rect struct {
	Left, Top, Width, Height float64
}

var (
	// Empty is the zero-area rectangle at the origin. Items with Empty bounds
	// are held outside the tree and match every intersection query.
	Empty = Rect{}

	// Infinite extends to infinity in all directions. It contains and
	// intersects every defined rectangle other than Empty.
	Infinite = Rect{
		Left:   math.Inf(-1),
		Top:    math.Inf(-1),
		Width:  math.Inf(+1),
		Height: math.Inf(+1),
	}
)

// IsEmpty reports whether r is exactly the Empty sentinel.
func (r Rect) IsEmpty() bool {
	return r == Empty
}

// IsInfinite reports whether r is exactly the Infinite sentinel.
func (r Rect) IsInfinite() bool {
	return r == Infinite
}

// IsDefined reports whether r can be stored in or used to query an index.
func (r Rect) IsDefined() bool {
	if math.IsNaN(r.Left) || math.IsNaN(r.Top) || math.IsNaN(r.Width) || math.IsNaN(r.Height) {
		return false
	}
	return r.Left < math.Inf(+1) && r.Top < math.Inf(+1) && r.Width >= 0 && r.Height >= 0
}

// Right is the x coordinate of the right edge.
func (r Rect) Right() float64 {
	if math.IsInf(r.Width, +1) {
		return math.Inf(+1)
	}
	return r.Left + r.Width
}

// Bottom is the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 {
	if math.IsInf(r.Height, +1) {
		return math.Inf(+1)
	}
	return r.Top + r.Height
}

// Area is the width times the height.
func (r Rect) Area() float64 {
	return r.Width * r.Height
}

func (r Rect) isFinite() bool {
	return !math.IsInf(r.Left, 0) && !math.IsInf(r.Top, 0) &&
		!math.IsInf(r.Width, 0) && !math.IsInf(r.Height, 0)
}

// Intersects reports whether r and o overlap, edges included. Empty
// intersects nothing.
func (r Rect) Intersects(o Rect) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return overlapX(r, o) && overlapY(r, o)
}

func overlapX(a, b Rect) bool {
	if math.IsInf(a.Width, +1) || math.IsInf(b.Width, +1) {
		return true
	}
	return a.Left <= b.Right() && a.Right() >= b.Left
}

func overlapY(a, b Rect) bool {
	if math.IsInf(a.Height, +1) || math.IsInf(b.Height, +1) {
		return true
	}
	return a.Top <= b.Bottom() && a.Bottom() >= b.Top
}

// Contains reports whether o lies entirely within r, edges included.
func (r Rect) Contains(o Rect) bool {
	if r.IsInfinite() {
		return true
	}
	containsX := math.IsInf(r.Width, +1) || (o.Left >= r.Left && o.Right() <= r.Right())
	containsY := math.IsInf(r.Height, +1) || (o.Top >= r.Top && o.Bottom() <= r.Bottom())
	return containsX && containsY
}

// Union gives the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	left := math.Min(r.Left, o.Left)
	top := math.Min(r.Top, o.Top)
	return Rect{
		Left:   left,
		Top:    top,
		Width:  extent(left, math.Max(r.Right(), o.Right())),
		Height: extent(top, math.Max(r.Bottom(), o.Bottom())),
	}
}

func extent(min, max float64) float64 {
	if math.IsInf(max, +1) {
		return math.Inf(+1)
	}
	return max - min
}

// quarters splits r into its top-left, top-right, bottom-left and
// bottom-right halves, in that order.
func (r Rect) quarters() [4]Rect {
	w := r.Width / 2
	h := r.Height / 2
	return [4]Rect{
		{Left: r.Left, Top: r.Top, Width: w, Height: h},
		{Left: r.Left + w, Top: r.Top, Width: w, Height: h},
		{Left: r.Left, Top: r.Top + h, Width: w, Height: h},
		{Left: r.Left + w, Top: r.Top + h, Width: w, Height: h},
	}
}

func (r Rect) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return "(" + f(r.Left) + "," + f(r.Top) + "," + f(r.Width) + "," + f(r.Height) + ")"
}
