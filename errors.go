package pquadtree

import "github.com/pkg/errors"

var (
	// ErrUndefinedBounds is returned when a rectangle passed to the index has
	// NaN coordinates, a non-finite top or left edge, or a negative size.
	ErrUndefinedBounds = errors.New("bounds are not defined")

	// ErrInvalidOption is returned by New for out of range options.
	ErrInvalidOption = errors.New("invalid index option")
)

func checkBounds(op string, r Rect) error {
	if !r.IsDefined() {
		return errors.Wrapf(ErrUndefinedBounds, "%s %v", op, r)
	}
	return nil
}
