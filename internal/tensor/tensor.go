// Package tensor provides dense row-major n-dimensional arrays for the data side
// of the loader. It only covers what sample assembly and batch collation need:
// construction, fill, element access and stacking along a new leading axis.
package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when tensors with different shapes are stacked.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Element is the set of element types a Dense tensor may hold.
type Element interface {
	~float32 | ~int64 | ~bool
}

// Dense is a row-major n-dimensional array. A zero-rank tensor (empty Shape)
// holds exactly one element.
type Dense[T Element] struct {
	Shape []int `json:"shape"`
	Data  []T   `json:"data"`
}

type (
	Float32 = Dense[float32]
	Int64   = Dense[int64]
	Bool    = Dense[bool]
)

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New returns a zero-filled tensor of the given shape.
func New[T Element](shape ...int) *Dense[T] {
	s := make([]int, len(shape))
	copy(s, shape)
	return &Dense[T]{Shape: s, Data: make([]T, Numel(s))}
}

// Full returns a tensor of the given shape with every element set to v.
func Full[T Element](v T, shape ...int) *Dense[T] {
	t := New[T](shape...)
	t.Fill(v)
	return t
}

// Scalar returns a zero-rank tensor holding v.
func Scalar[T Element](v T) *Dense[T] {
	return &Dense[T]{Shape: []int{}, Data: []T{v}}
}

// FromSlice wraps data with the given shape. It panics if the sizes disagree.
func FromSlice[T Element](data []T, shape ...int) *Dense[T] {
	if Numel(shape) != len(data) {
		panic(fmt.Sprintf("tensor: %d elements do not fit shape %v", len(data), shape))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Dense[T]{Shape: s, Data: data}
}

// Fill sets every element to v.
func (t *Dense[T]) Fill(v T) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// Rank returns the number of dimensions.
func (t *Dense[T]) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of dimension i.
func (t *Dense[T]) Dim(i int) int {
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *Dense[T]) Clone() *Dense[T] {
	out := New[T](t.Shape...)
	copy(out.Data, t.Data)
	return out
}

// offset converts a multi-index into a flat offset.
func (t *Dense[T]) offset(idx []int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match shape %v", len(idx), t.Shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.Shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.Shape))
		}
		off = off*t.Shape[i] + v
	}
	return off
}

// At returns the element at the given multi-index.
func (t *Dense[T]) At(idx ...int) T {
	return t.Data[t.offset(idx)]
}

// Set stores v at the given multi-index.
func (t *Dense[T]) Set(v T, idx ...int) {
	t.Data[t.offset(idx)] = v
}

// Row returns a view of the i-th slice along the leading axis.
func (t *Dense[T]) Row(i int) []T {
	if len(t.Shape) == 0 {
		panic("tensor: Row on scalar")
	}
	stride := Numel(t.Shape[1:])
	return t.Data[i*stride : (i+1)*stride]
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Stack joins tensors of identical shape along a new leading axis.
func Stack[T Element](parts []*Dense[T]) (*Dense[T], error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("stack: no tensors")
	}
	inner := parts[0].Shape
	for i, p := range parts[1:] {
		if !SameShape(inner, p.Shape) {
			return nil, fmt.Errorf("%w: part %d has shape %v, want %v", ErrShapeMismatch, i+1, p.Shape, inner)
		}
	}
	shape := append([]int{len(parts)}, inner...)
	out := New[T](shape...)
	stride := Numel(inner)
	for i, p := range parts {
		copy(out.Data[i*stride:], p.Data)
	}
	return out, nil
}

// StackRows builds a [len(rows), width] tensor from equal-length rows.
func StackRows[T Element](rows [][]T, width int) (*Dense[T], error) {
	out := New[T](len(rows), width)
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("%w: row %d has %d elements, want %d", ErrShapeMismatch, i, len(r), width)
		}
		copy(out.Data[i*width:], r)
	}
	return out, nil
}
