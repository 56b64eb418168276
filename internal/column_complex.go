package internal

import (
	"io"

	"github.com/lychee-technology/strata"
)

// ComplexColumn holds opaque objects that were materialized at load time.
type ComplexColumn struct {
	columnBase
	typeName string
	values   strata.Indexed[any]
	closed   bool
}

// NewComplexColumn takes the buffer directly; unlike numeric columns there is no supplier.
func NewComplexColumn(typeName string, values strata.Indexed[any]) (*ComplexColumn, error) {
	if values == nil {
		return nil, strata.NewNotAvailableError("complex buffer")
	}
	return &ComplexColumn{
		columnBase: columnBase{caps: strata.ColumnCapabilities{Type: strata.ValueTypeComplex}},
		typeName:   typeName,
		values:     values,
	}, nil
}

func (c *ComplexColumn) AsComplex() (strata.ComplexColumn, error) {
	if c.closed {
		return nil, strata.NewNotAvailableError("closed complex column")
	}
	return &complexView{typeName: c.typeName, values: c.values}, nil
}

func (c *ComplexColumn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.values.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type complexView struct {
	typeName string
	values   strata.Indexed[any]
}

func (v *complexView) Length() int { return v.values.Len() }

func (v *complexView) TypeName() string { return v.typeName }

// Get returns the stored object itself, not a copy.
func (v *complexView) Get(row int) (any, error) {
	if err := checkRow(row, v.values.Len()); err != nil {
		return nil, err
	}
	return v.values.Get(row), nil
}

// Close is a no-op; the buffer belongs to the column.
func (v *complexView) Close() error { return nil }
