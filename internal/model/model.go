// Package model holds the device model: the tree of Components and
// DataItems that describes a piece of manufacturing equipment, plus the
// synthetic Agent Device that represents the agent itself.
package model

import "fmt"

// Category is the data item's category.
type Category string

const (
	CategoryEvent     Category = "EVENT"
	CategorySample    Category = "SAMPLE"
	CategoryCondition Category = "CONDITION"
)

// Representation describes how a data item's observations are shaped.
type Representation string

const (
	RepresentationValue    Representation = "VALUE"
	RepresentationDataSet  Representation = "DATA_SET"
	RepresentationTimeSeries Representation = "TIME_SERIES"
)

// ConstraintKind distinguishes the three constraint shapes a data item can carry.
type ConstraintKind int

const (
	ConstraintNone ConstraintKind = iota
	ConstraintEnum
	ConstraintRange
	ConstraintFilter
)

// Constraint restricts the values a data item's observations may take.
type Constraint struct {
	Kind ConstraintKind

	// Enum: the set of allowed string values.
	Enum []string

	// Range: [Minimum, Maximum] for numeric values.
	Minimum, Maximum float64

	// Filter: minimum delta from the previous numeric value required to
	// accept a new observation.
	MinimumDelta float64
}

// DataItem is a single named, typed channel on a device or the agent.
type DataItem struct {
	ID             string
	Type           string
	Category       Category
	Units          string
	Representation Representation
	Constraint     *Constraint
	ComponentID    string // non-owning back-reference, resolved via the model

	// ConstantValue, when non-nil, means this data item never receives
	// runtime observations — its value is fixed at model-build time
	// (e.g. ADAPTER_URI).
	ConstantValue *string
}

// IsDataSet reports whether this item uses DATA_SET representation.
func (d *DataItem) IsDataSet() bool {
	return d.Representation == RepresentationDataSet
}

// Component is a node in the device tree: either a Device (root) or a
// nested element such as "Adapters" or "Adapter".
type Component struct {
	ID         string
	Name       string
	Type       string // element-type tag, e.g. "Device", "Adapters", "Adapter", "Axes"
	Children   []*Component
	DataItems  []*DataItem
	parent     *Component
}

// AddChild appends a child component, wiring its parent pointer.
func (c *Component) AddChild(child *Component) {
	child.parent = c
	c.Children = append(c.Children, child)
}

// AddDataItem appends a data item, owning it and setting its component back-reference.
func (c *Component) AddDataItem(item *DataItem) {
	item.ComponentID = c.ID
	c.DataItems = append(c.DataItems, item)
}

// Parent returns the owning component, or nil for the root.
func (c *Component) Parent() *Component {
	return c.parent
}

// Walk visits c and every descendant, depth-first, pre-order.
func (c *Component) Walk(fn func(*Component)) {
	fn(c)
	for _, child := range c.Children {
		child.Walk(fn)
	}
}

// Device is the root Component for one piece of equipment (or the agent itself).
type Device struct {
	*Component
}

// NewDevice creates a device root component with the given id and name.
func NewDevice(id, name, elementType string) *Device {
	return &Device{Component: &Component{ID: id, Name: name, Type: elementType}}
}

// errDuplicateID is returned by Model.AddDevice and
// Model.AddAdapterComponent when two data items share an id.
type errDuplicateID struct {
	id string
}

func (e *errDuplicateID) Error() string {
	return fmt.Sprintf("duplicate data item id: %q", e.id)
}
