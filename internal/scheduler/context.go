package scheduler

import (
	"math"
	"sync/atomic"
)

// PriorityContext is a named bias multiplier for work item priorities.
// Contexts form a tree; a context's effective bias is its own bias multiplied
// by the effective bias of every ancestor.
type PriorityContext struct {
	name   string
	parent *PriorityContext
	bias   atomic.Uint64 // float64 bits
}

// NewContext creates a root context.
func NewContext(name string, bias float64) *PriorityContext {
	c := &PriorityContext{name: name}
	c.SetBias(bias)
	return c
}

// Child creates a context nested below c.
func (c *PriorityContext) Child(name string, bias float64) *PriorityContext {
	child := &PriorityContext{name: name, parent: c}
	child.SetBias(bias)
	return child
}

// Name returns the slash-separated path of the context.
func (c *PriorityContext) Name() string {
	if c.parent == nil {
		return c.name
	}
	return c.parent.Name() + "/" + c.name
}

// Parent returns the enclosing context, or nil for a root.
func (c *PriorityContext) Parent() *PriorityContext {
	return c.parent
}

// LocalBias returns the context's own multiplier.
func (c *PriorityContext) LocalBias() float64 {
	return math.Float64frombits(c.bias.Load())
}

// Bias returns the effective multiplier including all ancestors.
func (c *PriorityContext) Bias() float64 {
	b := 1.0
	for ctx := c; ctx != nil; ctx = ctx.parent {
		b *= ctx.LocalBias()
	}
	return b
}

// SetBias replaces the context's own multiplier. Negative and NaN values are
// stored as zero. Queued items pick the change up on their next re-check.
func (c *PriorityContext) SetBias(bias float64) {
	if math.IsNaN(bias) || bias < 0 {
		bias = 0
	}
	c.bias.Store(math.Float64bits(bias))
}
