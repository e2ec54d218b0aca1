// Package buffer implements the circular sequence-numbered observation
// store and the checkpoints derived from it.
package buffer

import "github.com/snarg/mtc-agent/internal/observation"

// Checkpoint is a mapping from data-item id to the latest relevant
// observation for that data item, as of some sequence number. For
// DATA_SET items the stored observation already carries the fully
// merged state (see observation.DataSet), so applying a checkpoint
// never needs to look further back than the one stored observation.
type Checkpoint struct {
	sequence uint64
	items    map[string]observation.Observation
}

// NewCheckpoint returns an empty checkpoint.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{items: make(map[string]observation.Observation)}
}

// Sequence returns the sequence number this checkpoint reflects: the
// highest sequence number that has been applied to it.
func (c *Checkpoint) Sequence() uint64 {
	if c == nil {
		return 0
	}
	return c.sequence
}

// Get returns the latest observation recorded for a data item.
func (c *Checkpoint) Get(dataItemID string) (observation.Observation, bool) {
	if c == nil {
		return observation.Observation{}, false
	}
	o, ok := c.items[dataItemID]
	return o, ok
}

// Items returns every data item id currently represented.
func (c *Checkpoint) Items() map[string]observation.Observation {
	out := make(map[string]observation.Observation, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// Clone returns an independent deep-enough copy: the map is copied, the
// observation values themselves are immutable once inserted except for
// the DataSet pointer, which is cloned too so a replay against the copy
// can never mutate the original's state.
func (c *Checkpoint) Clone() *Checkpoint {
	clone := &Checkpoint{sequence: c.sequence, items: make(map[string]observation.Observation, len(c.items))}
	for id, o := range c.items {
		if o.DataSet != nil {
			o.DataSet = o.DataSet.Clone()
		}
		clone.items[id] = o
	}
	return clone
}

// Apply folds a single observation into the checkpoint: it simply
// replaces the prior entry for that data item, since DATA_SET merge has
// already happened upstream and the observation carries the merged
// snapshot. The entry is replaced unconditionally, whatever its
// sequence; the checkpoint's own Sequence only moves forward. Append
// and replay both call Apply in increasing sequence order, so the
// replacement is always a forward update.
func (c *Checkpoint) Apply(o observation.Observation) {
	c.items[o.DataItemID] = o
	if o.Sequence > c.sequence {
		c.sequence = o.Sequence
	}
}
