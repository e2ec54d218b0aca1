package buffer

import (
	"errors"
	"sync"

	"github.com/snarg/mtc-agent/internal/observation"
)

// ErrOutOfRange is returned when a sequence number has already been
// evicted (or never existed), i.e. it falls before first_sequence.
var ErrOutOfRange = errors.New("sequence out of range")

// Buffer is a fixed-capacity ring of observations addressable by sequence
// number, with an always-current checkpoint and periodic anchored
// checkpoints for fast historical reconstruction.
//
// Writers (ingestion workers) serialize through mu. Readers take the
// same lock for the duration of a single call and copy data out before
// releasing, per the reader-writer discipline spec §5 describes; Go's
// sync.Mutex does not distinguish shared readers from the single writer
// here because every read also touches the anchor map, so a plain mutex
// is used rather than sync.RWMutex.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity            int
	checkpointFrequency int

	ring          []observation.Observation
	firstSequence uint64
	nextSequence  uint64

	latest  *Checkpoint
	anchors map[uint64]*Checkpoint // sequence -> checkpoint taken immediately after that append

	// base folds every observation evicted before first_sequence, in
	// order. It is the seed CheckpointAt falls back to once eviction has
	// deleted every anchor at or below the requested sequence, so a
	// checkpoint built from surviving state still agrees with a
	// from-scratch replay (spec §8 property 2).
	base *Checkpoint
}

// New returns an empty buffer with the given capacity and checkpoint
// frequency (anchors are taken every checkpointFrequency appends).
func New(capacity, checkpointFrequency int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	if checkpointFrequency <= 0 {
		checkpointFrequency = capacity
	}
	b := &Buffer{
		capacity:            capacity,
		checkpointFrequency: checkpointFrequency,
		ring:                make([]observation.Observation, capacity),
		// An empty buffer has first_sequence == next_sequence == 1: no
		// sequence has been issued yet, so sequence 0 (never issued)
		// must not read as in-range.
		firstSequence: 1,
		nextSequence:  1,
		latest:        NewCheckpoint(),
		anchors:       make(map[uint64]*Checkpoint),
		base:          NewCheckpoint(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Append assigns the next sequence number to o, stores it, evicts the
// oldest observation if the buffer is full, folds it into the latest
// checkpoint, takes an anchored checkpoint every checkpointFrequency
// appends, and wakes any goroutines waiting in Wait.
func (b *Buffer) Append(o observation.Observation) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.nextSequence
	o.Sequence = seq
	b.nextSequence++

	willEvict := b.nextSequence-b.firstSequence > uint64(b.capacity)
	var evictedSeq uint64
	var evicted observation.Observation
	if willEvict {
		// Read the slot about to be overwritten before writing seq's
		// observation into the ring, since capacity 1 means they share
		// the same slot.
		evictedSeq = b.firstSequence
		evicted = b.ring[int(evictedSeq%uint64(b.capacity))]
	}

	b.ring[int(seq%uint64(b.capacity))] = o

	if willEvict {
		b.base.Apply(evicted)
		b.firstSequence++
		delete(b.anchors, evictedSeq)
	}

	b.latest.Apply(o)

	if seq%uint64(b.checkpointFrequency) == 0 {
		b.anchors[seq] = b.latest.Clone()
	}

	b.cond.Broadcast()
	return seq
}

// Get returns the observation stored at sequence, or false if it falls
// outside [first_sequence, next_sequence).
func (b *Buffer) Get(sequence uint64) (observation.Observation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getLocked(sequence)
}

func (b *Buffer) getLocked(sequence uint64) (observation.Observation, bool) {
	if sequence < b.firstSequence || sequence >= b.nextSequence {
		return observation.Observation{}, false
	}
	return b.ring[int(sequence%uint64(b.capacity))], true
}

// Range returns at most count consecutive observations starting at
// max(from, first_sequence), plus the sequence following the last
// returned observation (suitable as the next call's from).
func (b *Buffer) Range(from uint64, count int) (result []observation.Observation, nextFrom uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := from
	if start < b.firstSequence {
		start = b.firstSequence
	}
	if count <= 0 {
		return nil, start
	}

	end := start + uint64(count)
	if end > b.nextSequence {
		end = b.nextSequence
	}
	for s := start; s < end; s++ {
		o, ok := b.getLocked(s)
		if !ok {
			break
		}
		result = append(result, o)
	}
	return result, start + uint64(len(result))
}

// CheckpointAt locates the nearest anchored checkpoint at or before
// sequence, clones it, and replays observations through sequence to
// produce the exact state visible to an observer who has seen exactly
// 1..sequence. It fails with ErrOutOfRange if sequence has already been
// evicted.
func (b *Buffer) CheckpointAt(sequence uint64) (*Checkpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sequence < b.firstSequence {
		return nil, ErrOutOfRange
	}
	if sequence >= b.nextSequence {
		sequence = b.nextSequence - 1
	}

	anchorSeq, anchor := b.nearestAnchor(sequence)
	cp := anchor.Clone()
	for s := anchorSeq + 1; s <= sequence; s++ {
		o, ok := b.getLocked(s)
		if !ok {
			continue
		}
		cp.Apply(o)
	}
	return cp, nil
}

func (b *Buffer) nearestAnchor(sequence uint64) (uint64, *Checkpoint) {
	var best uint64
	var bestCP *Checkpoint
	for seq, cp := range b.anchors {
		if seq <= sequence && seq >= best {
			best, bestCP = seq, cp
		}
	}
	if bestCP != nil {
		return best, bestCP
	}
	// No surviving anchor covers sequence: every anchor at or below it
	// was deleted on eviction. Fall back to the running base checkpoint,
	// which already folds every observation evicted before
	// first_sequence, so replay only needs to cover
	// [first_sequence, sequence]. first_sequence is never 0 (New seeds
	// it at 1), so this subtraction never underflows.
	return b.firstSequence - 1, b.base.Clone()
}

// Latest returns a cloned snapshot of the always-current checkpoint.
func (b *Buffer) Latest() *Checkpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Clone()
}

// LatestValue returns the most recent observation recorded for a single
// data item, without cloning the whole checkpoint. Used by the pipeline's
// filter constraint, which only needs one previous scalar value.
func (b *Buffer) LatestValue(dataItemID string) (observation.Observation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Get(dataItemID)
}

// FirstSequence returns the oldest retained sequence number.
func (b *Buffer) FirstSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstSequence
}

// NextSequence returns one past the newest stored sequence number.
func (b *Buffer) NextSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSequence
}

// Wait blocks until the next Append call, or until cancel is closed.
// Streaming sessions use this as their single suspension point.
func (b *Buffer) Wait(cancel <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		select {
		case <-cancel:
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	b.mu.Lock()
	// The goroutine above broadcasts under mu, so a cancel closed before
	// this point is seen here rather than broadcast to no waiter.
	select {
	case <-cancel:
		b.mu.Unlock()
		return
	default:
	}
	b.cond.Wait()
	b.mu.Unlock()
}
