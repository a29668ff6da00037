// Package domain defines the core domain models for ChatMesh.
package domain

// Relation is the causal relationship between two vector clocks.
type Relation string

// Causal relations as established by VectorClock.Compare.
const (
	// RelationEqual means both clocks describe the same causal history.
	RelationEqual Relation = "EQUAL"

	// RelationBefore means the receiver causally precedes the argument.
	RelationBefore Relation = "BEFORE"

	// RelationAfter means the receiver causally follows the argument.
	RelationAfter Relation = "AFTER"

	// RelationConcurrent means neither clock dominates the other.
	// This is a valid outcome of the partial order, not an error.
	RelationConcurrent Relation = "CONCURRENT"
)

// VectorClock maps a node identifier to a non-negative event counter.
//
// Absent keys implicitly read as 0. All operations return new maps and
// never mutate their receiver or arguments, so clocks can be shared
// across goroutines freely once constructed.
type VectorClock map[string]uint64

// NewVectorClock returns an empty clock.
func NewVectorClock() VectorClock {
	return VectorClock{}
}

// Clone returns an independent copy of the clock.
// A nil receiver clones to an empty clock.
func (c VectorClock) Clone() VectorClock {
	clone := make(VectorClock, len(c))
	for node, counter := range c {
		clone[node] = counter
	}
	return clone
}

// Increment returns a copy of the clock with nodeID's counter raised by 1.
// An absent counter is treated as 0, so the first increment yields 1.
func (c VectorClock) Increment(nodeID string) VectorClock {
	clone := c.Clone()
	clone[nodeID]++
	return clone
}

// Merge returns the pairwise maximum of both clocks over the union of
// their keys. Merge is commutative, associative, and idempotent, which
// makes duplicate delivery of the same clock a no-op.
func (c VectorClock) Merge(other VectorClock) VectorClock {
	merged := c.Clone()
	for node, counter := range other {
		if counter > merged[node] {
			merged[node] = counter
		}
	}
	return merged
}

// Compare returns the causal relation between c and other.
//
// Both dominance directions are computed independently over the union
// of keys with absent entries reading as 0; the result is a partial
// order and callers must treat RelationConcurrent as "no causal
// relationship", not as a failure.
func (c VectorClock) Compare(other VectorClock) Relation {
	cLEQ := dominatedBy(c, other)
	oLEQ := dominatedBy(other, c)

	switch {
	case cLEQ && oLEQ:
		return RelationEqual
	case cLEQ:
		return RelationBefore
	case oLEQ:
		return RelationAfter
	default:
		return RelationConcurrent
	}
}

// dominatedBy reports whether every counter in a is <= the matching
// counter in b, reading absent keys as 0.
func dominatedBy(a, b VectorClock) bool {
	for node, counter := range a {
		if counter > b[node] {
			return false
		}
	}
	return true
}
