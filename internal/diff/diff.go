// Package diff computes identity-preserving edit scripts between two
// independently edited ordered vertex lists. It performs no I/O: callers
// supply lengths and a match predicate and apply the script themselves.
package diff

import "fmt"

// Kind is the action an Op applies.
type Kind int

const (
	// Keep pairs an old element with an equal new element.
	Keep Kind = iota
	// Move pairs an old element with a new element at a different position
	// value. The old element's identity survives.
	Move
	// Insert introduces a new element with no old counterpart.
	Insert
	// Remove drops an old element with no new counterpart.
	Remove
)

func (k Kind) String() string {
	switch k {
	case Keep:
		return "keep"
	case Move:
		return "move"
	case Insert:
		return "insert"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op is one step of a Script. Old is -1 for Insert, New is -1 for Remove.
type Op struct {
	Kind Kind
	Old  int
	New  int
}

func (o Op) String() string {
	return fmt.Sprintf("%s(%d,%d)", o.Kind, o.Old, o.New)
}

// Script is an ordered edit script. Old and New indices both increase
// monotonically through the script.
type Script []Op

// MatchFunc reports whether old element oldIdx and new element newIdx are the
// same vertex.
type MatchFunc func(oldIdx, newIdx int) bool

// Compute walks both sequences in step. At a mismatch it scans forward in the
// new sequence for the current old element and in the old sequence for the
// current new element. The nearer anchor wins: elements strictly before a new
// anchor are insertions, elements strictly before an old anchor are removals.
// With no anchor on either side the old element is paired with the new one as
// a Move. Whatever remains past the shorter sequence is inserted or removed.
func Compute(oldLen, newLen int, match MatchFunc) Script {
	script := make(Script, 0, max(oldLen, newLen))
	i, j := 0, 0

	for j < oldLen && i < newLen {
		if match(j, i) {
			script = append(script, Op{Kind: Keep, Old: j, New: i})
			i++
			j++
			continue
		}

		k := scanNew(j, i+1, newLen, match)
		l := scanOld(i, j+1, oldLen, match)

		switch {
		case k >= 0 && (l < 0 || k-i <= l-j):
			for ; i < k; i++ {
				script = append(script, Op{Kind: Insert, Old: -1, New: i})
			}
		case l >= 0:
			for ; j < l; j++ {
				script = append(script, Op{Kind: Remove, Old: j, New: -1})
			}
		default:
			script = append(script, Op{Kind: Move, Old: j, New: i})
			i++
			j++
		}
	}

	for ; i < newLen; i++ {
		script = append(script, Op{Kind: Insert, Old: -1, New: i})
	}
	for ; j < oldLen; j++ {
		script = append(script, Op{Kind: Remove, Old: j, New: -1})
	}

	return script
}

// scanNew finds the first new index >= from that matches old element j.
func scanNew(j, from, newLen int, match MatchFunc) int {
	for k := from; k < newLen; k++ {
		if match(j, k) {
			return k
		}
	}
	return -1
}

// scanOld finds the first old index >= from that matches new element i.
func scanOld(i, from, oldLen int, match MatchFunc) int {
	for l := from; l < oldLen; l++ {
		if match(l, i) {
			return l
		}
	}
	return -1
}

// Structural reports whether the script inserts or removes anything.
func (s Script) Structural() bool {
	for _, op := range s {
		if op.Kind == Insert || op.Kind == Remove {
			return true
		}
	}
	return false
}

// Changed reports whether the script does anything other than Keep.
func (s Script) Changed() bool {
	for _, op := range s {
		if op.Kind != Keep {
			return true
		}
	}
	return false
}

// Count returns the number of ops of the given kind.
func (s Script) Count(k Kind) int {
	n := 0
	for _, op := range s {
		if op.Kind == k {
			n++
		}
	}
	return n
}
