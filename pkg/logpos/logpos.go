// Package logpos defines the (index, term) position identifying a
// committed Raft log entry and the last position an engine has applied.
package logpos

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a totally-ordered-by-index pair identifying a committed log
// entry. Term is carried along for verification and snapshot naming but
// does not participate in the ordering comparisons the apply engine makes.
type Position struct {
	Index uint64
	Term  uint64
}

// Zero is the position of an empty, freshly opened backend.
var Zero = Position{Index: 0, Term: 0}

// Less reports whether p is strictly behind other, comparing only Index as
// required by the engine's monotonic-index invariant.
func (p Position) Less(other Position) bool {
	return p.Index < other.Index
}

// Equal reports whether p and other name the same log entry.
func (p Position) Equal(other Position) bool {
	return p.Index == other.Index && p.Term == other.Term
}

// Name renders the snapshot directory name for p under the given prefix,
// e.g. Name("snapshot") -> "snapshot.1048576.7".
func (p Position) Name(prefix string) string {
	return fmt.Sprintf("%s.%d.%d", prefix, p.Index, p.Term)
}

// Parse extracts the (index, term) pair from a snapshot directory name
// built with the given prefix. It returns ok=false for anything that does
// not match "<prefix>.<index>.<term>" with non-negative decimal parts.
func Parse(prefix, name string) (pos Position, ok bool) {
	rest := strings.TrimPrefix(name, prefix+".")
	if rest == name {
		return Position{}, false
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return Position{}, false
	}
	index, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Position{}, false
	}
	term, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return Position{}, false
	}
	return Position{Index: index, Term: term}, true
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Index, p.Term)
}
