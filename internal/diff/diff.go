// Package diff computes the edit script that turns one display list into
// the next.
//
// Ops are applied in order, each against the list produced by the ones
// before it. Scripts start with removals (highest index first), followed by
// moves, inserts and content changes. Entries keep their identity across
// lists through core.EntryKey, so an edited record produces a Change rather
// than a Remove and an Insert. Survivors on the longest run whose relative
// order is unchanged are never moved.
package diff

import (
	"errors"
	"fmt"
	"strconv"

	"registro/internal/core"
)

var ErrInvalidScript = errors.New("invalid edit script")

type OpKind int

const (
	OpRemove OpKind = iota
	OpInsert
	OpMove
	OpChange
)

func (k OpKind) String() string {
	switch k {
	case OpRemove:
		return "remove"
	case OpInsert:
		return "insert"
	case OpMove:
		return "move"
	case OpChange:
		return "change"
	}
	return "op(" + strconv.Itoa(int(k)) + ")"
}

func (k OpKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Op is one edit. Index is the position acted on: the removed, inserted or
// changed slot, or the destination of a move. From is only set for moves.
type Op struct {
	Kind  OpKind     `json:"op"`
	Index int        `json:"index"`
	From  int        `json:"from,omitempty"`
	Entry core.Entry `json:"entry,omitempty"`
}

// Result is an ordered edit script.
type Result struct {
	Ops []Op `json:"ops"`
}

// Counts tallies a script by op kind.
type Counts struct {
	Removed  int `json:"removed"`
	Inserted int `json:"inserted"`
	Moved    int `json:"moved"`
	Changed  int `json:"changed"`
}

// Empty reports whether the two lists were already equal.
func (r Result) Empty() bool { return len(r.Ops) == 0 }

func (r Result) Counts() Counts {
	var c Counts
	for _, op := range r.Ops {
		switch op.Kind {
		case OpRemove:
			c.Removed++
		case OpInsert:
			c.Inserted++
		case OpMove:
			c.Moved++
		case OpChange:
			c.Changed++
		}
	}
	return c
}

// keys returns the identity of every entry. Repeated identities get an
// occurrence suffix so each key is unique within its list.
func keys(entries []core.Entry) []string {
	seen := make(map[string]int, len(entries))
	out := make([]string, len(entries))
	for i, e := range entries {
		k := core.EntryKey(e)
		n := seen[k]
		seen[k] = n + 1
		if n > 0 {
			k += "#" + strconv.Itoa(n)
		}
		out[i] = k
	}
	return out
}

// Compute returns the script transforming prev into next.
func Compute(prev, next []core.Entry) Result {
	prevKeys := keys(prev)
	nextKeys := keys(next)

	target := make(map[string]int, len(next))
	for j, k := range nextKeys {
		target[k] = j
	}

	var ops []Op

	// cur mirrors the list as ops are applied.
	type slot struct {
		key   string
		entry core.Entry
	}
	cur := make([]slot, 0, len(prev))
	for i := range prev {
		if _, ok := target[prevKeys[i]]; ok {
			cur = append(cur, slot{key: prevKeys[i], entry: prev[i]})
		}
	}
	for i := len(prev) - 1; i >= 0; i-- {
		if _, ok := target[prevKeys[i]]; !ok {
			ops = append(ops, Op{Kind: OpRemove, Index: i})
		}
	}

	seq := make([]int, len(cur))
	for i, s := range cur {
		seq[i] = target[s.key]
	}
	stable := make(map[string]bool, len(cur))
	for _, i := range longestIncreasing(seq) {
		stable[cur[i].key] = true
	}

	inPrev := make(map[string]bool, len(cur))
	for _, s := range cur {
		inPrev[s.key] = true
	}

	position := func(key string) int {
		for i, s := range cur {
			if s.key == key {
				return i
			}
		}
		return -1
	}

	// Walk next backwards, placing each entry right before its successor.
	for j := len(next) - 1; j >= 0; j-- {
		key := nextKeys[j]
		anchor := len(cur)
		if j+1 < len(next) {
			anchor = position(nextKeys[j+1])
		}

		if !inPrev[key] {
			cur = append(cur, slot{})
			copy(cur[anchor+1:], cur[anchor:])
			cur[anchor] = slot{key: key, entry: next[j]}
			ops = append(ops, Op{Kind: OpInsert, Index: anchor, Entry: next[j]})
			continue
		}

		p := position(key)
		if !stable[key] {
			to := anchor
			if p < anchor {
				to = anchor - 1
			}
			if p != to {
				s := cur[p]
				cur = append(cur[:p], cur[p+1:]...)
				cur = append(cur, slot{})
				copy(cur[to+1:], cur[to:])
				cur[to] = s
				ops = append(ops, Op{Kind: OpMove, From: p, Index: to})
			}
			p = to
		}

		if !core.EntryEqual(cur[p].entry, next[j]) {
			cur[p].entry = next[j]
			ops = append(ops, Op{Kind: OpChange, Index: p, Entry: next[j]})
		}
	}

	return Result{Ops: ops}
}

// longestIncreasing returns the indexes of one longest strictly increasing
// subsequence of seq, in ascending order.
func longestIncreasing(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}
	// tails[k] is the index of the smallest tail of an increasing run of
	// length k+1.
	tails := make([]int, 0, len(seq))
	parent := make([]int, len(seq))
	for i, v := range seq {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < v {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			parent[i] = tails[lo-1]
		} else {
			parent[i] = -1
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}

	out := make([]int, len(tails))
	for k, i := len(tails)-1, tails[len(tails)-1]; k >= 0; k, i = k-1, parent[i] {
		out[k] = i
	}
	return out
}

// Apply runs the script against a copy of prev.
func Apply(prev []core.Entry, r Result) ([]core.Entry, error) {
	out := make([]core.Entry, len(prev))
	copy(out, prev)

	for n, op := range r.Ops {
		switch op.Kind {
		case OpRemove:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("%w: op %d removes %d of %d", ErrInvalidScript, n, op.Index, len(out))
			}
			out = append(out[:op.Index], out[op.Index+1:]...)
		case OpInsert:
			if op.Index < 0 || op.Index > len(out) {
				return nil, fmt.Errorf("%w: op %d inserts at %d of %d", ErrInvalidScript, n, op.Index, len(out))
			}
			out = append(out, nil)
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = op.Entry
		case OpMove:
			if op.From < 0 || op.From >= len(out) || op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("%w: op %d moves %d to %d of %d", ErrInvalidScript, n, op.From, op.Index, len(out))
			}
			e := out[op.From]
			out = append(out[:op.From], out[op.From+1:]...)
			out = append(out, nil)
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = e
		case OpChange:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("%w: op %d changes %d of %d", ErrInvalidScript, n, op.Index, len(out))
			}
			out[op.Index] = op.Entry
		default:
			return nil, fmt.Errorf("%w: op %d has kind %s", ErrInvalidScript, n, op.Kind)
		}
	}
	return out, nil
}
