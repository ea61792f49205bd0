package pipeline

import (
	"time"

	"registro/internal/core"
	"registro/internal/diff"
)

// State is the orchestrator's position in a recomputation.
type State int

const (
	Idle State = iota
	Querying
	Aggregating
	Diffing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Querying:
		return "querying"
	case Aggregating:
		return "aggregating"
	case Diffing:
		return "diffing"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Update is what subscribers receive after every completed run. A failed
// run carries Err and the last good snapshot with an empty diff.
type Update struct {
	Generation uint64         `json:"generation"`
	Snapshot   *core.Snapshot `json:"snapshot"`
	Diff       diff.Result    `json:"diff"`
	Err        error          `json:"-"`
	At         time.Time      `json:"at"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Running        bool        `json:"running"`
	State          State       `json:"state"`
	Window         core.Window `json:"window"`
	Kind           core.Kind   `json:"kind"`
	Generation     uint64      `json:"generation"`
	Published      uint64      `json:"published_generation"`
	Recomputations uint64      `json:"recomputations"`
	Discarded      uint64      `json:"discarded"`
	LastError      string      `json:"last_error,omitempty"`
	Subscribers    int         `json:"subscribers"`
}
