package buildevents

import (
	"strings"
	"time"
)

type Kind string

const (
	KindBuildStart  Kind = "build-start"
	KindCommand     Kind = "command"
	KindStdout      Kind = "stdout"
	KindStderr      Kind = "stderr"
	KindStateChange Kind = "state-change"
)

// State is the lifecycle state of a deployment as reported by state-change events.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateAnalyzing    State = "ANALYZING"
	StateBuilding     State = "BUILDING"
	StateDeploying    State = "DEPLOYING"
	StateReady        State = "READY"
	StateError        State = "ERROR"
)

var stateOrder = map[State]int{
	StateInitializing: 0,
	StateAnalyzing:    1,
	StateBuilding:     2,
	StateDeploying:    3,
	StateReady:        4,
	StateError:        4,
}

func (s State) Terminal() bool {
	return s == StateReady || s == StateError
}

// Advance returns the state that follows s after observing next.
// Known states never move backwards; unknown values are transient and always accepted.
func (s State) Advance(next State) State {
	if s.Terminal() {
		return s
	}
	cur, curKnown := stateOrder[s]
	nxt, nextKnown := stateOrder[next]
	if curKnown && nextKnown && nxt < cur {
		return s
	}
	return next
}

type Payload struct {
	Text  string `json:"text,omitempty"`
	Value State  `json:"value,omitempty"`
}

// Event is a single item of a deployment's ordered build event sequence.
type Event struct {
	Position  int64
	Kind      Kind
	Payload   Payload
	Timestamp time.Time
}

func (e *Event) IsText() bool {
	switch e.Kind {
	case KindBuildStart, KindCommand, KindStdout, KindStderr:
		return true
	}
	return false
}

// trimNewline strips a single leading and a single trailing newline.
func trimNewline(s string) string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	return s
}
