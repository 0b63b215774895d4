package report

import "fmt"

// CheckpointType identifies the kind of event a checkpoint records.
type CheckpointType int

const (
	TypeStart CheckpointType = iota + 1
	TypeEnd
	TypeAbort
	TypeInput
	TypeOutput
	TypeInfo
	TypeThreadCreatepoint
	TypeThreadStart
	TypeThreadEnd
)

var typeNames = map[CheckpointType]string{
	TypeStart:             "Startpoint",
	TypeEnd:               "Endpoint",
	TypeAbort:             "Abortpoint",
	TypeInput:             "Inputpoint",
	TypeOutput:            "Outputpoint",
	TypeInfo:              "Infopoint",
	TypeThreadCreatepoint: "ThreadCreatepoint",
	TypeThreadStart:       "ThreadStartpoint",
	TypeThreadEnd:         "ThreadEndpoint",
}

// String returns the display name used in report text and exports.
func (t CheckpointType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CheckpointType(%d)", int(t))
}

// Valid reports whether t is one of the known checkpoint types.
func (t CheckpointType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseCheckpointType is the inverse of CheckpointType.String.
func ParseCheckpointType(s string) (CheckpointType, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown checkpoint type %q", s)
}

// Opens reports whether the type raises the nesting level. A THREAD_START
// opens a level like START does: the thread's checkpoints sit one level
// deeper than the checkpoint that forked it, until its THREAD_END.
func (t CheckpointType) Opens() bool {
	return t == TypeStart || t == TypeThreadStart
}

// Closes reports whether the type lowers the nesting level.
func (t CheckpointType) Closes() bool {
	return t == TypeEnd || t == TypeAbort || t == TypeThreadEnd
}

// Stubbable reports whether a checkpoint of this type can take its message
// from an original report during a rerun.
func (t CheckpointType) Stubbable() bool {
	return t == TypeStart || t == TypeInput
}

// Stub is the per-checkpoint stub disposition.
type Stub int

const (
	// StubFollowReport defers to the report's StubStrategy.
	StubFollowReport Stub = iota
	StubNo
	StubYes
)

// StubStrategy is the report-wide default for stubbing during a rerun.
type StubStrategy string

const (
	// StubStrategyDefault stubs startpoints and inputpoints.
	StubStrategyDefault StubStrategy = "Default"
	StubStrategyNever   StubStrategy = "Never"
	StubStrategyAlways  StubStrategy = "Always"
)

// Valid reports whether s is a known strategy. The empty strategy is treated
// as StubStrategyDefault.
func (s StubStrategy) Valid() bool {
	switch s {
	case "", StubStrategyDefault, StubStrategyNever, StubStrategyAlways:
		return true
	}
	return false
}
