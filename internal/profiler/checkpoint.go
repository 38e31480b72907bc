package profiler

import (
	"fmt"
	"time"

	"github.com/szibis/request-toolbar/internal/measure"
)

// CheckpointID names a well-known point in a request's lifecycle.
// Declaration order is the canonical lifecycle order.
type CheckpointID int

const (
	RequestStart CheckpointID = iota
	BeforeServiceProviders
	AfterServiceProviders
	BeforeRouting
	AfterRouting
	BeforeMiddleware
	AfterMiddleware
	BeforeController
	BeforeViewRendering
	AfterViewRendering
	RequestHandled
)

var checkpointNames = [...]string{
	RequestStart:           "request_start",
	BeforeServiceProviders: "before_service_providers",
	AfterServiceProviders:  "after_service_providers",
	BeforeRouting:          "before_routing",
	AfterRouting:           "after_routing",
	BeforeMiddleware:       "before_middleware",
	AfterMiddleware:        "after_middleware",
	BeforeController:       "before_controller",
	BeforeViewRendering:    "before_view_rendering",
	AfterViewRendering:     "after_view_rendering",
	RequestHandled:         "request_handled",
}

// CheckpointIDs returns every checkpoint id in lifecycle order.
func CheckpointIDs() []CheckpointID {
	ids := make([]CheckpointID, len(checkpointNames))
	for i := range checkpointNames {
		ids[i] = CheckpointID(i)
	}
	return ids
}

// ParseCheckpointID looks an id up by its snake_case name.
func ParseCheckpointID(s string) (CheckpointID, error) {
	for i, name := range checkpointNames {
		if name == s {
			return CheckpointID(i), nil
		}
	}
	return 0, fmt.Errorf("profiler: unknown checkpoint %q", s)
}

func (id CheckpointID) String() string {
	if id < 0 || int(id) >= len(checkpointNames) {
		return fmt.Sprintf("checkpoint(%d)", int(id))
	}
	return checkpointNames[id]
}

// MarshalText encodes the id as its snake_case name.
func (id CheckpointID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a snake_case name.
func (id *CheckpointID) UnmarshalText(text []byte) error {
	parsed, err := ParseCheckpointID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Checkpoint is a timestamp plus an optional memory reading taken when a lifecycle event fired.
type Checkpoint struct {
	Time           measure.Measurement  `json:"time"`
	MemoryReal     *measure.Measurement `json:"memory_real,omitempty"`
	MeasuresMemory bool                 `json:"measures_memory"`
}

// NewCheckpoint returns a checkpoint at t with a memory reading in bytes.
func NewCheckpoint(t time.Time, memoryBytes uint64) Checkpoint {
	mem := measure.FromBytes(memoryBytes)
	return Checkpoint{
		Time:           measure.FromTime(t),
		MemoryReal:     &mem,
		MeasuresMemory: true,
	}
}

// TimeOnly returns a checkpoint at t that carries no memory reading.
func TimeOnly(t time.Time) Checkpoint {
	return Checkpoint{Time: measure.FromTime(t)}
}

// ProfileMarker is a user-labelled point recorded from application code.
type ProfileMarker struct {
	Label      string              `json:"label"`
	Time       measure.Measurement `json:"time"`
	MemoryReal measure.Measurement `json:"memory_real"`
}

// ViewRender records the moment a template finished rendering.
type ViewRender struct {
	Name       string              `json:"name"`
	Time       measure.Measurement `json:"time"`
	MemoryReal measure.Measurement `json:"memory_real"`
}
