package profiler

import (
	"errors"
	"fmt"
	"math"

	"github.com/szibis/request-toolbar/internal/measure"
)

var (
	// ErrMissingBoundary is wrapped by MissingBoundaryError.
	ErrMissingBoundary = errors.New("profiler: missing stage boundary")
	// ErrTimelineInconsistency is wrapped by TimelineError.
	ErrTimelineInconsistency = errors.New("profiler: timeline inconsistency")
)

// tilingTolerance is the slack, in milliseconds, allowed between the summed
// stage wall times and the elapsed wall clock.
const tilingTolerance = 1e-6

// StageDefinition bounds a stage by two checkpoint ids.
type StageDefinition struct {
	Label         string
	Start         CheckpointID
	End           CheckpointID
	Color         string
	FilesInvolved []string
}

// DefaultStages is the stage table used by DeriveStages.
var DefaultStages = []StageDefinition{
	{Label: "Bootstrapping", Start: RequestStart, End: BeforeServiceProviders, Color: "#FC3D46", FilesInvolved: []string{"cmd/*/main.go"}},
	{Label: "Booting service providers", Start: BeforeServiceProviders, End: AfterServiceProviders, Color: "#FF9C4D", FilesInvolved: []string{"internal/providers/*.go"}},
	{Label: "Middleware in", Start: AfterServiceProviders, End: BeforeController, Color: "#FFD53D", FilesInvolved: []string{"internal/middleware/*.go"}},
	{Label: "Controller", Start: BeforeController, End: BeforeViewRendering, Color: "#64BAFF"},
	{Label: "View rendering", Start: BeforeViewRendering, End: AfterViewRendering, Color: "#85F1BF"},
	{Label: "Middleware out", Start: AfterViewRendering, End: AfterMiddleware, Color: "#FFD53D", FilesInvolved: []string{"internal/middleware/*.go"}},
	{Label: "Preparing response", Start: AfterMiddleware, End: RequestHandled, Color: "#8D76FF"},
}

// Property is a stage measurement with its share of the request total.
type Property struct {
	Measurement measure.Measurement `json:"measurement"`
	Percentage  float64             `json:"percentage"`
}

// Stage is one derived span of the request timeline.
type Stage struct {
	Label           string       `json:"label"`
	Color           string       `json:"color"`
	FilesInvolved   []string     `json:"files_involved,omitempty"`
	StartID         CheckpointID `json:"start_id"`
	EndID           CheckpointID `json:"end_id"`
	Start           *Checkpoint  `json:"start"`
	End             *Checkpoint  `json:"end"`
	RecordedStart   bool         `json:"recorded_start"`
	RecordedEnd     bool         `json:"recorded_end"`
	WallTime        Property     `json:"wall_time"`
	MemoryRealDelta Property     `json:"memory_real_delta"`
}

// Substage is the span between two consecutive profile markers, labelled by the earlier one.
type Substage struct {
	Label           string        `json:"label"`
	Start           ProfileMarker `json:"start"`
	End             ProfileMarker `json:"end"`
	WallTime        Property      `json:"wall_time"`
	MemoryRealDelta Property      `json:"memory_real_delta"`
}

// Timeline is the result of one stage derivation.
type Timeline struct {
	Stages               []Stage             `json:"stages"`
	Markers              []ProfileMarker     `json:"markers"`
	Substages            []Substage          `json:"substages"`
	ViewRenders          []ViewRender        `json:"view_renders,omitempty"`
	DuplicateCheckpoints []CheckpointID      `json:"duplicate_checkpoints,omitempty"`
	TotalWallTime        measure.Measurement `json:"total_wall_time"`
	TotalRealMemory      measure.Measurement `json:"total_real_memory"`
	PeakMemory           measure.Measurement `json:"peak_memory"`
}

// MissingBoundaryError reports a stage that could not be placed on the timeline.
type MissingBoundaryError struct {
	Stage    string
	Boundary CheckpointID
}

func (e *MissingBoundaryError) Error() string {
	return fmt.Sprintf("profiler: stage %q has no end and no later stage recorded one (missing %s)", e.Stage, e.Boundary)
}

func (e *MissingBoundaryError) Unwrap() error { return ErrMissingBoundary }

// InconsistencyKind distinguishes holes from double counting.
type InconsistencyKind string

const (
	// Gap means the summed stage times fall short of the elapsed wall clock.
	Gap InconsistencyKind = "gap"
	// Overlap means the summed stage times exceed the elapsed wall clock.
	Overlap InconsistencyKind = "overlap"
)

// TimelineError reports stages that do not tile the observed wall clock.
type TimelineError struct {
	Kind        InconsistencyKind
	Stage       string
	Discrepancy measure.Measurement
}

func (e *TimelineError) Error() string {
	return fmt.Sprintf("profiler: wall time %s detected at stage %q, discrepancy: %s", e.Kind, e.Stage, e.Discrepancy)
}

func (e *TimelineError) Unwrap() error { return ErrTimelineInconsistency }

// DeriveStages converts the recorded checkpoints into DefaultStages.
// The ledger is reset whether or not derivation succeeds.
func (l *Ledger) DeriveStages() (*Timeline, error) {
	return l.DeriveStagesFrom(DefaultStages)
}

// DeriveStagesFrom converts the recorded checkpoints into the stages of defs.
//
// A stage without a recorded end borrows the end of the nearest later stage that
// recorded one. A stage without a recorded start then starts at its own end.
// Stage wall times must add up to the time elapsed since the first stage started,
// otherwise a TimelineError names the first stage where they diverge.
func (l *Ledger) DeriveStagesFrom(defs []StageDefinition) (*Timeline, error) {
	peak := l.PeakMemory()
	st := l.drain()

	tl := &Timeline{
		Stages:               []Stage{},
		Markers:              st.markers,
		ViewRenders:          st.views,
		DuplicateCheckpoints: st.duplicates,
		TotalWallTime:        measure.New(0, measure.Milliseconds),
		TotalRealMemory:      measure.New(0, measure.Bytes),
		PeakMemory:           peak,
	}
	if tl.Markers == nil {
		tl.Markers = []ProfileMarker{}
	}

	if len(st.checkpoints) > 0 && len(defs) > 0 {
		stages, err := reconcile(defs, st.checkpoints)
		if err != nil {
			recordTimelineError(err)
			return nil, err
		}
		if err := checkTiling(stages); err != nil {
			recordTimelineError(err)
			return nil, err
		}
		tl.Stages = stages
	}

	var totalWall, totalMem float64
	for _, s := range tl.Stages {
		totalWall += s.WallTime.Measurement.Value
		totalMem += s.MemoryRealDelta.Measurement.Value
	}
	tl.TotalWallTime.Value = totalWall
	tl.TotalRealMemory.Value = totalMem

	for i := range tl.Stages {
		s := &tl.Stages[i]
		s.WallTime.Percentage = measure.Percentage(s.WallTime.Measurement.Value, totalWall)
		s.MemoryRealDelta.Percentage = measure.Percentage(s.MemoryRealDelta.Measurement.Value, totalMem)
		observeStage(s)
	}

	tl.Substages = substages(tl.Markers, totalWall, totalMem)
	return tl, nil
}

func reconcile(defs []StageDefinition, checkpoints map[CheckpointID]Checkpoint) ([]Stage, error) {
	stages := make([]Stage, len(defs))
	for i, d := range defs {
		s := Stage{
			Label:         d.Label,
			Color:         d.Color,
			FilesInvolved: d.FilesInvolved,
			StartID:       d.Start,
			EndID:         d.End,
		}
		if cp, ok := checkpoints[d.Start]; ok {
			s.Start = &cp
			s.RecordedStart = true
		}
		if cp, ok := checkpoints[d.End]; ok {
			s.End = &cp
			s.RecordedEnd = true
		}
		stages[i] = s
	}

	for i := range stages {
		s := &stages[i]
		if !s.RecordedEnd {
			next := nextRecordedEnd(stages, i)
			if next < 0 {
				return nil, &MissingBoundaryError{Stage: s.Label, Boundary: s.EndID}
			}
			s.End = stages[next].End
		}
		if !s.RecordedStart {
			s.Start = s.End
		}
		s.WallTime = Property{Measurement: elapsed(s.Start.Time, s.End.Time)}
		s.MemoryRealDelta = Property{Measurement: memoryDelta(s.Start, s.End)}
	}
	return stages, nil
}

func nextRecordedEnd(stages []Stage, from int) int {
	for j := from + 1; j < len(stages); j++ {
		if stages[j].RecordedEnd {
			return j
		}
	}
	return -1
}

func checkTiling(stages []Stage) error {
	if len(stages) == 0 {
		return nil
	}
	origin := stages[0].Start.Time
	var sum float64
	for _, s := range stages {
		sum += s.WallTime.Measurement.Value
		observed := elapsed(origin, s.End.Time).Value
		diff := observed - sum
		switch {
		case diff > tilingTolerance:
			return &TimelineError{Kind: Gap, Stage: s.Label, Discrepancy: measure.New(diff, measure.Milliseconds)}
		case diff < -tilingTolerance:
			return &TimelineError{Kind: Overlap, Stage: s.Label, Discrepancy: measure.New(-diff, measure.Milliseconds)}
		}
	}
	return nil
}

// elapsed returns end - start in milliseconds.
func elapsed(start, end measure.Measurement) measure.Measurement {
	s, errS := start.In(measure.Microseconds)
	e, errE := end.In(measure.Microseconds)
	if errS != nil || errE != nil {
		return measure.New(math.NaN(), measure.Milliseconds)
	}
	return measure.New((e-s)/1e3, measure.Milliseconds)
}

func memoryDelta(start, end *Checkpoint) measure.Measurement {
	if !start.MeasuresMemory || !end.MeasuresMemory || start.MemoryReal == nil || end.MemoryReal == nil {
		return measure.New(0, measure.Bytes)
	}
	return bytesBetween(*start.MemoryReal, *end.MemoryReal)
}

func bytesBetween(start, end measure.Measurement) measure.Measurement {
	s, errS := start.In(measure.Bytes)
	e, errE := end.In(measure.Bytes)
	if errS != nil || errE != nil {
		return measure.New(0, measure.Bytes)
	}
	return measure.New(e-s, measure.Bytes)
}

func substages(markers []ProfileMarker, totalWall, totalMem float64) []Substage {
	if len(markers) < 2 {
		return []Substage{}
	}
	out := make([]Substage, 0, len(markers)-1)
	for i := 0; i+1 < len(markers); i++ {
		start, end := markers[i], markers[i+1]
		wall := elapsed(start.Time, end.Time)
		mem := bytesBetween(start.MemoryReal, end.MemoryReal)
		out = append(out, Substage{
			Label:           start.Label,
			Start:           start,
			End:             end,
			WallTime:        Property{Measurement: wall, Percentage: measure.Percentage(wall.Value, totalWall)},
			MemoryRealDelta: Property{Measurement: mem, Percentage: measure.Percentage(mem.Value, totalMem)},
		})
	}
	return out
}
