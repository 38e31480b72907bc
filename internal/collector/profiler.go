package collector

import (
	"context"

	"github.com/szibis/request-toolbar/internal/logging"
	"github.com/szibis/request-toolbar/internal/measure"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// ProfilerConfig configures the stage timeline collector.
type ProfilerConfig struct {
	Toggle `yaml:",inline"`
	// Substages includes the spans between profile markers.
	Substages bool `yaml:"substages"`
}

// DefaultProfilerConfig enables the collector with substages.
func DefaultProfilerConfig() ProfilerConfig {
	return ProfilerConfig{Toggle: Toggle{Enabled: true}, Substages: true}
}

// ProfilerData is the timeline payload.
type ProfilerData struct {
	TotalWallTime        measure.Measurement      `json:"total_wall_time"`
	TotalRealMemory      measure.Measurement      `json:"total_real_memory"`
	TotalAllocatedMemory measure.Measurement      `json:"total_allocated_memory"`
	Stages               []profiler.Stage         `json:"stages"`
	Markers              []profiler.ProfileMarker `json:"markers"`
	Substages            []profiler.Substage      `json:"substages,omitempty"`
	ViewRenders          []profiler.ViewRender    `json:"view_renders,omitempty"`
	DuplicateCheckpoints []profiler.CheckpointID  `json:"duplicate_checkpoints,omitempty"`
}

// ProfilerCollector derives the request stages from the manager's ledger.
// Derivation resets the ledger.
type ProfilerCollector struct {
	cfg ProfilerConfig
}

// NewProfilerCollector returns a ProfilerCollector.
func NewProfilerCollector(cfg ProfilerConfig) *ProfilerCollector {
	return &ProfilerCollector{cfg: cfg}
}

func (c *ProfilerCollector) Key() string    { return KeyProfiler }
func (c *ProfilerCollector) Config() Config { return c.cfg }

// Collect derives the timeline. Missing boundaries and gaps or overlaps are returned as errors.
func (c *ProfilerCollector) Collect(_ context.Context, m *Manager) (any, error) {
	tl, err := m.ledger().DeriveStages()
	if err != nil {
		return nil, err
	}

	if len(tl.DuplicateCheckpoints) > 0 {
		ids := make([]string, len(tl.DuplicateCheckpoints))
		for i, id := range tl.DuplicateCheckpoints {
			ids[i] = id.String()
		}
		logging.Warn("duplicate checkpoint recordings dropped", logging.F(
			"snapshot_id", m.ID,
			"checkpoints", ids,
		))
	}

	data := &ProfilerData{
		TotalWallTime:        tl.TotalWallTime,
		TotalRealMemory:      tl.TotalRealMemory,
		TotalAllocatedMemory: tl.PeakMemory,
		Stages:               tl.Stages,
		Markers:              tl.Markers,
		ViewRenders:          tl.ViewRenders,
		DuplicateCheckpoints: tl.DuplicateCheckpoints,
	}
	if c.cfg.Substages {
		data.Substages = tl.Substages
	}
	return data, nil
}
