// Package profiler records request lifecycle checkpoints and derives timed stages from them.
package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/szibis/request-toolbar/internal/measure"
)

// Ledger stores the checkpoints and profile markers of one request.
// Hosts create one per request; Default exists for code that cannot thread a context.
type Ledger struct {
	mu           sync.Mutex
	clock        func() time.Time
	memory       MemorySampler
	checkpoints  map[CheckpointID]Checkpoint
	markers      []ProfileMarker
	views        []ViewRender
	duplicates   []CheckpointID
	latestMemory *Checkpoint
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now as the source of synthesized timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithMemorySampler replaces the runtime memory sampler.
func WithMemorySampler(s MemorySampler) Option {
	return func(l *Ledger) { l.memory = s }
}

// NewLedger returns an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		clock:       time.Now,
		checkpoints: make(map[CheckpointID]Checkpoint),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.memory == nil {
		l.memory = NewRuntimeMemory()
	}
	return l
}

// Now returns a checkpoint for the current instant with a live memory reading.
func (l *Ledger) Now() Checkpoint {
	return NewCheckpoint(l.clock(), l.memory.Current())
}

// Record stores cp under id. When cp is omitted a checkpoint is synthesized from
// the clock and memory sampler. The first recording of an id wins: later calls
// leave the stored checkpoint untouched and return false.
func (l *Ledger) Record(id CheckpointID, cp ...Checkpoint) bool {
	var c Checkpoint
	if len(cp) > 0 {
		c = cp[0]
	} else {
		c = l.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.checkpoints[id]; ok {
		l.duplicates = append(l.duplicates, id)
		return false
	}
	l.checkpoints[id] = c
	if c.MeasuresMemory && c.MemoryReal != nil {
		l.latestMemory = &c
	}
	return true
}

// Profile appends a labelled marker at the current instant.
func (l *Ledger) Profile(label string) {
	m := ProfileMarker{
		Label:      label,
		Time:       measure.FromTime(l.clock()),
		MemoryReal: measure.FromBytes(l.memory.Current()),
	}
	l.mu.Lock()
	l.markers = append(l.markers, m)
	l.mu.Unlock()
}

// RecordViewRender notes a finished template render. The first render also
// records BeforeViewRendering.
func (l *Ledger) RecordViewRender(name string) {
	now := l.Now()
	l.mu.Lock()
	first := len(l.views) == 0
	l.views = append(l.views, ViewRender{Name: name, Time: now.Time, MemoryReal: *now.MemoryReal})
	l.mu.Unlock()

	if first {
		l.Record(BeforeViewRendering, now)
	}
}

// FirstViewRender returns the earliest recorded render.
func (l *Ledger) FirstViewRender() (ViewRender, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.views) == 0 {
		return ViewRender{}, false
	}
	return l.views[0], true
}

// LastViewRender returns the most recent render.
func (l *Ledger) LastViewRender() (ViewRender, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.views) == 0 {
		return ViewRender{}, false
	}
	return l.views[len(l.views)-1], true
}

// Checkpoint looks up a recorded checkpoint.
func (l *Ledger) Checkpoint(id CheckpointID) (Checkpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.checkpoints[id]
	return c, ok
}

// Markers returns a copy of the profile markers in recording order.
func (l *Ledger) Markers() []ProfileMarker {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ProfileMarker, len(l.markers))
	copy(out, l.markers)
	return out
}

// Duplicates returns the ids whose repeated recordings were dropped.
func (l *Ledger) Duplicates() []CheckpointID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CheckpointID, len(l.duplicates))
	copy(out, l.duplicates)
	return out
}

// CurrentMemoryUsage returns the memory reading of the latest memory-measuring
// checkpoint, or nil when none has been recorded.
func (l *Ledger) CurrentMemoryUsage() *measure.Measurement {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latestMemory == nil {
		return nil
	}
	m := *l.latestMemory.MemoryReal
	return &m
}

// SampleMemory returns a live memory reading without touching ledger state.
func (l *Ledger) SampleMemory() measure.Measurement {
	return measure.FromBytes(l.memory.Current())
}

// PeakMemory returns the sampler's peak memory figure.
func (l *Ledger) PeakMemory() measure.Measurement {
	return measure.FromBytes(l.memory.Peak())
}

// Reset clears checkpoints, markers, view renders and the memory pointer.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

func (l *Ledger) resetLocked() {
	clear(l.checkpoints)
	l.markers = nil
	l.views = nil
	l.duplicates = nil
	l.latestMemory = nil
}

// ledgerState is a detached copy of a ledger's contents.
type ledgerState struct {
	checkpoints map[CheckpointID]Checkpoint
	markers     []ProfileMarker
	views       []ViewRender
	duplicates  []CheckpointID
}

// drain copies the ledger contents and resets it in one step.
func (l *Ledger) drain() ledgerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := ledgerState{
		checkpoints: make(map[CheckpointID]Checkpoint, len(l.checkpoints)),
		markers:     l.markers,
		views:       l.views,
		duplicates:  l.duplicates,
	}
	for k, v := range l.checkpoints {
		st.checkpoints[k] = v
	}
	l.resetLocked()
	return st
}

var defaultLedger = NewLedger()

// Default returns the process-wide ledger. Code that records on it without a
// request context must bracket each unit of work with Begin and End.
func Default() *Ledger { return defaultLedger }

// Begin clears the process-wide ledger at the start of a unit of work.
func Begin() { defaultLedger.Reset() }

// End clears the process-wide ledger once its unit of work has been reported.
func End() { defaultLedger.Reset() }

// Record stores a checkpoint on the process-wide ledger.
func Record(id CheckpointID, cp ...Checkpoint) bool {
	return defaultLedger.Record(id, cp...)
}

// Profile adds a marker to the process-wide ledger.
func Profile(label string) {
	defaultLedger.Profile(label)
}

type ctxKey struct{}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *Ledger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the ledger carried by ctx, or the process-wide ledger.
func FromContext(ctx context.Context) *Ledger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Ledger); ok && l != nil {
			return l
		}
	}
	return defaultLedger
}
