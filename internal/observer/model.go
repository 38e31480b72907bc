package observer

import (
	"sync"

	"github.com/szibis/request-toolbar/internal/measure"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// ActionRetrieved is the only model action currently tracked.
const ActionRetrieved = "retrieved"

// ModelEntry aggregates hydrations of one model type.
type ModelEntry struct {
	Model      string              `json:"model"`
	Action     string              `json:"action"`
	Count      int64               `json:"count"`
	MemoryUsed measure.Measurement `json:"memory_used"`
}

// ModelObserver counts hydrated models and the memory attributed to them.
type ModelObserver struct {
	ledger *profiler.Ledger

	mu            sync.Mutex
	currentMemory float64
	hasMemory     bool
	entries       []*ModelEntry
	index         map[string]*ModelEntry
}

// NewModelObserver returns an observer that reads memory from ledger.
func NewModelObserver(ledger *profiler.Ledger) *ModelObserver {
	if ledger == nil {
		ledger = profiler.Default()
	}
	return &ModelObserver{ledger: ledger, index: make(map[string]*ModelEntry)}
}

// Hydrated records count instances of model being loaded. Memory grown since the
// previous event is attributed to model.
func (o *ModelObserver) Hydrated(model string, count int64) {
	if model == "" || count <= 0 {
		return
	}
	now := o.ledger.SampleMemory().Value

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.hasMemory {
		if cur := o.ledger.CurrentMemoryUsage(); cur != nil {
			o.currentMemory, _ = cur.In(measure.Bytes)
		} else {
			o.currentMemory = now
		}
		o.hasMemory = true
	}
	delta := now - o.currentMemory

	e, ok := o.index[model]
	if !ok {
		e = &ModelEntry{Model: model, Action: ActionRetrieved, MemoryUsed: measure.New(delta, measure.Bytes)}
		o.index[model] = e
		o.entries = append(o.entries, e)
	} else {
		e.MemoryUsed.Value += delta
	}
	e.Count += count
	o.currentMemory = now

	modelsHydratedTotal.WithLabelValues(model).Add(float64(count))
}

// Entries returns a copy of the aggregated entries in first-seen order.
func (o *ModelObserver) Entries() []ModelEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ModelEntry, len(o.entries))
	for i, e := range o.entries {
		out[i] = *e
	}
	return out
}

// Reset discards all entries and the memory reference point.
func (o *ModelObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = nil
	o.index = make(map[string]*ModelEntry)
	o.currentMemory = 0
	o.hasMemory = false
}
