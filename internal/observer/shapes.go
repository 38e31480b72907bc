package observer

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/bits-and-blooms/bloom/v3"
)

// Shape tracker sizing for the process-wide default.
const (
	DefaultExpectedShapes    = 100_000
	DefaultShapeFalsePosRate = 0.001
)

// ShapeTracker remembers raw SQL shapes across requests. Membership uses a
// Bloom filter, so a new shape is occasionally reported as seen. The distinct
// count is a HyperLogLog estimate.
type ShapeTracker struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	sketch *hyperloglog.Sketch
	n      uint
	fpr    float64
}

// NewShapeTracker returns a tracker sized for expected shapes at fpr.
func NewShapeTracker(expected uint, fpr float64) *ShapeTracker {
	return &ShapeTracker{
		filter: bloom.NewWithEstimates(expected, fpr),
		sketch: hyperloglog.New(),
		n:      expected,
		fpr:    fpr,
	}
}

var defaultShapes = NewShapeTracker(DefaultExpectedShapes, DefaultShapeFalsePosRate)

// DefaultShapes returns the process-wide tracker used when QueryConfig.Shapes is nil.
func DefaultShapes() *ShapeTracker { return defaultShapes }

// Observe records sql and reports whether its shape was new to the process.
func (t *ShapeTracker) Observe(sql string) bool {
	key := []byte(sql)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sketch.Insert(key)
	if t.filter.Test(key) {
		return false
	}
	t.filter.Add(key)
	return true
}

// Estimate returns the approximate number of distinct shapes observed.
// Estimate may mutate the sketch, so it takes the write lock.
func (t *ShapeTracker) Estimate() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sketch.Estimate()
}

// Reset forgets every shape.
func (t *ShapeTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filter = bloom.NewWithEstimates(t.n, t.fpr)
	t.sketch = hyperloglog.New()
}
