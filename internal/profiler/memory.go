package profiler

import (
	"runtime"
	"runtime/metrics"
	"sync/atomic"

	"github.com/prometheus/procfs"
)

// MemorySampler reports the process memory figures attached to checkpoints.
type MemorySampler interface {
	// Current returns live heap bytes.
	Current() uint64
	// Peak returns the highest memory footprint observed so far, in bytes.
	Peak() uint64
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// RuntimeMemory samples the Go runtime heap and the kernel's resident high-water mark.
type RuntimeMemory struct {
	maxSeen atomic.Uint64
}

// NewRuntimeMemory returns a sampler backed by runtime/metrics and /proc/self/status.
func NewRuntimeMemory() *RuntimeMemory {
	return &RuntimeMemory{}
}

// Current reads heap object bytes without stopping the world.
func (r *RuntimeMemory) Current() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)

	var v uint64
	if sample[0].Value.Kind() == metrics.KindUint64 {
		v = sample[0].Value.Uint64()
	}
	for {
		prev := r.maxSeen.Load()
		if v <= prev || r.maxSeen.CompareAndSwap(prev, v) {
			break
		}
	}
	return v
}

// Peak prefers VmHWM from /proc/self/status and falls back to the largest heap
// reading this sampler has returned.
func (r *RuntimeMemory) Peak() uint64 {
	if hwm := residentHighWaterMark(); hwm > 0 {
		return hwm
	}
	if seen := r.maxSeen.Load(); seen > 0 {
		return seen
	}
	return r.Current()
}

func residentHighWaterMark() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	proc, err := procfs.Self()
	if err != nil {
		return 0
	}
	status, err := proc.NewStatus()
	if err != nil {
		return 0
	}
	return status.VmHWM
}
