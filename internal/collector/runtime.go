package collector

import (
	"context"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/szibis/request-toolbar/internal/measure"
)

var processStart = time.Now()

// RuntimeConfig configures the runtime collector.
type RuntimeConfig struct {
	Toggle `yaml:",inline"`
	// MemStats adds a runtime.ReadMemStats sample, which briefly stops the world.
	MemStats bool `yaml:"mem_stats"`
}

// DefaultRuntimeConfig enables the collector without MemStats.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{Toggle: Toggle{Enabled: true}}
}

// RuntimeData is the Go runtime payload.
type RuntimeData struct {
	GoVersion            string               `json:"go_version"`
	OS                   string               `json:"os"`
	Arch                 string               `json:"arch"`
	NumCPU               int                  `json:"num_cpu"`
	GOMAXPROCS           int                  `json:"gomaxprocs"`
	Goroutines           int                  `json:"goroutines"`
	Uptime               measure.Measurement  `json:"uptime"`
	MemoryLimit          *measure.Measurement `json:"memory_limit,omitempty"`
	ContainerMemoryLimit *measure.Measurement `json:"container_memory_limit,omitempty"`
	GOGC                 string               `json:"gogc"`
	HeapAlloc            *measure.Measurement `json:"heap_alloc,omitempty"`
	HeapSys              *measure.Measurement `json:"heap_sys,omitempty"`
	NumGC                *uint32              `json:"num_gc,omitempty"`
}

// RuntimeCollector reports the Go runtime hosting the request.
type RuntimeCollector struct {
	cfg RuntimeConfig
}

// NewRuntimeCollector returns a RuntimeCollector.
func NewRuntimeCollector(cfg RuntimeConfig) *RuntimeCollector {
	return &RuntimeCollector{cfg: cfg}
}

func (c *RuntimeCollector) Key() string    { return KeyRuntime }
func (c *RuntimeCollector) Config() Config { return c.cfg }

func (c *RuntimeCollector) Collect(context.Context, *Manager) (any, error) {
	data := &RuntimeData{
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		Goroutines: runtime.NumGoroutine(),
		Uptime:     measure.FromDuration(time.Since(processStart)),
		GOGC:       gogc(),
	}

	// A negative input reads the limit without changing it.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		m := measure.FromBytes(uint64(limit))
		data.MemoryLimit = &m
	}
	// Absent outside a cgroup; not an error.
	if limit, err := memlimit.FromCgroup(); err == nil && limit > 0 {
		m := measure.FromBytes(limit)
		data.ContainerMemoryLimit = &m
	}

	if c.cfg.MemStats {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		alloc, sys := measure.FromBytes(ms.HeapAlloc), measure.FromBytes(ms.HeapSys)
		numGC := ms.NumGC
		data.HeapAlloc, data.HeapSys, data.NumGC = &alloc, &sys, &numGC
	}
	return data, nil
}

func gogc() string {
	v := strings.TrimSpace(os.Getenv("GOGC"))
	if v == "" {
		return "100"
	}
	return v
}
