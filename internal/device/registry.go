// Package device enumerates accelerator devices at startup and assigns
// each serving worker a stable device index.
package device

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Kind is the hardware class of a device.
type Kind string

const (
	KindCPU Kind = "cpu"
	KindGPU Kind = "gpu"
)

// Device is an opaque handle to a compute device, identified by a stable
// index into the fixed list determined at startup.
type Device struct {
	Index int
	Kind  Kind
	Name  string
}

// nvidiaProcDir lists one subdirectory per visible NVIDIA GPU.
const nvidiaProcDir = "/proc/driver/nvidia/gpus"

// Discover returns the fixed device list for the process lifetime.
// override > 0 forces that many generic devices (used on TPU-style hosts
// where the accelerator set is known out of band). Probe failure is not
// fatal: the fallback is a single CPU device.
func Discover(override int, log zerolog.Logger) []Device {
	if override > 0 {
		devices := make([]Device, override)
		for i := range devices {
			devices[i] = Device{Index: i, Kind: KindGPU, Name: fmt.Sprintf("accelerator:%d", i)}
		}
		log.Info().Int("count", override).Msg("using configured device count")
		return devices
	}

	entries, err := os.ReadDir(nvidiaProcDir)
	if err == nil && len(entries) > 0 {
		devices := make([]Device, 0, len(entries))
		for i, e := range entries {
			devices = append(devices, Device{Index: i, Kind: KindGPU, Name: "gpu:" + e.Name()})
		}
		log.Info().Int("count", len(devices)).Msg("found GPU devices")
		return devices
	}
	if err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("device probe failed, falling back to CPU")
	} else {
		log.Info().Msg("no accelerator found, falling back to CPU")
	}
	return []Device{{Index: 0, Kind: KindCPU, Name: "cpu:0"}}
}

// Registry hands out stable device indices to workers, round-robin on
// first touch. Distribution is even across workers as they arrive, not
// as load varies: there is no rebalancing and no removal.
type Registry struct {
	devices []Device

	mu       sync.Mutex // guards assigned on first touch only
	assigned map[uint64]int
	cache    sync.Map // workerID -> device index, lock-free fast path
}

// NewRegistry wraps a fixed device list. The list must be non-empty.
func NewRegistry(devices []Device) *Registry {
	if len(devices) == 0 {
		panic("device: empty device list")
	}
	return &Registry{
		devices:  devices,
		assigned: make(map[uint64]int),
	}
}

// Devices returns the fixed device list.
func (r *Registry) Devices() []Device { return r.devices }

// Count returns the number of devices.
func (r *Registry) Count() int { return len(r.devices) }

// Assign returns the stable device index for workerID. The first call
// for a worker assigns next_available_index mod device_count under the
// assignment lock; subsequent calls hit the cache without locking.
func (r *Registry) Assign(workerID uint64) int {
	if v, ok := r.cache.Load(workerID); ok {
		return v.(int)
	}
	r.mu.Lock()
	index, ok := r.assigned[workerID]
	if !ok {
		index = len(r.assigned) % len(r.devices)
		r.assigned[workerID] = index
	}
	r.mu.Unlock()
	r.cache.Store(workerID, index)
	return index
}
