package consumer

import (
	"sort"
	"sync"
	"time"
)

// DeviceState is the last observed activity of one physical device.
type DeviceState struct {
	DeviceType string    `json:"device_type"`
	PcuCode    string    `json:"pcucode"`
	LastSeen   time.Time `json:"last_seen"`
	Messages   int64     `json:"messages"`
}

// DeviceRegistry tracks the devices feeding this station, keyed by
// pcucode/deviceType. Purely observational: routing never consults it.
type DeviceRegistry struct {
	mu      sync.Mutex
	devices map[string]*DeviceState
}

// NewDeviceRegistry creates an empty device registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*DeviceState),
	}
}

// Observe records one message from a device.
func (r *DeviceRegistry) Observe(pcucode, deviceType string) {
	key := pcucode + "/" + deviceType

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.devices[key]
	if !ok {
		state = &DeviceState{DeviceType: deviceType, PcuCode: pcucode}
		r.devices[key] = state
	}
	state.LastSeen = time.Now()
	state.Messages++
}

// Snapshot returns a stable copy of all known devices.
func (r *DeviceRegistry) Snapshot() []DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DeviceState, 0, len(r.devices))
	for _, state := range r.devices {
		out = append(out, *state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PcuCode != out[j].PcuCode {
			return out[i].PcuCode < out[j].PcuCode
		}
		return out[i].DeviceType < out[j].DeviceType
	})
	return out
}
