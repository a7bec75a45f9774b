package consumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  Route
		ok    bool
	}{
		{"combined", "clinic/vitals/data", Route{Combined: true}, true},
		{"weight", "clinic/10001/device/weight/data", Route{PcuCode: "10001", DeviceType: "weight"}, true},
		{"cardreader", "clinic/10001/device/cardreader/data", Route{PcuCode: "10001", DeviceType: "cardreader"}, true},
		{"bp2", "clinic/10001/device/bp2/data", Route{PcuCode: "10001", DeviceType: "bp2"}, true},
		{"spo2 accepted", "clinic/10001/device/spo2/data", Route{PcuCode: "10001", DeviceType: "spo2"}, true},
		{"unknown device", "clinic/10001/device/glucose/data", Route{}, false},
		{"wrong prefix", "hospital/10001/device/weight/data", Route{}, false},
		{"wrong suffix", "clinic/10001/device/weight/status", Route{}, false},
		{"too short", "clinic/10001/weight", Route{}, false},
		{"too long", "clinic/10001/device/weight/data/extra", Route{}, false},
		{"empty", "", Route{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTopic(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceRegistry(t *testing.T) {
	r := NewDeviceRegistry()

	r.Observe("10001", "weight")
	r.Observe("10001", "weight")
	r.Observe("10001", "cardreader")
	r.Observe("10002", "bp")

	snapshot := r.Snapshot()
	assert.Len(t, snapshot, 3)

	// Sorted by pcucode then device type.
	assert.Equal(t, "cardreader", snapshot[0].DeviceType)
	assert.Equal(t, "weight", snapshot[1].DeviceType)
	assert.Equal(t, int64(2), snapshot[1].Messages)
	assert.Equal(t, "10002", snapshot[2].PcuCode)
	assert.False(t, snapshot[1].LastSeen.IsZero())
}
