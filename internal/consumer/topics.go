package consumer

import "strings"

// Topic filters subscribed at startup.
const (
	// CombinedTopic carries all vitals of one card scan in a single payload.
	CombinedTopic = "clinic/vitals/data"
	// DeviceTopicFilter matches the per-device topics:
	// clinic/{pcucode}/device/{deviceType}/data
	DeviceTopicFilter = "clinic/+/device/+/data"
)

// knownDeviceTypes are the device segments accepted on per-device topics.
// spo2 is accepted at the transport so the router can record it as skipped.
var knownDeviceTypes = map[string]bool{
	"cardreader": true,
	"weight":     true,
	"height":     true,
	"bp":         true,
	"bp2":        true,
	"temp":       true,
	"pulse":      true,
	"spo2":       true,
}

// Route is the parsed shape of an inbound topic.
type Route struct {
	Combined   bool
	PcuCode    string
	DeviceType string
}

// ParseTopic classifies an inbound topic. Unknown topics are dropped by the
// caller.
func ParseTopic(topic string) (Route, bool) {
	if topic == CombinedTopic {
		return Route{Combined: true}, true
	}

	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return Route{}, false
	}
	if parts[0] != "clinic" || parts[2] != "device" || parts[4] != "data" {
		return Route{}, false
	}
	if !knownDeviceTypes[parts[3]] {
		return Route{}, false
	}

	return Route{PcuCode: parts[1], DeviceType: parts[3]}, true
}
