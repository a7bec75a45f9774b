package router

// FieldForDevice maps a transport device type onto a session measurement
// column. Both blood-pressure device types target the same local field; the
// remote column split is decided per visit at write time.
func FieldForDevice(deviceType string) (string, bool) {
	switch deviceType {
	case "weight":
		return "weight", true
	case "height":
		return "height", true
	case "bp", "bp2":
		return "pressure", true
	case "temp":
		return "temperature", true
	case "pulse":
		return "pulse", true
	default:
		// spo2 and anything unknown has no column; skipped, never fatal.
		return "", false
	}
}

// IsBloodPressure reports whether a device type needs the pressure/pressure2
// tie-break on the remote visit row.
func IsBloodPressure(deviceType string) bool {
	return deviceType == "bp" || deviceType == "bp2"
}
