package session

import "time"

const (
	fieldDeviceType   = "deviceType"
	fieldBrowser      = "browser"
	fieldOS           = "os"
	fieldIPAddress    = "ipAddress"
	fieldLocation     = "location"
	fieldLastActivity = "lastActivity"
)

// activityLayout keeps sub-second precision so sessions opened in the same
// second still sort deterministically.
const activityLayout = time.RFC3339Nano

func encodeMetadata(m Metadata) []interface{} {
	return []interface{}{
		fieldDeviceType, m.DeviceType,
		fieldBrowser, m.Browser,
		fieldOS, m.OS,
		fieldIPAddress, m.IPAddress,
		fieldLocation, m.Location,
		fieldLastActivity, formatActivity(m.LastActivity),
	}
}

func decodeMetadata(fields map[string]string) Metadata {
	return Metadata{
		DeviceType:   fields[fieldDeviceType],
		Browser:      fields[fieldBrowser],
		OS:           fields[fieldOS],
		IPAddress:    fields[fieldIPAddress],
		Location:     fields[fieldLocation],
		LastActivity: parseActivity(fields[fieldLastActivity]),
	}
}

// decodeFlatMetadata reads the flat field/value list returned by HGETALL
// inside a script.
func decodeFlatMetadata(flat []interface{}) (Metadata, bool) {
	if len(flat) < 2 {
		return Metadata{}, false
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}
	return decodeMetadata(fields), true
}

func formatActivity(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(activityLayout)
}

func parseActivity(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(activityLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
