package session

import "time"

// Metadata describes the device a session was opened from.
type Metadata struct {
	DeviceType   string
	Browser      string
	OS           string
	IPAddress    string
	Location     string
	LastActivity time.Time
}

// Session is one live session of a user. SessionID equals the token id of
// the refresh token the session belongs to.
type Session struct {
	SessionID string
	Metadata
}
