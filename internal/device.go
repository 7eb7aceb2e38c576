package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeviceFingerprint hashes the coarse device identity of a session. Two
// sessions from the same device type, browser and OS share a fingerprint.
func DeviceFingerprint(deviceType, browser, os string) string {
	sum := sha256.Sum256([]byte(
		strings.ToLower(strings.TrimSpace(deviceType)) + "|" +
			strings.ToLower(strings.TrimSpace(browser)) + "|" +
			strings.ToLower(strings.TrimSpace(os)),
	))
	return hex.EncodeToString(sum[:])
}
