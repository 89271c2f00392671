package instance

import (
	"os"
	"strings"
)

const defaultID = "notifications-0"

// GetID returns the process identifier used in logs and lock ownership.
// NOTIFICATIONS_INSTANCE_ID wins, then the platform dyno name, then the hostname.
func GetID() string {
	for _, key := range []string{"NOTIFICATIONS_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultID
}
