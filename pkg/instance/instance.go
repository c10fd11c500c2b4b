package instance

import (
	"os"
	"strings"
)

// GetID returns an identifier for this process, used to tell replicas apart in
// logs. It prefers an explicit id, then the platform dyno name, then the host.
func GetID() string {
	for _, key := range []string{"ENROLLPAY_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
