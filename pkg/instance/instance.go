package instance

import (
	"os"
	"strings"
)

// GetID identifies this process in health output and logs. WORKER_ID wins, then the
// hostname, then "<service>-0".
func GetID(service string) string {
	if id := strings.TrimSpace(os.Getenv("WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	if service == "" {
		service = "worker"
	}
	return service + "-0"
}
