// Package instance names the running process for log correlation.
package instance

import "os"

// GetID returns the first of ASSETLEDGER_INSTANCE_ID, DYNO or the hostname,
// and fallback when none is set.
func GetID(fallback string) string {
	for _, key := range []string{"ASSETLEDGER_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallback
}
