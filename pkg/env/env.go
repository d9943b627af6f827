// Package env reads process settings that are needed before config.Load runs.
package env

import "os"

// Prefix namespaces ledger variables.
const Prefix = "ASSETLEDGER_"

// Get returns ASSETLEDGER_<key>, then the bare key, then fallback.
func Get(key, fallback string) string {
	if val := os.Getenv(Prefix + key); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
