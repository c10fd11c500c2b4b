package env

import (
	"os"
	"strings"
)

// Prefix namespaces this service's variables.
const Prefix = "ENROLLPAY_"

// Get returns ENROLLPAY_<key>, then the bare key, then fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(Prefix + key)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
