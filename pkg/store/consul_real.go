//go:build consul

package store

import (
	"relay-fleet/pkg/consul"
)

// NewConsulSettings wraps fallback with Consul KV overrides (requires
// build tag consul).
func NewConsulSettings(addr string, fallback SettingsSource) SettingsSource {
	return consul.NewSettings(addr, fallback)
}
