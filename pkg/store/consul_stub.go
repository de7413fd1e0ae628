//go:build !consul

package store

import (
	"log"
)

// NewConsulSettings returns the fallback source when the consul build tag
// is not enabled.
func NewConsulSettings(addr string, fallback SettingsSource) SettingsSource {
	log.Printf("consul settings requested (addr=%s) but consul build tag not enabled; using store settings", addr)
	return fallback
}
