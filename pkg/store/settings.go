package store

import "relay-fleet/pkg/model"

// SettingsSource yields the fleet-wide settings snapshot read once at the
// start of each synthesis. Store implementations satisfy it directly; a
// Consul-backed source can override individual switches fleet-wide without
// touching the database (build tag consul).
type SettingsSource interface {
	GetSettings() (model.FleetSettings, error)
}
