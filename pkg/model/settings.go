package model

// FleetSettings is a single-row bag for fleet-wide switches read at
// synthesis time.
type FleetSettings struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// RelayAuthMode governs relay credential derivation during the
	// legacy-to-hashed migration: legacy | v1 | dual.
	RelayAuthMode string `gorm:"size:16;default:legacy" json:"relayAuthMode"`

	// DNSResolver is the upstream resolver placed in every emitted
	// document, e.g. "1.1.1.1".
	DNSResolver string `gorm:"size:64;default:1.1.1.1" json:"dnsResolver"`
}
