// Package sni defines the contract to the SNI-rotation subsystem. The
// synthesis engine treats camouflage-domain selection as a fast local
// lookup owned by the surrounding system.
package sni

// Provider returns the current best camouflage SNI for a node.
type Provider interface {
	BestSNI(nodeID uint) string
}

// DefaultDomain is the fallback disguise destination used when no rotator
// is wired in and the node carries no domain override.
const DefaultDomain = "drive.google.com"

// Static is a fixed-domain provider for installs without the rotator.
type Static struct {
	Domain string
}

func (s Static) BestSNI(uint) string {
	if s.Domain == "" {
		return DefaultDomain
	}
	return s.Domain
}
