package model

import "time"

// Node captures a registered relay/edge server and its static key material.
type Node struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"size:64" json:"name"`
	Address string `gorm:"size:255" json:"address"` // public IP or hostname
	Enabled bool   `gorm:"default:true" json:"enabled"`

	// Relay chain: when IsRelay is set the node forwards traffic to the
	// node referenced by RelayID instead of egressing directly.
	IsRelay bool  `gorm:"default:false" json:"isRelay"`
	RelayID *uint `json:"relayId,omitempty"`

	// Long-lived join credential. Used to authenticate config pulls and as
	// seed material for relay passwords.
	JoinToken string `gorm:"size:128" json:"-"`

	// Reality key material. Healed lazily when found invalid.
	RealityPrivateKey string `gorm:"size:255" json:"-"`
	RealityPublicKey  string `gorm:"size:255" json:"realityPublicKey,omitempty"`
	RealityShortID    string `gorm:"size:32" json:"realityShortId,omitempty"`

	// Optional camouflage domain override; empty means use the SNI rotator.
	Domain string `gorm:"size:255" json:"domain,omitempty"`

	// Content-policy flags applied to the emitted route rules.
	BlockAds     bool `gorm:"default:false" json:"blockAds"`
	BlockPorn    bool `gorm:"default:false" json:"blockPorn"`
	BlockTorrent bool `gorm:"default:false" json:"blockTorrent"`

	Groups []NodeGroup `gorm:"many2many:node_group_members" json:"groups,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NodeGroup scopes templates and plans to a set of nodes.
type NodeGroup struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"uniqueIndex;size:64" json:"name"`
	Nodes []Node `gorm:"many2many:node_group_members" json:"-"`
}

// DefaultGroupName is the canonical group a fresh install bootstraps into.
const DefaultGroupName = "Default"
