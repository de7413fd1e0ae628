package model

import "time"

// Inbound is the concrete realization of one (Node, InboundTemplate) pair:
// a stable tag, an allocated port and fully resolved settings bodies.
// The (NodeID, Port) pair is unique; re-sync upserts by (NodeID, Tag).
type Inbound struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	NodeID     uint   `gorm:"index:idx_node_port,unique;index:idx_node_tag,unique" json:"nodeId"`
	TemplateID uint   `gorm:"index" json:"templateId"`
	Tag        string `gorm:"size:64;index:idx_node_tag,unique" json:"tag"`
	Port       int    `gorm:"index:idx_node_port,unique" json:"port"`
	Protocol   string `gorm:"size:32" json:"protocol"`

	// Resolved JSON bodies; placeholders substituted at materialization.
	Settings       string `gorm:"type:text" json:"settings"`
	StreamSettings string `gorm:"type:text" json:"streamSettings"`

	Enabled bool `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
