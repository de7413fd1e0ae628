package model

import "time"

// InboundTemplate is an abstract endpoint specification scoped to a node
// group. Settings and StreamSettings hold JSON bodies with {{placeholder}}
// tokens resolved at materialization time.
type InboundTemplate struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	GroupID        uint   `gorm:"index" json:"groupId"`
	Protocol       string `gorm:"size:32" json:"protocol"`
	PortRangeStart int    `json:"portRangeStart"`
	PortRangeEnd   int    `json:"portRangeEnd"`
	Settings       string `gorm:"type:text" json:"settings"`
	StreamSettings string `gorm:"type:text" json:"streamSettings"`
	RotateHours    int    `gorm:"default:0" json:"rotateHours"`
	Enabled        bool   `gorm:"default:true" json:"enabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidPortRange reports whether the declared range is inside [1, 65535]
// and ordered. Materialization normalizes inverted ranges anyway; this is
// the admin-facing check.
func (t InboundTemplate) ValidPortRange() bool {
	return t.PortRangeStart >= 1 && t.PortRangeEnd <= 65535 &&
		t.PortRangeStart <= t.PortRangeEnd
}
