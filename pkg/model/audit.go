package model

import "time"

// AuditEntry captures an operation against the control plane.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Actor     string    `gorm:"size:64" json:"actor"`
	Action    string    `gorm:"size:64" json:"action"`
	Target    string    `gorm:"size:128" json:"target"`
	Detail    string    `gorm:"size:255" json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
