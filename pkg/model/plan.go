package model

import "time"

// Plan grants subscribers access to a set of templates and node groups.
type Plan struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"size:64" json:"name"`
	Templates []InboundTemplate `gorm:"many2many:plan_templates" json:"-"`
	Groups    []NodeGroup       `gorm:"many2many:plan_groups" json:"-"`
	Archived  bool              `gorm:"default:false" json:"archived"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Subscription statuses. Only active subscriptions are injected.
const (
	SubscriptionActive  = "active"
	SubscriptionPending = "pending"
	SubscriptionExpired = "expired"
)

// Subscription is a subscriber's authorization record under a plan.
// Secret is the stable per-subscriber UUID used to derive protocol
// credentials; it never changes for the lifetime of the subscription.
type Subscription struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	PlanID     uint   `gorm:"index" json:"planId"`
	Secret     string `gorm:"size:64;uniqueIndex" json:"-"`
	Status     string `gorm:"size:16;default:pending" json:"status"`
	TelegramID int64  `gorm:"index" json:"telegramId"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	CreatedAt time.Time `json:"createdAt"`
}
