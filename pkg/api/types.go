package api

import "relay-fleet/pkg/model"

// NodeRegistrationRequest creates or updates a node record. Group names
// are resolved (and created) on the fly; every node is also a member of
// the default group.
type NodeRegistrationRequest struct {
	ID      uint     `json:"id,omitempty"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Domain  string   `json:"domain,omitempty"`
	IsRelay bool     `json:"isRelay,omitempty"`
	RelayID *uint    `json:"relayId,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

// NodeRegistrationResponse returns the persisted node plus its join
// token. The token is only ever disclosed here; the node list omits it.
type NodeRegistrationResponse struct {
	Node      model.Node `json:"node"`
	JoinToken string     `json:"joinToken"`
}

// NodePolicyRequest flips content-policy switches or relay wiring on an
// existing node.
type NodePolicyRequest struct {
	ID           uint  `json:"id"`
	Enabled      *bool `json:"enabled,omitempty"`
	BlockAds     *bool `json:"blockAds,omitempty"`
	BlockPorn    *bool `json:"blockPorn,omitempty"`
	BlockTorrent *bool `json:"blockTorrent,omitempty"`
	IsRelay      *bool `json:"isRelay,omitempty"`
	RelayID      *uint `json:"relayId,omitempty"`
	ClearRelay   bool  `json:"clearRelay,omitempty"`
}

// PlanLinkRequest attaches a template or a group to a plan.
type PlanLinkRequest struct {
	PlanID     uint `json:"planId"`
	TemplateID uint `json:"templateId,omitempty"`
	GroupID    uint `json:"groupId,omitempty"`
}

// SubscriptionRequest creates a subscriber under a plan.
type SubscriptionRequest struct {
	PlanID     uint   `json:"planId"`
	TelegramID int64  `json:"telegramId,omitempty"`
	Status     string `json:"status,omitempty"`
}
