package store

import "relay-fleet/pkg/model"

// Store defines the persistence operations the synthesis engine and the
// API need. Backed by GORM in production and by an in-memory
// implementation in tests.
type Store interface {
	// Nodes.
	GetNode(id uint) (model.Node, bool, error)
	GetNodeByToken(token string) (model.Node, bool, error)
	ListNodes() ([]model.Node, error)
	UpsertNode(model.Node) (model.Node, error)
	SaveNode(*model.Node) error
	// RelayClientsOf lists nodes whose relay target is the given node.
	RelayClientsOf(targetID uint) ([]model.Node, error)

	// Groups.
	EnsureGroup(name string) (model.NodeGroup, error)
	GroupsForNode(nodeID uint) ([]model.NodeGroup, error)
	AddNodeToGroup(nodeID, groupID uint) error

	// Templates.
	CreateTemplate(*model.InboundTemplate) error
	SaveTemplate(*model.InboundTemplate) error
	GetTemplate(id uint) (model.InboundTemplate, bool, error)
	ListTemplates() ([]model.InboundTemplate, error)
	TemplatesForGroups(groupIDs []uint) ([]model.InboundTemplate, error)

	// Inbounds.
	InboundsForNode(nodeID uint) ([]model.Inbound, error)
	GetInboundByTag(nodeID uint, tag string) (model.Inbound, bool, error)
	UpsertInbound(model.Inbound) (model.Inbound, error)
	UsedPorts(nodeID uint) (map[int]bool, error)
	DeleteInboundsForTemplate(templateID uint) error

	// Plans and subscriptions.
	CreatePlan(*model.Plan) error
	LinkPlanTemplate(planID, templateID uint) error
	LinkPlanGroup(planID, groupID uint) error
	// PlanIDsForTemplate returns plans linked to the template directly or
	// to any of the given groups.
	PlanIDsForTemplate(templateID uint, groupIDs []uint) ([]uint, error)
	CreateSubscription(*model.Subscription) error
	ActiveSubscriptionsForPlans(planIDs []uint) ([]model.Subscription, error)

	// Operator accounts.
	CreateUser(*model.User) error
	GetUserByUsername(name string) (model.User, bool, error)
	CountUsers() (int64, error)

	// Fleet settings and audit.
	GetSettings() (model.FleetSettings, error)
	SaveSettings(model.FleetSettings) error
	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)
}
