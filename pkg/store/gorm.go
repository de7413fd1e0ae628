package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"relay-fleet/pkg/model"
)

// GormStore backs Store with a relational database. The unique indexes on
// inbounds (node_id, port) and (node_id, tag) are the authority for
// allocation conflicts; a failed UpsertInbound means the caller should
// reallocate and retry.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) GetNode(id uint) (model.Node, bool, error) {
	var n model.Node
	err := g.db.First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Node{}, false, nil
	}
	return n, err == nil, err
}

func (g *GormStore) GetNodeByToken(token string) (model.Node, bool, error) {
	if token == "" {
		return model.Node{}, false, nil
	}
	var n model.Node
	err := g.db.Where("join_token = ?", token).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Node{}, false, nil
	}
	return n, err == nil, err
}

func (g *GormStore) ListNodes() ([]model.Node, error) {
	var out []model.Node
	return out, g.db.Order("id").Find(&out).Error
}

func (g *GormStore) UpsertNode(n model.Node) (model.Node, error) {
	return n, g.db.Save(&n).Error
}

func (g *GormStore) SaveNode(n *model.Node) error {
	return g.db.Save(n).Error
}

func (g *GormStore) RelayClientsOf(targetID uint) ([]model.Node, error) {
	var out []model.Node
	return out, g.db.Where("relay_id = ?", targetID).Order("id").Find(&out).Error
}

func (g *GormStore) EnsureGroup(name string) (model.NodeGroup, error) {
	var grp model.NodeGroup
	err := g.db.Where(model.NodeGroup{Name: name}).FirstOrCreate(&grp).Error
	return grp, err
}

func (g *GormStore) GroupsForNode(nodeID uint) ([]model.NodeGroup, error) {
	var out []model.NodeGroup
	err := g.db.Model(&model.Node{ID: nodeID}).Association("Groups").Find(&out)
	return out, err
}

func (g *GormStore) AddNodeToGroup(nodeID, groupID uint) error {
	return g.db.Model(&model.Node{ID: nodeID}).
		Association("Groups").Append(&model.NodeGroup{ID: groupID})
}

func (g *GormStore) CreateTemplate(t *model.InboundTemplate) error {
	return g.db.Create(t).Error
}

func (g *GormStore) SaveTemplate(t *model.InboundTemplate) error {
	return g.db.Save(t).Error
}

func (g *GormStore) GetTemplate(id uint) (model.InboundTemplate, bool, error) {
	var t model.InboundTemplate
	err := g.db.First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.InboundTemplate{}, false, nil
	}
	return t, err == nil, err
}

func (g *GormStore) ListTemplates() ([]model.InboundTemplate, error) {
	var out []model.InboundTemplate
	return out, g.db.Order("id").Find(&out).Error
}

func (g *GormStore) TemplatesForGroups(groupIDs []uint) ([]model.InboundTemplate, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var out []model.InboundTemplate
	err := g.db.Where("group_id IN ? AND enabled = ?", groupIDs, true).
		Order("id").Find(&out).Error
	return out, err
}

func (g *GormStore) InboundsForNode(nodeID uint) ([]model.Inbound, error) {
	var out []model.Inbound
	return out, g.db.Where("node_id = ?", nodeID).Order("port").Find(&out).Error
}

func (g *GormStore) GetInboundByTag(nodeID uint, tag string) (model.Inbound, bool, error) {
	var ib model.Inbound
	err := g.db.Where("node_id = ? AND tag = ?", nodeID, tag).First(&ib).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Inbound{}, false, nil
	}
	return ib, err == nil, err
}

func (g *GormStore) UpsertInbound(ib model.Inbound) (model.Inbound, error) {
	existing, ok, err := g.GetInboundByTag(ib.NodeID, ib.Tag)
	if err != nil {
		return ib, err
	}
	if ok {
		ib.ID = existing.ID
		ib.CreatedAt = existing.CreatedAt
	}
	ib.UpdatedAt = time.Now()
	return ib, g.db.Save(&ib).Error
}

func (g *GormStore) UsedPorts(nodeID uint) (map[int]bool, error) {
	var ports []int
	if err := g.db.Model(&model.Inbound{}).
		Where("node_id = ?", nodeID).Pluck("port", &ports).Error; err != nil {
		return nil, err
	}
	used := make(map[int]bool, len(ports))
	for _, p := range ports {
		used[p] = true
	}
	return used, nil
}

func (g *GormStore) DeleteInboundsForTemplate(templateID uint) error {
	return g.db.Where("template_id = ?", templateID).Delete(&model.Inbound{}).Error
}

func (g *GormStore) CreatePlan(p *model.Plan) error {
	return g.db.Create(p).Error
}

func (g *GormStore) LinkPlanTemplate(planID, templateID uint) error {
	return g.db.Model(&model.Plan{ID: planID}).
		Association("Templates").Append(&model.InboundTemplate{ID: templateID})
}

func (g *GormStore) LinkPlanGroup(planID, groupID uint) error {
	return g.db.Model(&model.Plan{ID: planID}).
		Association("Groups").Append(&model.NodeGroup{ID: groupID})
}

func (g *GormStore) PlanIDsForTemplate(templateID uint, groupIDs []uint) ([]uint, error) {
	seen := make(map[uint]bool)
	var out []uint
	add := func(ids []uint) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	var direct []uint
	if err := g.db.Table("plan_templates").
		Where("inbound_template_id = ?", templateID).
		Pluck("plan_id", &direct).Error; err != nil {
		return nil, err
	}
	add(direct)
	if len(groupIDs) > 0 {
		var viaGroups []uint
		if err := g.db.Table("plan_groups").
			Where("node_group_id IN ?", groupIDs).
			Pluck("plan_id", &viaGroups).Error; err != nil {
			return nil, err
		}
		add(viaGroups)
	}
	return out, nil
}

func (g *GormStore) CreateSubscription(s *model.Subscription) error {
	return g.db.Create(s).Error
}

func (g *GormStore) ActiveSubscriptionsForPlans(planIDs []uint) ([]model.Subscription, error) {
	if len(planIDs) == 0 {
		return nil, nil
	}
	var out []model.Subscription
	err := g.db.Where("plan_id IN ? AND status = ?", planIDs, model.SubscriptionActive).
		Order("id").Find(&out).Error
	return out, err
}

func (g *GormStore) CreateUser(u *model.User) error {
	return g.db.Create(u).Error
}

func (g *GormStore) GetUserByUsername(name string) (model.User, bool, error) {
	var u model.User
	err := g.db.Where("username = ?", name).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, false, nil
	}
	return u, err == nil, err
}

func (g *GormStore) CountUsers() (int64, error) {
	var count int64
	err := g.db.Model(&model.User{}).Count(&count).Error
	return count, err
}

func (g *GormStore) GetSettings() (model.FleetSettings, error) {
	var s model.FleetSettings
	err := g.db.First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s = model.FleetSettings{RelayAuthMode: "legacy", DNSResolver: "1.1.1.1"}
		return s, g.db.Create(&s).Error
	}
	return s, err
}

func (g *GormStore) SaveSettings(s model.FleetSettings) error {
	if s.ID == 0 {
		current, err := g.GetSettings()
		if err != nil {
			return err
		}
		s.ID = current.ID
	}
	return g.db.Save(&s).Error
}

func (g *GormStore) AppendAudit(e model.AuditEntry) error {
	return g.db.Create(&e).Error
}

func (g *GormStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.AuditEntry
	err := g.db.Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}
