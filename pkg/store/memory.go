package store

import (
	"sort"
	"sync"
	"time"

	"relay-fleet/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/tests.
type MemoryStore struct {
	mu            sync.RWMutex
	nextID        uint
	nodes         map[uint]model.Node
	groups        map[uint]model.NodeGroup
	nodeGroups    map[uint][]uint // nodeID -> groupIDs
	templates     map[uint]model.InboundTemplate
	inbounds      map[uint]model.Inbound
	plans         map[uint]model.Plan
	planTemplates map[uint][]uint // planID -> templateIDs
	planGroups    map[uint][]uint // planID -> groupIDs
	subscriptions map[uint]model.Subscription
	users         map[uint]model.User
	settings      model.FleetSettings
	audit         []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:         make(map[uint]model.Node),
		groups:        make(map[uint]model.NodeGroup),
		nodeGroups:    make(map[uint][]uint),
		templates:     make(map[uint]model.InboundTemplate),
		inbounds:      make(map[uint]model.Inbound),
		plans:         make(map[uint]model.Plan),
		planTemplates: make(map[uint][]uint),
		planGroups:    make(map[uint][]uint),
		subscriptions: make(map[uint]model.Subscription),
		users:         make(map[uint]model.User),
		settings:      model.FleetSettings{RelayAuthMode: "legacy", DNSResolver: "1.1.1.1"},
	}
}

func (m *MemoryStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) GetNode(id uint) (model.Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok, nil
}

func (m *MemoryStore) GetNodeByToken(token string) (model.Node, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if token == "" {
		return model.Node{}, false, nil
	}
	for _, n := range m.nodes {
		if n.JoinToken == token {
			return n, true, nil
		}
	}
	return model.Node{}, false, nil
}

func (m *MemoryStore) ListNodes() ([]model.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertNode(n model.Node) (model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == 0 {
		n.ID = m.id()
		n.CreatedAt = time.Now()
	}
	n.UpdatedAt = time.Now()
	m.nodes[n.ID] = n
	return n, nil
}

func (m *MemoryStore) SaveNode(n *model.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == 0 {
		n.ID = m.id()
	}
	n.UpdatedAt = time.Now()
	m.nodes[n.ID] = *n
	return nil
}

func (m *MemoryStore) RelayClientsOf(targetID uint) ([]model.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Node
	for _, n := range m.nodes {
		if n.RelayID != nil && *n.RelayID == targetID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) EnsureGroup(name string) (model.NodeGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.Name == name {
			return g, nil
		}
	}
	g := model.NodeGroup{ID: m.id(), Name: name}
	m.groups[g.ID] = g
	return g, nil
}

func (m *MemoryStore) GroupsForNode(nodeID uint) ([]model.NodeGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.NodeGroup
	for _, gid := range m.nodeGroups[nodeID] {
		if g, ok := m.groups[gid]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *MemoryStore) AddNodeToGroup(nodeID, groupID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gid := range m.nodeGroups[nodeID] {
		if gid == groupID {
			return nil
		}
	}
	m.nodeGroups[nodeID] = append(m.nodeGroups[nodeID], groupID)
	return nil
}

func (m *MemoryStore) CreateTemplate(t *model.InboundTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()
	m.templates[t.ID] = *t
	return nil
}

func (m *MemoryStore) SaveTemplate(t *model.InboundTemplate) error {
	return m.CreateTemplate(t)
}

func (m *MemoryStore) GetTemplate(id uint) (model.InboundTemplate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	return t, ok, nil
}

func (m *MemoryStore) ListTemplates() ([]model.InboundTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.InboundTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) TemplatesForGroups(groupIDs []uint) ([]model.InboundTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uint]bool, len(groupIDs))
	for _, id := range groupIDs {
		want[id] = true
	}
	var out []model.InboundTemplate
	for _, t := range m.templates {
		if t.Enabled && want[t.GroupID] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InboundsForNode(nodeID uint) ([]model.Inbound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Inbound
	for _, ib := range m.inbounds {
		if ib.NodeID == nodeID {
			out = append(out, ib)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func (m *MemoryStore) GetInboundByTag(nodeID uint, tag string) (model.Inbound, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ib := range m.inbounds {
		if ib.NodeID == nodeID && ib.Tag == tag {
			return ib, true, nil
		}
	}
	return model.Inbound{}, false, nil
}

func (m *MemoryStore) UpsertInbound(ib model.Inbound) (model.Inbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.inbounds {
		if existing.NodeID == ib.NodeID && existing.Tag == ib.Tag {
			ib.ID = id
			ib.CreatedAt = existing.CreatedAt
			ib.UpdatedAt = time.Now()
			m.inbounds[id] = ib
			return ib, nil
		}
	}
	ib.ID = m.id()
	ib.CreatedAt = time.Now()
	ib.UpdatedAt = ib.CreatedAt
	m.inbounds[ib.ID] = ib
	return ib, nil
}

func (m *MemoryStore) UsedPorts(nodeID uint) (map[int]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	used := make(map[int]bool)
	for _, ib := range m.inbounds {
		if ib.NodeID == nodeID {
			used[ib.Port] = true
		}
	}
	return used, nil
}

func (m *MemoryStore) DeleteInboundsForTemplate(templateID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ib := range m.inbounds {
		if ib.TemplateID == templateID {
			delete(m.inbounds, id)
		}
	}
	return nil
}

func (m *MemoryStore) CreatePlan(p *model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
		p.CreatedAt = time.Now()
	}
	m.plans[p.ID] = *p
	return nil
}

func (m *MemoryStore) LinkPlanTemplate(planID, templateID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planTemplates[planID] = append(m.planTemplates[planID], templateID)
	return nil
}

func (m *MemoryStore) LinkPlanGroup(planID, groupID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planGroups[planID] = append(m.planGroups[planID], groupID)
	return nil
}

func (m *MemoryStore) PlanIDsForTemplate(templateID uint, groupIDs []uint) ([]uint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wantGroup := make(map[uint]bool, len(groupIDs))
	for _, id := range groupIDs {
		wantGroup[id] = true
	}
	seen := make(map[uint]bool)
	var out []uint
	add := func(planID uint) {
		if !seen[planID] {
			seen[planID] = true
			out = append(out, planID)
		}
	}
	for planID, tmplIDs := range m.planTemplates {
		for _, tid := range tmplIDs {
			if tid == templateID {
				add(planID)
			}
		}
	}
	for planID, gids := range m.planGroups {
		for _, gid := range gids {
			if wantGroup[gid] {
				add(planID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemoryStore) CreateSubscription(s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
		s.CreatedAt = time.Now()
	}
	m.subscriptions[s.ID] = *s
	return nil
}

func (m *MemoryStore) ActiveSubscriptionsForPlans(planIDs []uint) ([]model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uint]bool, len(planIDs))
	for _, id := range planIDs {
		want[id] = true
	}
	var out []model.Subscription
	for _, s := range m.subscriptions {
		if s.Status == model.SubscriptionActive && want[s.PlanID] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateUser(u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) GetUserByUsername(name string) (model.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == name {
			return u, true, nil
		}
	}
	return model.User{}, false, nil
}

func (m *MemoryStore) CountUsers() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

func (m *MemoryStore) GetSettings() (model.FleetSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *MemoryStore) SaveSettings(s model.FleetSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

func (m *MemoryStore) AppendAudit(e model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	if len(m.audit) > 1000 {
		m.audit = m.audit[len(m.audit)-1000:]
	}
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEntry, limit)
	copy(out, m.audit[len(m.audit)-limit:])
	return out, nil
}
