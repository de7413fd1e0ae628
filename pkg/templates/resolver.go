// Package templates resolves which inbound templates apply to a node and
// materializes them into concrete inbound records with allocated ports and
// fully substituted settings bodies.
package templates

import (
	"fmt"
	"log"

	"relay-fleet/pkg/model"
	"relay-fleet/pkg/store"
)

// Resolver determines the set of templates a node should instantiate.
type Resolver struct {
	Store store.Store
}

// Resolve returns the enabled templates targeting any group the node
// belongs to. A node in the canonical Default group with no templates at
// all gets a baseline Reality/VLESS template bootstrapped, so a fresh
// install always ends up with at least one working endpoint.
func (r Resolver) Resolve(node model.Node) ([]model.InboundTemplate, error) {
	groups, err := r.Store.GroupsForNode(node.ID)
	if err != nil {
		return nil, fmt.Errorf("read node groups: %w", err)
	}
	groupIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	tpls, err := r.Store.TemplatesForGroups(groupIDs)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	if len(tpls) > 0 {
		return tpls, nil
	}
	for _, g := range groups {
		if g.Name == model.DefaultGroupName {
			tpl, err := r.bootstrap(g)
			if err != nil {
				return nil, err
			}
			log.Printf("bootstrapped baseline template id=%d for group %q", tpl.ID, g.Name)
			return []model.InboundTemplate{tpl}, nil
		}
	}
	return nil, nil
}

// baselineSettings is the bootstrap VLESS body: no clients yet, injection
// fills them per subscription.
const baselineSettings = `{"clients": [], "decryption": "none"}`

const baselineStreamSettings = `{"network": "tcp", "security": "reality", "realitySettings": {"dest": "drive.google.com:443", "serverNames": ["{{sni}}"], "privateKey": "{{reality_private}}", "shortIds": ["{{reality_sid}}"]}}`

func (r Resolver) bootstrap(group model.NodeGroup) (model.InboundTemplate, error) {
	tpl := model.InboundTemplate{
		GroupID:        group.ID,
		Protocol:       "vless",
		PortRangeStart: 10000,
		PortRangeEnd:   60000,
		Settings:       baselineSettings,
		StreamSettings: baselineStreamSettings,
		Enabled:        true,
	}
	if err := r.Store.CreateTemplate(&tpl); err != nil {
		return tpl, fmt.Errorf("bootstrap template: %w", err)
	}
	return tpl, nil
}
