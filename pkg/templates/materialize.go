package templates

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"relay-fleet/pkg/keys"
	"relay-fleet/pkg/model"
	"relay-fleet/pkg/ports"
	"relay-fleet/pkg/sni"
	"relay-fleet/pkg/store"
)

// Materializer turns a (node, template) pair into the concrete inbound
// record. Upserts are keyed by the deterministic tag, so re-running a sync
// converges instead of duplicating endpoints.
type Materializer struct {
	Store store.Store
	SNI   sni.Provider
}

// Tag derives the stable inbound tag from the template identity.
func Tag(tpl model.InboundTemplate) string {
	return fmt.Sprintf("%s-tpl-%d", strings.ToLower(tpl.Protocol), tpl.ID)
}

// Materialize creates or updates the inbound for the pair. An existing
// inbound keeps its port unless the template's range moved out from under
// it; then the port is reallocated. Reality key material is healed before
// placeholders are resolved so the emitted stream settings are
// self-consistent within the same pass.
func (m Materializer) Materialize(node *model.Node, tpl model.InboundTemplate) (model.Inbound, error) {
	tag := Tag(tpl)
	existing, found, err := m.Store.GetInboundByTag(node.ID, tag)
	if err != nil {
		return model.Inbound{}, fmt.Errorf("look up inbound %s: %w", tag, err)
	}

	start, end := ports.Normalize(tpl.PortRangeStart, tpl.PortRangeEnd)
	port := existing.Port
	if !found || port < start || port > end {
		alloc := ports.Allocator{Store: m.Store}
		port, err = alloc.Allocate(node.ID, start, end)
		if err != nil {
			return model.Inbound{}, fmt.Errorf("allocate port for %s: %w", tag, err)
		}
	}

	if strings.Contains(tpl.StreamSettings, `"reality"`) {
		probe := []model.Inbound{{StreamSettings: tpl.StreamSettings}}
		if _, err := keys.HealNodeKeys(m.Store, node, probe); err != nil {
			return model.Inbound{}, err
		}
	}

	serverName := node.Domain
	if serverName == "" && m.SNI != nil {
		serverName = m.SNI.BestSNI(node.ID)
	}
	if serverName == "" {
		serverName = sni.DefaultDomain
	}

	values := map[string]string{
		"port":            strconv.Itoa(port),
		"uuid":            stableUUID(node.ID, tag),
		"sni":             serverName,
		"domain":          serverName,
		"reality_private": keys.NormalizeKey(node.RealityPrivateKey),
		"reality_pbk":     node.RealityPublicKey,
		"reality_sid":     node.RealityShortID,
	}

	ib := model.Inbound{
		NodeID:         node.ID,
		TemplateID:     tpl.ID,
		Tag:            tag,
		Port:           port,
		Protocol:       strings.ToLower(tpl.Protocol),
		Settings:       Substitute(tpl.Settings, values),
		StreamSettings: Substitute(tpl.StreamSettings, values),
		Enabled:        true,
	}
	if found {
		ib.Enabled = existing.Enabled
	}
	saved, err := m.Store.UpsertInbound(ib)
	if err != nil {
		return model.Inbound{}, fmt.Errorf("upsert inbound %s: %w", tag, err)
	}
	return saved, nil
}

// stableUUID yields the same UUID for the same (node, tag) pair on every
// sync, keeping materialization idempotent where a template embeds one.
func stableUUID(nodeID uint, tag string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d/%s", nodeID, tag))).String()
}
