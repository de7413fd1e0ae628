package templates

import (
	"strings"
	"testing"

	"relay-fleet/pkg/model"
	"relay-fleet/pkg/sni"
	"relay-fleet/pkg/store"
)

func seedNode(t *testing.T, s *store.MemoryStore, groupName string) model.Node {
	t.Helper()
	node, err := s.UpsertNode(model.Node{Name: "edge-1", Address: "198.51.100.7", Enabled: true})
	if err != nil {
		t.Fatalf("seed node: %v", err)
	}
	g, err := s.EnsureGroup(groupName)
	if err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := s.AddNodeToGroup(node.ID, g.ID); err != nil {
		t.Fatalf("add to group: %v", err)
	}
	return node
}

func TestResolveBootstrapsDefaultGroup(t *testing.T) {
	s := store.NewMemoryStore()
	node := seedNode(t, s, model.DefaultGroupName)

	tpls, err := Resolver{Store: s}.Resolve(node)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tpls) != 1 {
		t.Fatalf("expected one bootstrapped template, got %d", len(tpls))
	}
	tpl := tpls[0]
	if tpl.Protocol != "vless" {
		t.Fatalf("bootstrap protocol = %q", tpl.Protocol)
	}
	if !strings.Contains(tpl.StreamSettings, "drive.google.com:443") {
		t.Fatalf("bootstrap template missing baseline destination")
	}
	// Second resolve must find the persisted template, not create another.
	again, err := Resolver{Store: s}.Resolve(node)
	if err != nil || len(again) != 1 || again[0].ID != tpl.ID {
		t.Fatalf("resolve not stable: %v %+v", err, again)
	}
}

func TestResolveNonDefaultGroupStaysEmpty(t *testing.T) {
	s := store.NewMemoryStore()
	node := seedNode(t, s, "eu-west")

	tpls, err := Resolver{Store: s}.Resolve(node)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tpls) != 0 {
		t.Fatalf("expected no templates for non-default group, got %d", len(tpls))
	}
}

func TestMaterializeIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	node := seedNode(t, s, model.DefaultGroupName)
	tpl := model.InboundTemplate{
		GroupID:        1,
		Protocol:       "vless",
		PortRangeStart: 20000,
		PortRangeEnd:   30000,
		Settings:       `{"clients": [], "decryption": "none"}`,
		StreamSettings: baselineStreamSettings,
		Enabled:        true,
	}
	if err := s.CreateTemplate(&tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	m := Materializer{Store: s, SNI: sni.Static{}}
	first, err := m.Materialize(&node, tpl)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if first.Port < 20000 || first.Port > 30000 {
		t.Fatalf("port %d outside template range", first.Port)
	}
	if strings.Contains(first.StreamSettings, "{{") {
		t.Fatalf("unresolved placeholders: %s", first.StreamSettings)
	}

	second, err := m.Materialize(&node, tpl)
	if err != nil {
		t.Fatalf("re-materialize: %v", err)
	}
	if second.Tag != first.Tag || second.Port != first.Port {
		t.Fatalf("not idempotent: (%s,%d) then (%s,%d)", first.Tag, first.Port, second.Tag, second.Port)
	}
	if second.ID != first.ID {
		t.Fatalf("re-sync created a second inbound")
	}
}

func TestMaterializeMigratesPortWhenRangeMoves(t *testing.T) {
	s := store.NewMemoryStore()
	node := seedNode(t, s, model.DefaultGroupName)
	tpl := model.InboundTemplate{
		GroupID:        1,
		Protocol:       "trojan",
		PortRangeStart: 40000,
		PortRangeEnd:   41000,
		Settings:       `{"clients": []}`,
		StreamSettings: `{"network": "tcp", "security": "tls"}`,
		Enabled:        true,
	}
	if err := s.CreateTemplate(&tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	m := Materializer{Store: s, SNI: sni.Static{}}
	first, err := m.Materialize(&node, tpl)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	tpl.PortRangeStart, tpl.PortRangeEnd = 50000, 50010
	if err := s.SaveTemplate(&tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	moved, err := m.Materialize(&node, tpl)
	if err != nil {
		t.Fatalf("re-materialize: %v", err)
	}
	if moved.Port < 50000 || moved.Port > 50010 {
		t.Fatalf("port %d not migrated into new range", moved.Port)
	}
	if moved.Tag != first.Tag {
		t.Fatalf("tag changed on port migration")
	}
}

func TestMaterializeHealsRealityKeys(t *testing.T) {
	s := store.NewMemoryStore()
	node := seedNode(t, s, model.DefaultGroupName)
	node.RealityPrivateKey = "not-a-key"
	if err := s.SaveNode(&node); err != nil {
		t.Fatalf("save node: %v", err)
	}

	tpl := model.InboundTemplate{
		GroupID:        1,
		Protocol:       "vless",
		PortRangeStart: 20000,
		PortRangeEnd:   20100,
		Settings:       `{"clients": []}`,
		StreamSettings: baselineStreamSettings,
		Enabled:        true,
	}
	if err := s.CreateTemplate(&tpl); err != nil {
		t.Fatalf("create template: %v", err)
	}

	ib, err := Materializer{Store: s, SNI: sni.Static{}}.Materialize(&node, tpl)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	// Healed key must be persisted and embedded in the same pass.
	saved, ok, _ := s.GetNode(node.ID)
	if !ok || saved.RealityPrivateKey == "not-a-key" {
		t.Fatalf("node keys not healed/persisted")
	}
	if !strings.Contains(ib.StreamSettings, saved.RealityPrivateKey) {
		t.Fatalf("resolved stream settings do not carry the healed key")
	}
}

func TestSubstituteLeavesUnknownTokens(t *testing.T) {
	out := Substitute(`{"p": {{port}}, "x": "{{mystery}}"}`, map[string]string{"port": "443"})
	if !strings.Contains(out, `"p": 443`) {
		t.Fatalf("port not substituted: %s", out)
	}
	if !strings.Contains(out, "{{mystery}}") {
		t.Fatalf("unknown token should stay visible: %s", out)
	}
}
