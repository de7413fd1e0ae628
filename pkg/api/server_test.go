package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relay-fleet/pkg/auth"
	"relay-fleet/pkg/model"
	"relay-fleet/pkg/sni"
	"relay-fleet/pkg/store"
	"relay-fleet/pkg/synth"
)

func newTestServer(s *store.MemoryStore) (*Server, *http.ServeMux) {
	srv := &Server{
		Store: s,
		Synth: synth.Synthesizer{Store: s, Settings: s, SNI: sni.Static{}},
		Hub:   NewWSHub(),
	}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return srv, mux
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.Generate(1, "admin", true, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, payload, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec
}

func TestFirstUserOnlyRegistration(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)

	var resp map[string]string
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/register", "",
		authRequest{Username: "admin", Password: "hunter2"}, &resp)
	if rec.Code != http.StatusOK || resp["token"] == "" {
		t.Fatalf("first registration failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/auth/register", "",
		authRequest{Username: "second", Password: "pw"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("second registration must be refused, got %d", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/auth/login", "",
		authRequest{Username: "admin", Password: "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password accepted: %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/api/v1/auth/login", "",
		authRequest{Username: "admin", Password: "hunter2"}, &resp)
	if rec.Code != http.StatusOK || resp["token"] == "" {
		t.Fatalf("login failed: %d", rec.Code)
	}
}

func TestNodeRegistrationIssuesToken(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)
	tok := adminToken(t)

	var resp NodeRegistrationResponse
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/nodes/register", tok,
		NodeRegistrationRequest{Name: "edge", Address: "198.51.100.7", Groups: []string{"eu"}}, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	if resp.JoinToken == "" {
		t.Fatalf("no join token issued")
	}
	groups, err := s.GroupsForNode(resp.Node.ID)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	names := map[string]bool{}
	for _, g := range groups {
		names[g.Name] = true
	}
	if !names[model.DefaultGroupName] || !names["eu"] {
		t.Fatalf("node not in expected groups: %v", names)
	}

	// Re-registration must keep the issued token.
	var again NodeRegistrationResponse
	doJSON(t, mux, http.MethodPost, "/api/v1/nodes/register", tok,
		NodeRegistrationRequest{ID: resp.Node.ID, Name: "edge", Address: "198.51.100.8"}, &again)
	if again.JoinToken != resp.JoinToken {
		t.Fatalf("join token rotated on re-registration")
	}
}

func TestNodeRegistrationRequiresAdmin(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/nodes/register", "",
		NodeRegistrationRequest{Name: "edge", Address: "198.51.100.7"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func seedConfigNode(t *testing.T, s *store.MemoryStore) model.Node {
	t.Helper()
	node, err := s.UpsertNode(model.Node{
		Name: "edge", Address: "198.51.100.7", Enabled: true, JoinToken: "join-tok",
	})
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	g, _ := s.EnsureGroup(model.DefaultGroupName)
	if err := s.AddNodeToGroup(node.ID, g.ID); err != nil {
		t.Fatalf("group: %v", err)
	}
	plan := model.Plan{Name: "basic"}
	if err := s.CreatePlan(&plan); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := s.LinkPlanGroup(plan.ID, g.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	sub := model.Subscription{PlanID: plan.ID, Secret: "00000000-0000-0000-0000-000000000001", Status: model.SubscriptionActive}
	if err := s.CreateSubscription(&sub); err != nil {
		t.Fatalf("sub: %v", err)
	}
	return node
}

func TestConfigPullAndHashShortCircuit(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)
	seedConfigNode(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("Authorization", "Bearer join-tok")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("config pull: %d %s", rec.Code, rec.Body.String())
	}
	hash := rec.Header().Get("X-Config-Hash")
	if hash == "" {
		t.Fatalf("missing config hash header")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("body is not a document: %v", err)
	}
	if _, ok := doc["inbounds"]; !ok {
		t.Fatalf("document missing inbounds: %v", doc)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("Authorization", "Bearer join-tok")
	req.Header.Set("X-Config-Hash", hash)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304 for unchanged config, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("304 must not carry a body")
	}
}

func TestConfigPullRejectsUnknownToken(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDisableTemplateRetiresInbounds(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)
	tok := adminToken(t)

	g, _ := s.EnsureGroup("eu")
	tpl := model.InboundTemplate{
		GroupID: g.ID, Protocol: model.ProtoVLESS,
		PortRangeStart: 10000, PortRangeEnd: 20000, Enabled: true,
	}
	if err := s.CreateTemplate(&tpl); err != nil {
		t.Fatalf("template: %v", err)
	}
	node, _ := s.UpsertNode(model.Node{Name: "edge", Enabled: true})
	if _, err := s.UpsertInbound(model.Inbound{
		NodeID: node.ID, TemplateID: tpl.ID, Tag: "vless-tpl-1", Port: 10001, Protocol: model.ProtoVLESS,
	}); err != nil {
		t.Fatalf("inbound: %v", err)
	}

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/templates/disable", tok,
		map[string]uint{"id": tpl.ID}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: %d %s", rec.Code, rec.Body.String())
	}
	left, _ := s.InboundsForNode(node.ID)
	if len(left) != 0 {
		t.Fatalf("inbounds not retired: %+v", left)
	}
	got, _, _ := s.GetTemplate(tpl.ID)
	if got.Enabled {
		t.Fatalf("template still enabled")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	_, mux := newTestServer(s)
	tok := adminToken(t)

	var got model.FleetSettings
	rec := doJSON(t, mux, http.MethodGet, "/api/v1/settings", tok, nil, &got)
	if rec.Code != http.StatusOK || got.RelayAuthMode != "legacy" {
		t.Fatalf("default settings wrong: %d %+v", rec.Code, got)
	}
	got.RelayAuthMode = "dual"
	rec = doJSON(t, mux, http.MethodPut, "/api/v1/settings", tok, got, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save settings: %d", rec.Code)
	}
	saved, _ := s.GetSettings()
	if saved.RelayAuthMode != "dual" {
		t.Fatalf("settings not persisted: %+v", saved)
	}
}
