// Package api exposes the controller's HTTP surface: operator endpoints
// for fleet administration and the config-pull endpoint agents use to
// fetch their synthesized engine document.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"relay-fleet/pkg/model"
	"relay-fleet/pkg/store"
	"relay-fleet/pkg/synth"
	"relay-fleet/pkg/version"
)

// Server wires the store, the synthesis pipeline and the agent hub into
// HTTP handlers.
type Server struct {
	Store store.Store
	Synth synth.Synthesizer
	Hub   *WSHub
}

// RegisterRoutes wires all HTTP handlers on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("relay-fleet controller"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"build": version.Build})
	})

	mux.HandleFunc("/api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)

	mux.HandleFunc("/api/v1/nodes", requireAdmin(s.handleListNodes))
	mux.HandleFunc("/api/v1/nodes/register", requireAdmin(s.handleRegisterNode))
	mux.HandleFunc("/api/v1/nodes/policy", requireAdmin(s.handleNodePolicy))
	mux.HandleFunc("/api/v1/templates", requireAdmin(s.handleTemplates))
	mux.HandleFunc("/api/v1/templates/disable", requireAdmin(s.handleDisableTemplate))
	mux.HandleFunc("/api/v1/plans", requireAdmin(s.handleCreatePlan))
	mux.HandleFunc("/api/v1/plans/link", requireAdmin(s.handleLinkPlan))
	mux.HandleFunc("/api/v1/subscriptions", requireAdmin(s.handleCreateSubscription))
	mux.HandleFunc("/api/v1/settings", requireAdmin(s.handleSettings))
	mux.HandleFunc("/api/v1/audit", requireAdmin(s.handleAudit))

	mux.HandleFunc("/api/v1/config", s.handleNodeConfig)
	mux.HandleFunc("/api/v1/ws/agent", s.HandleAgentWS)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodes, err := s.Store.ListNodes()
	if err != nil {
		http.Error(w, "failed to list nodes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req NodeRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Address == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	node := model.Node{
		ID:      req.ID,
		Name:    req.Name,
		Address: req.Address,
		Domain:  req.Domain,
		IsRelay: req.IsRelay,
		RelayID: req.RelayID,
		Enabled: true,
	}
	if req.ID != 0 {
		if existing, ok, _ := s.Store.GetNode(req.ID); ok {
			// Keep the issued token and policy switches across re-registration.
			node.JoinToken = existing.JoinToken
			node.BlockAds = existing.BlockAds
			node.BlockPorn = existing.BlockPorn
			node.BlockTorrent = existing.BlockTorrent
			node.RealityPrivateKey = existing.RealityPrivateKey
			node.RealityPublicKey = existing.RealityPublicKey
			node.RealityShortID = existing.RealityShortID
		}
	}
	if node.JoinToken == "" {
		node.JoinToken = uuid.NewString()
	}
	saved, err := s.Store.UpsertNode(node)
	if err != nil {
		http.Error(w, "failed to persist node", http.StatusInternalServerError)
		return
	}
	groups := append([]string{model.DefaultGroupName}, req.Groups...)
	for _, name := range groups {
		g, err := s.Store.EnsureGroup(name)
		if err != nil {
			http.Error(w, "failed to persist node", http.StatusInternalServerError)
			return
		}
		if err := s.Store.AddNodeToGroup(saved.ID, g.ID); err != nil {
			http.Error(w, "failed to persist node", http.StatusInternalServerError)
			return
		}
	}
	_ = s.Store.AppendAudit(model.AuditEntry{
		Actor: "admin", Action: "register_node",
		Target: saved.Name, Detail: saved.Address, Timestamp: time.Now(),
	})
	log.Printf("registered node id=%d name=%s relay=%v", saved.ID, saved.Name, saved.IsRelay)
	if s.Hub != nil {
		s.Hub.NotifyConfigChanged(saved.ID)
	}
	writeJSON(w, http.StatusOK, NodeRegistrationResponse{Node: saved, JoinToken: saved.JoinToken})
}

func (s *Server) handleNodePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req NodePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	node, ok, err := s.Store.GetNode(req.ID)
	if err != nil {
		http.Error(w, "failed to read node", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	if req.Enabled != nil {
		node.Enabled = *req.Enabled
	}
	if req.BlockAds != nil {
		node.BlockAds = *req.BlockAds
	}
	if req.BlockPorn != nil {
		node.BlockPorn = *req.BlockPorn
	}
	if req.BlockTorrent != nil {
		node.BlockTorrent = *req.BlockTorrent
	}
	if req.IsRelay != nil {
		node.IsRelay = *req.IsRelay
	}
	if req.ClearRelay {
		node.RelayID = nil
	} else if req.RelayID != nil {
		node.RelayID = req.RelayID
	}
	if err := s.Store.SaveNode(&node); err != nil {
		http.Error(w, "failed to save node", http.StatusInternalServerError)
		return
	}
	_ = s.Store.AppendAudit(model.AuditEntry{
		Actor: "admin", Action: "node_policy",
		Target: node.Name, Timestamp: time.Now(),
	})
	if s.Hub != nil {
		// Relay wiring affects both sides; let everyone re-pull.
		s.Hub.BroadcastConfigChanged()
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tpls, err := s.Store.ListTemplates()
		if err != nil {
			http.Error(w, "failed to list templates", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, tpls)
	case http.MethodPost:
		var tpl model.InboundTemplate
		if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if !model.KnownProtocol(tpl.Protocol) {
			http.Error(w, "unknown protocol", http.StatusBadRequest)
			return
		}
		if !tpl.ValidPortRange() {
			http.Error(w, "invalid port range", http.StatusBadRequest)
			return
		}
		tpl.ID = 0
		tpl.Enabled = true
		if err := s.Store.CreateTemplate(&tpl); err != nil {
			http.Error(w, "failed to create template", http.StatusInternalServerError)
			return
		}
		_ = s.Store.AppendAudit(model.AuditEntry{
			Actor: "admin", Action: "create_template",
			Target: tpl.Protocol, Detail: "id=" + strconv.Itoa(int(tpl.ID)), Timestamp: time.Now(),
		})
		if s.Hub != nil {
			s.Hub.BroadcastConfigChanged()
		}
		writeJSON(w, http.StatusOK, tpl)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDisableTemplate disables a template and retires the inbounds it
// materialized so their ports return to the pool.
func (s *Server) handleDisableTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID uint `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	tpl, ok, err := s.Store.GetTemplate(req.ID)
	if err != nil {
		http.Error(w, "failed to read template", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "template not found", http.StatusNotFound)
		return
	}
	tpl.Enabled = false
	if err := s.Store.SaveTemplate(&tpl); err != nil {
		http.Error(w, "failed to save template", http.StatusInternalServerError)
		return
	}
	if err := s.Store.DeleteInboundsForTemplate(tpl.ID); err != nil {
		http.Error(w, "failed to retire inbounds", http.StatusInternalServerError)
		return
	}
	_ = s.Store.AppendAudit(model.AuditEntry{
		Actor: "admin", Action: "disable_template",
		Target: tpl.Protocol, Detail: "id=" + strconv.Itoa(int(tpl.ID)), Timestamp: time.Now(),
	})
	if s.Hub != nil {
		s.Hub.BroadcastConfigChanged()
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var plan model.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil || plan.Name == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	plan.ID = 0
	if err := s.Store.CreatePlan(&plan); err != nil {
		http.Error(w, "failed to create plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleLinkPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req PlanLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	switch {
	case req.TemplateID != 0:
		if err := s.Store.LinkPlanTemplate(req.PlanID, req.TemplateID); err != nil {
			http.Error(w, "failed to link plan", http.StatusInternalServerError)
			return
		}
	case req.GroupID != 0:
		if err := s.Store.LinkPlanGroup(req.PlanID, req.GroupID); err != nil {
			http.Error(w, "failed to link plan", http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "templateId or groupId required", http.StatusBadRequest)
		return
	}
	if s.Hub != nil {
		s.Hub.BroadcastConfigChanged()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == 0 {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	status := req.Status
	if status == "" {
		status = model.SubscriptionActive
	}
	sub := model.Subscription{
		PlanID:     req.PlanID,
		Secret:     uuid.NewString(),
		Status:     status,
		TelegramID: req.TelegramID,
	}
	if err := s.Store.CreateSubscription(&sub); err != nil {
		http.Error(w, "failed to create subscription", http.StatusInternalServerError)
		return
	}
	if s.Hub != nil {
		s.Hub.BroadcastConfigChanged()
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.Store.GetSettings()
		if err != nil {
			http.Error(w, "failed to read settings", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var settings model.FleetSettings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if err := s.Store.SaveSettings(settings); err != nil {
			http.Error(w, "failed to save settings", http.StatusInternalServerError)
			return
		}
		_ = s.Store.AppendAudit(model.AuditEntry{
			Actor: "admin", Action: "save_settings",
			Target: "fleet", Detail: "relay_auth_mode=" + settings.RelayAuthMode, Timestamp: time.Now(),
		})
		if s.Hub != nil {
			s.Hub.BroadcastConfigChanged()
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := s.Store.ListAudit(50)
	if err != nil {
		http.Error(w, "failed to list audit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleNodeConfig synthesizes and returns the engine document for the
// calling agent. Agents send the hash of their last applied config in
// X-Config-Hash; an unchanged document answers 304 without a body.
func (s *Server) handleNodeConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	node, ok := s.nodeFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	out, err := s.Synth.Synthesize(r.Context(), node.ID)
	if err != nil {
		log.Printf("synthesis failed node=%d: %v", node.ID, err)
		http.Error(w, "synthesis failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Config-Hash", out.Hash)
	if r.Header.Get("X-Config-Hash") == out.Hash {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	body, err := out.Document.Marshal()
	if err != nil {
		http.Error(w, "synthesis failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}
