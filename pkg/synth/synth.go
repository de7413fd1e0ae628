// Package synth is the top-level config synthesis entry point: it heals
// node keys, materializes endpoints, injects users, resolves relay wiring
// and assembles the engine document for one node.
package synth

import (
	"context"
	"fmt"
	"log"

	"relay-fleet/pkg/inject"
	"relay-fleet/pkg/keys"
	"relay-fleet/pkg/model"
	"relay-fleet/pkg/relay"
	"relay-fleet/pkg/singbox"
	"relay-fleet/pkg/sni"
	"relay-fleet/pkg/store"
	"relay-fleet/pkg/templates"
)

// Validator is the final gate before a document may reach a node.
type Validator interface {
	Validate(ctx context.Context, doc *singbox.Document) error
}

// Synthesizer builds one node's complete engine configuration. Safe to run
// concurrently for different nodes; duplicate concurrent runs for the same
// node converge because materialization is keyed by deterministic tags.
type Synthesizer struct {
	Store    store.Store
	Settings store.SettingsSource
	SNI      sni.Provider
	// Validator may be nil (tests); api wiring always sets it.
	Validator Validator
}

// Output is the assembled document plus its stable content hash, so
// callers can detect "no change" without re-parsing.
type Output struct {
	Document *singbox.Document
	Hash     string
}

// Synthesize runs the full pipeline for a node. Endpoint-level data errors
// are logged and skipped; port exhaustion and validation failures abort.
func (s Synthesizer) Synthesize(ctx context.Context, nodeID uint) (*Output, error) {
	node, ok, err := s.Store.GetNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("read node %d: %w", nodeID, err)
	}
	if !ok {
		return nil, fmt.Errorf("node %d not found", nodeID)
	}
	if !node.Enabled {
		return nil, fmt.Errorf("node %d is disabled", nodeID)
	}

	settings, err := s.Settings.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("read fleet settings: %w", err)
	}
	mode := relay.ParseAuthMode(settings.RelayAuthMode)

	// Lazy heal before anything reads the key material.
	existing, err := s.Store.InboundsForNode(node.ID)
	if err != nil {
		return nil, fmt.Errorf("read inbounds: %w", err)
	}
	if healed, err := keys.HealNodeKeys(s.Store, &node, existing); err != nil {
		return nil, err
	} else if healed {
		log.Printf("healed reality keys node=%d", node.ID)
	}

	tpls, err := templates.Resolver{Store: s.Store}.Resolve(node)
	if err != nil {
		return nil, err
	}
	materializer := templates.Materializer{Store: s.Store, SNI: s.SNI}
	injector := inject.Engine{Store: s.Store}
	relayResolver := relay.Resolver{Store: s.Store}

	materialized := make([]model.Inbound, 0, len(tpls))
	for _, tpl := range tpls {
		ib, err := materializer.Materialize(&node, tpl)
		if err != nil {
			// Port exhaustion is the one materialization failure that
			// aborts the whole synthesis.
			return nil, err
		}
		materialized = append(materialized, ib)
	}

	relayUsers, err := relayResolver.RelayUsers(node.ID, mode)
	if err != nil {
		return nil, err
	}
	ssListenerTag := lowestShadowsocksTag(materialized)

	var emitted []singbox.Inbound
	relayUsersPlaced := false
	for _, ib := range materialized {
		res, err := injector.Inject(node, ib)
		if err != nil {
			log.Printf("endpoint skipped node=%d tag=%s: %v", node.ID, ib.Tag, err)
			continue
		}
		users := res.Users
		if len(relayUsers) > 0 && ib.Tag == ssListenerTag {
			for _, ru := range relayUsers {
				users = append(users, singbox.User{Name: ru.Name, Password: ru.Password})
			}
			relayUsersPlaced = true
		}
		if len(users) == 0 && len(res.Peers) == 0 {
			// Engine treats zero-user listeners as fatal; drop instead.
			log.Printf("endpoint dropped node=%d tag=%s: no authorized users", node.ID, ib.Tag)
			continue
		}
		translated, err := singbox.TranslateInbound(ib, users, res.Peers)
		if err != nil {
			log.Printf("endpoint skipped node=%d tag=%s: %v", node.ID, ib.Tag, err)
			continue
		}
		emitted = append(emitted, translated)
	}
	if len(relayUsers) > 0 && !relayUsersPlaced {
		log.Printf("relay users not placed node=%d: no shadowsocks listener emitted", node.ID)
	}

	var hop *relay.Hop
	if h, ok := relayResolver.ResolveHop(node, mode); ok {
		hop = &h
	}

	doc := assemble(node, emitted, hop, settings.DNSResolver)
	hash, err := doc.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash document: %w", err)
	}

	if s.Validator != nil {
		if err := s.Validator.Validate(ctx, doc); err != nil {
			return nil, fmt.Errorf("validate config for node %d: %w", node.ID, err)
		}
	}
	return &Output{Document: doc, Hash: hash}, nil
}

// lowestShadowsocksTag finds where relay-client users belong: the node's
// enabled Shadowsocks inbound with the lowest port.
func lowestShadowsocksTag(inbounds []model.Inbound) string {
	best := ""
	bestPort := 0
	for _, ib := range inbounds {
		if !ib.Enabled || ib.Protocol != model.ProtoShadowsocks {
			continue
		}
		if best == "" || ib.Port < bestPort {
			best = ib.Tag
			bestPort = ib.Port
		}
	}
	return best
}
