// Package relay resolves multi-hop relay chains: the Shadowsocks outbound
// on the relay node and the matching relay-client users injected on the
// target node, under the fleet's credential migration mode.
package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"relay-fleet/pkg/model"
	"relay-fleet/pkg/store"
)

// AuthMode governs how relay passwords are derived from the join token.
type AuthMode string

const (
	// ModeLegacy ships the raw join token on both sides.
	ModeLegacy AuthMode = "legacy"
	// ModeV1 ships only the per-hop derived hash.
	ModeV1 AuthMode = "v1"
	// ModeDual ships the derived hash outbound and both user variants
	// inbound, so old and new relay binaries authenticate during a
	// rollout.
	ModeDual AuthMode = "dual"
)

// ParseAuthMode maps a stored settings string onto an AuthMode, defaulting
// to legacy for unknown values.
func ParseAuthMode(s string) AuthMode {
	switch AuthMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeV1:
		return ModeV1
	case ModeDual:
		return ModeDual
	default:
		return ModeLegacy
	}
}

// DerivePassword binds the join token to a specific hop:
// hex(SHA-256(trim(token) + ":relay:" + decimal target id)). The same
// token yields different credentials against different targets, so a leak
// on one hop cannot be replayed on another.
func DerivePassword(token string, targetID uint) string {
	payload := strings.TrimSpace(token) + ":relay:" + strconv.FormatUint(uint64(targetID), 10)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Hop describes the resolved outbound a relay node dials.
type Hop struct {
	TargetID uint
	Server   string
	Port     int
	Method   string
	Password string
}

// User is a relay-client credential injected into the target's
// Shadowsocks inbound.
type User struct {
	Name     string
	Password string
}

// Resolver reads the topology needed for relay wiring.
type Resolver struct {
	Store store.Store
}

// ResolveHop finds the outbound for a relay node. Every gap here is a
// skip, never a failure: a relay without working transport still serves
// its direct endpoints.
func (r Resolver) ResolveHop(node model.Node, mode AuthMode) (Hop, bool) {
	if !node.IsRelay || node.RelayID == nil {
		return Hop{}, false
	}
	if strings.TrimSpace(node.JoinToken) == "" {
		log.Printf("relay wiring skipped node=%d: empty join token", node.ID)
		return Hop{}, false
	}
	target, ok, err := r.Store.GetNode(*node.RelayID)
	if err != nil || !ok || !target.Enabled {
		log.Printf("relay wiring skipped node=%d: target %d unavailable (err=%v)", node.ID, *node.RelayID, err)
		return Hop{}, false
	}
	listener, ok := r.shadowsocksListener(target.ID)
	if !ok {
		log.Printf("relay wiring skipped node=%d: target %d has no shadowsocks listener", node.ID, target.ID)
		return Hop{}, false
	}
	method, ok := shadowsocksMethod(listener)
	if !ok {
		log.Printf("relay wiring skipped node=%d: listener %s has unparseable settings", node.ID, listener.Tag)
		return Hop{}, false
	}

	password := strings.TrimSpace(node.JoinToken)
	if mode == ModeV1 || mode == ModeDual {
		// Derived form is authoritative outbound under dual; legacy
		// compatibility lives only on the inbound side.
		password = DerivePassword(node.JoinToken, target.ID)
	}
	return Hop{
		TargetID: target.ID,
		Server:   target.Address,
		Port:     listener.Port,
		Method:   method,
		Password: password,
	}, true
}

// RelayUsers lists the relay-client users for a target node's Shadowsocks
// inbound: one per enrolled relay client, two under dual mode.
func (r Resolver) RelayUsers(targetID uint, mode AuthMode) ([]User, error) {
	clients, err := r.Store.RelayClientsOf(targetID)
	if err != nil {
		return nil, fmt.Errorf("list relay clients of %d: %w", targetID, err)
	}
	var out []User
	for _, c := range clients {
		token := strings.TrimSpace(c.JoinToken)
		if token == "" {
			log.Printf("relay user skipped client=%d: empty join token", c.ID)
			continue
		}
		name := fmt.Sprintf("relay_%d", c.ID)
		switch mode {
		case ModeV1:
			out = append(out, User{Name: name, Password: DerivePassword(token, targetID)})
		case ModeDual:
			out = append(out, User{Name: name, Password: DerivePassword(token, targetID)})
			out = append(out, User{Name: name + "_legacy", Password: token})
		default:
			out = append(out, User{Name: name, Password: token})
		}
	}
	return out, nil
}

// shadowsocksListener returns the target's enabled Shadowsocks inbound
// with the lowest port.
func (r Resolver) shadowsocksListener(targetID uint) (model.Inbound, bool) {
	inbounds, err := r.Store.InboundsForNode(targetID)
	if err != nil {
		return model.Inbound{}, false
	}
	var best model.Inbound
	found := false
	for _, ib := range inbounds {
		if !ib.Enabled || ib.Protocol != "shadowsocks" {
			continue
		}
		if !found || ib.Port < best.Port {
			best = ib
			found = true
		}
	}
	return best, found
}

func shadowsocksMethod(ib model.Inbound) (string, bool) {
	var settings struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(ib.Settings), &settings); err != nil || settings.Method == "" {
		return "", false
	}
	return settings.Method, true
}
