// Package inject maps active subscriptions onto protocol-specific
// credential records for a materialized inbound.
package inject

import (
	"encoding/json"
	"fmt"
	"strings"

	"relay-fleet/pkg/keys"
	"relay-fleet/pkg/model"
	"relay-fleet/pkg/singbox"
	"relay-fleet/pkg/store"
)

// Engine resolves which subscriptions may use an inbound and produces the
// per-protocol user entries.
type Engine struct {
	Store store.Store
}

// Result is the injected credential set. AmneziaWG endpoints get peers,
// everything else gets users.
type Result struct {
	Users []singbox.User
	Peers []singbox.WireGuardPeer
}

// Empty reports whether nothing was injected. An endpoint with an empty
// result is dropped from the emitted document; the engine treats
// zero-user listeners as fatal.
func (r Result) Empty() bool {
	return len(r.Users) == 0 && len(r.Peers) == 0
}

// Inject finds the plans linked to the inbound (directly or via the
// node's groups), fetches their active subscriptions and maps each onto a
// credential record. Disabled or unlinked inbounds yield an empty result.
func (e Engine) Inject(node model.Node, ib model.Inbound) (Result, error) {
	if !ib.Enabled {
		return Result{}, nil
	}
	groups, err := e.Store.GroupsForNode(node.ID)
	if err != nil {
		return Result{}, fmt.Errorf("read node groups: %w", err)
	}
	groupIDs := make([]uint, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}
	planIDs, err := e.Store.PlanIDsForTemplate(ib.TemplateID, groupIDs)
	if err != nil {
		return Result{}, fmt.Errorf("resolve plans: %w", err)
	}
	if len(planIDs) == 0 {
		return Result{}, nil
	}
	subs, err := e.Store.ActiveSubscriptionsForPlans(planIDs)
	if err != nil {
		return Result{}, fmt.Errorf("read subscriptions: %w", err)
	}

	flow, err := vlessFlow(ib)
	if err != nil {
		return Result{}, err
	}

	var out Result
	for _, sub := range subs {
		name := fmt.Sprintf("user_%d", sub.ID)
		switch ib.Protocol {
		case model.ProtoVLESS:
			out.Users = append(out.Users, singbox.User{Name: name, UUID: sub.Secret, Flow: flow})
		case model.ProtoTUIC:
			out.Users = append(out.Users, singbox.User{Name: name, UUID: sub.Secret, Password: stripHyphens(sub.Secret)})
		case model.ProtoHysteria2, model.ProtoShadowsocks:
			out.Users = append(out.Users, singbox.User{Name: name, Password: stripHyphens(sub.Secret)})
		case model.ProtoNaive:
			out.Users = append(out.Users, singbox.User{Username: name, Password: stripHyphens(sub.Secret)})
		case model.ProtoTrojan:
			out.Users = append(out.Users, singbox.User{Name: name, Password: sub.Secret})
		case model.ProtoAmneziaWG:
			_, pub := keys.DeriveDeterministicKey(sub.Secret)
			out.Peers = append(out.Peers, singbox.WireGuardPeer{
				Name:       name,
				PublicKey:  pub,
				AllowedIPs: []string{tunnelAddress(sub.TelegramID)},
			})
		default:
			return Result{}, fmt.Errorf("unknown protocol %q on %s", ib.Protocol, ib.Tag)
		}
	}
	return out, nil
}

// vlessFlow decides the flow assignment: vision only over plain tcp with
// reality or tls security.
func vlessFlow(ib model.Inbound) (string, error) {
	if ib.Protocol != model.ProtoVLESS {
		return "", nil
	}
	var stream struct {
		Network  string `json:"network"`
		Security string `json:"security"`
	}
	if ib.StreamSettings != "" {
		if err := json.Unmarshal([]byte(ib.StreamSettings), &stream); err != nil {
			return "", fmt.Errorf("parse stream settings of %s: %w", ib.Tag, err)
		}
	}
	if stream.Network == "tcp" && (stream.Security == "reality" || stream.Security == "tls") {
		return "xtls-rprx-vision", nil
	}
	return "", nil
}

func stripHyphens(secret string) string {
	return strings.ReplaceAll(secret, "-", "")
}

// tunnelAddress maps a subscriber onto the 10.10.0.0/24 client range,
// reserving .0 and .1. More than ~248 concurrent subscribers on one
// endpoint collide; known capacity ceiling.
func tunnelAddress(telegramID int64) string {
	host := telegramID % 250
	if host < 0 {
		host = -host
	}
	return fmt.Sprintf("10.10.0.%d/32", host+2)
}
