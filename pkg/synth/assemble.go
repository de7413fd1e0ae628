package synth

import (
	"relay-fleet/pkg/model"
	"relay-fleet/pkg/relay"
	"relay-fleet/pkg/singbox"
)

const (
	directTag   = "direct"
	relayOutTag = "relay-out"
	blockDNSTag = "block"

	clashAPIAddr = "127.0.0.1:9090"

	ruleSetBaseURL = "https://raw.githubusercontent.com/SagerNet/sing-geosite/rule-set/"

	adsRuleSet  = "geosite-category-ads-all"
	pornRuleSet = "geosite-porn"
	p2pRuleSet  = "geosite-category-p2p"
)

// assemble builds the final document around the emitted inbounds: DNS
// stack, content-policy rules, outbounds and routing.
func assemble(node model.Node, inbounds []singbox.Inbound, hop *relay.Hop, dnsResolver string) *singbox.Document {
	if dnsResolver == "" {
		dnsResolver = "1.1.1.1"
	}
	doc := &singbox.Document{
		Log: singbox.LogConfig{Level: "warn", Timestamp: true},
		DNS: singbox.DNSConfig{
			Servers: []singbox.DNSServer{
				{Tag: "dns-remote", Address: "udp://" + dnsResolver},
				{Tag: "dns-local", Address: "local", Detour: directTag},
			},
			Final: "dns-remote",
		},
		Inbounds:  inbounds,
		Outbounds: []singbox.Outbound{{Type: "direct", Tag: directTag}},
		Experimental: &singbox.Experimental{
			ClashAPI: &singbox.ClashAPI{ExternalController: clashAPIAddr},
		},
	}

	// DNS-protocol rule always comes first.
	doc.Route.Rules = []singbox.RouteRule{{Protocol: "dns", Action: "hijack-dns"}}

	if node.BlockTorrent {
		doc.Route.RuleSet = append(doc.Route.RuleSet, remoteRuleSet(p2pRuleSet))
		doc.Route.Rules = append(doc.Route.Rules,
			singbox.RouteRule{Protocol: "bittorrent", Action: "reject"},
			singbox.RouteRule{RuleSet: []string{p2pRuleSet}, Action: "reject"},
		)
	}
	for _, policy := range []struct {
		enabled bool
		ruleSet string
	}{
		{node.BlockAds, adsRuleSet},
		{node.BlockPorn, pornRuleSet},
	} {
		if !policy.enabled {
			continue
		}
		doc.Route.RuleSet = append(doc.Route.RuleSet, remoteRuleSet(policy.ruleSet))
		doc.DNS.Rules = append(doc.DNS.Rules, singbox.DNSRule{
			RuleSet: []string{policy.ruleSet},
			Server:  blockDNSTag,
		})
		doc.Route.Rules = append(doc.Route.Rules, singbox.RouteRule{
			RuleSet: []string{policy.ruleSet},
			Action:  "reject",
		})
	}
	// The sinkhole resolver exists only while some blocking policy is on.
	if len(doc.DNS.Rules) > 0 {
		doc.DNS.Servers = append(doc.DNS.Servers, singbox.DNSServer{
			Tag:     blockDNSTag,
			Address: "127.0.0.1",
		})
	}

	doc.Route.Final = directTag
	if hop != nil {
		doc.Outbounds = append(doc.Outbounds, singbox.Outbound{
			Type:       model.ProtoShadowsocks,
			Tag:        relayOutTag,
			Server:     hop.Server,
			ServerPort: hop.Port,
			Method:     hop.Method,
			Password:   hop.Password,
		})
		doc.Route.Final = relayOutTag
	}
	return doc
}

func remoteRuleSet(tag string) singbox.RuleSet {
	return singbox.RuleSet{
		Type:           "remote",
		Tag:            tag,
		Format:         "binary",
		URL:            ruleSetBaseURL + tag + ".srs",
		DownloadDetour: directTag,
	}
}
