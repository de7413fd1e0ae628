//go:build consul

package consul

import (
	consulapi "github.com/hashicorp/consul/api"

	"relay-fleet/pkg/model"
)

const (
	relayAuthModeKey = "relay-fleet/settings/relay_auth_mode"
	dnsResolverKey   = "relay-fleet/settings/dns_resolver"
)

// SettingsReader is the fallback consulted for switches not present in KV.
type SettingsReader interface {
	GetSettings() (model.FleetSettings, error)
}

// Settings layers Consul KV overrides over a fallback settings source, so
// fleet-wide migration switches can be flipped for every control-plane
// process at once.
type Settings struct {
	cli      *consulapi.Client
	fallback SettingsReader
}

func NewSettings(addr string, fallback SettingsReader) *Settings {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, _ := consulapi.NewClient(cfg) // runtime reports connection errors
	return &Settings{cli: cli, fallback: fallback}
}

func (s *Settings) GetSettings() (model.FleetSettings, error) {
	base, err := s.fallback.GetSettings()
	if err != nil {
		return base, err
	}
	if s.cli == nil {
		return base, nil
	}
	if v := s.kv(relayAuthModeKey); v != "" {
		base.RelayAuthMode = v
	}
	if v := s.kv(dnsResolverKey); v != "" {
		base.DNSResolver = v
	}
	return base, nil
}

// SetRelayAuthMode writes the migration switch to KV.
func (s *Settings) SetRelayAuthMode(mode string) error {
	_, err := s.cli.KV().Put(&consulapi.KVPair{Key: relayAuthModeKey, Value: []byte(mode)}, nil)
	return err
}

func (s *Settings) kv(key string) string {
	pair, _, err := s.cli.KV().Get(key, nil)
	if err != nil || pair == nil {
		return ""
	}
	return string(pair.Value)
}
