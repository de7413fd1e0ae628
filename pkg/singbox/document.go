// Package singbox holds the engine-native configuration document and the
// translation from stored inbound records into it. The shapes here mirror
// what the engine's own parser accepts; translation is pure data mapping.
package singbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Document is one node's complete engine configuration.
type Document struct {
	Log          LogConfig     `json:"log"`
	DNS          DNSConfig     `json:"dns"`
	Inbounds     []Inbound     `json:"inbounds"`
	Outbounds    []Outbound    `json:"outbounds"`
	Route        RouteConfig   `json:"route"`
	Experimental *Experimental `json:"experimental,omitempty"`
}

type LogConfig struct {
	Level     string `json:"level"`
	Timestamp bool   `json:"timestamp"`
}

type DNSConfig struct {
	Servers []DNSServer `json:"servers"`
	Rules   []DNSRule   `json:"rules,omitempty"`
	Final   string      `json:"final,omitempty"`
}

type DNSServer struct {
	Tag     string `json:"tag"`
	Address string `json:"address"`
	Detour  string `json:"detour,omitempty"`
}

type DNSRule struct {
	RuleSet []string `json:"rule_set,omitempty"`
	Server  string   `json:"server"`
}

// Inbound carries the union of per-protocol listener fields; Type selects
// which of them the engine reads.
type Inbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Listen     string `json:"listen"`
	ListenPort int    `json:"listen_port"`

	Users []User `json:"users,omitempty"`

	// Shadowsocks.
	Method   string `json:"method,omitempty"`
	Password string `json:"password,omitempty"`

	// Hysteria2.
	UpMbps   int            `json:"up_mbps,omitempty"`
	DownMbps int            `json:"down_mbps,omitempty"`
	Obfs     *Hysteria2Obfs `json:"obfs,omitempty"`

	// TUIC.
	CongestionControl string `json:"congestion_control,omitempty"`

	// AmneziaWG.
	PrivateKey string          `json:"private_key,omitempty"`
	MTU        int             `json:"mtu,omitempty"`
	Peers      []WireGuardPeer `json:"peers,omitempty"`

	TLS       *TLSConfig       `json:"tls,omitempty"`
	Transport *TransportConfig `json:"transport,omitempty"`
}

type User struct {
	Name     string `json:"name,omitempty"`
	UUID     string `json:"uuid,omitempty"`
	Flow     string `json:"flow,omitempty"`
	Password string `json:"password,omitempty"`
	Username string `json:"username,omitempty"`
}

type Hysteria2Obfs struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
}

type WireGuardPeer struct {
	Name       string   `json:"name,omitempty"`
	PublicKey  string   `json:"public_key"`
	AllowedIPs []string `json:"allowed_ips"`
}

type TLSConfig struct {
	Enabled         bool           `json:"enabled"`
	ServerName      string         `json:"server_name,omitempty"`
	ALPN            []string       `json:"alpn,omitempty"`
	CertificatePath string         `json:"certificate_path,omitempty"`
	KeyPath         string         `json:"key_path,omitempty"`
	Reality         *RealityConfig `json:"reality,omitempty"`
}

type RealityConfig struct {
	Enabled    bool             `json:"enabled"`
	PrivateKey string           `json:"private_key"`
	ShortID    []string         `json:"short_id"`
	Handshake  RealityHandshake `json:"handshake"`
}

type RealityHandshake struct {
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`
}

type TransportConfig struct {
	Type        string `json:"type"`
	Path        string `json:"path,omitempty"`
	Host        string `json:"host,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

type Outbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server,omitempty"`
	ServerPort int    `json:"server_port,omitempty"`
	Method     string `json:"method,omitempty"`
	Password   string `json:"password,omitempty"`
}

type RouteConfig struct {
	Rules   []RouteRule `json:"rules"`
	RuleSet []RuleSet   `json:"rule_set,omitempty"`
	Final   string      `json:"final,omitempty"`
}

type RouteRule struct {
	Protocol string   `json:"protocol,omitempty"`
	RuleSet  []string `json:"rule_set,omitempty"`
	Action   string   `json:"action,omitempty"`
	Outbound string   `json:"outbound,omitempty"`
}

type RuleSet struct {
	Type           string `json:"type"`
	Tag            string `json:"tag"`
	Format         string `json:"format"`
	URL            string `json:"url"`
	DownloadDetour string `json:"download_detour,omitempty"`
}

type Experimental struct {
	ClashAPI *ClashAPI `json:"clash_api,omitempty"`
}

type ClashAPI struct {
	ExternalController string `json:"external_controller"`
}

// Marshal serializes the document the way it is shipped to nodes.
func (d *Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Hash is the stable content hash callers use to detect "no change"
// without re-parsing the document.
func (d *Document) Hash() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
