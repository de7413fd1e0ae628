package singbox

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"relay-fleet/pkg/keys"
	"relay-fleet/pkg/model"
)

// streamSettings is the stored x-ui shaped stream body.
type streamSettings struct {
	Network  string `json:"network"`
	Security string `json:"security"`
	Reality  *struct {
		Dest        string   `json:"dest"`
		ServerNames []string `json:"serverNames"`
		PrivateKey  string   `json:"privateKey"`
		ShortIDs    []string `json:"shortIds"`
	} `json:"realitySettings"`
	TLS *struct {
		ServerName      string   `json:"serverName"`
		ALPN            []string `json:"alpn"`
		CertificatePath string   `json:"certificatePath"`
		KeyPath         string   `json:"keyPath"`
	} `json:"tlsSettings"`
	WS *struct {
		Path string `json:"path"`
		Host string `json:"host"`
	} `json:"wsSettings"`
	GRPC *struct {
		ServiceName string `json:"serviceName"`
	} `json:"grpcSettings"`
	HTTPUpgrade *struct {
		Path string `json:"path"`
		Host string `json:"host"`
	} `json:"httpupgradeSettings"`
}

// inboundSettings is the union of server-side fields across the stored
// protocol settings bodies.
type inboundSettings struct {
	Method            string `json:"method"`
	Password          string `json:"password"`
	UpMbps            int    `json:"upMbps"`
	DownMbps          int    `json:"downMbps"`
	CongestionControl string `json:"congestionControl"`
	PrivateKey        string `json:"privateKey"`
	MTU               int    `json:"mtu"`
	Obfs              *struct {
		Type     string `json:"type"`
		Password string `json:"password"`
	} `json:"obfs"`
}

// TranslateInbound maps a materialized inbound plus its injected users
// onto the engine-native listener shape. Parse failures surface as errors;
// the synthesizer logs them and drops the endpoint without failing the
// document.
func TranslateInbound(ib model.Inbound, users []User, peers []WireGuardPeer) (Inbound, error) {
	var stream streamSettings
	if ib.StreamSettings != "" {
		if err := json.Unmarshal([]byte(ib.StreamSettings), &stream); err != nil {
			return Inbound{}, fmt.Errorf("parse stream settings of %s: %w", ib.Tag, err)
		}
	}
	var settings inboundSettings
	if ib.Settings != "" {
		if err := json.Unmarshal([]byte(ib.Settings), &settings); err != nil {
			return Inbound{}, fmt.Errorf("parse settings of %s: %w", ib.Tag, err)
		}
	}

	out := Inbound{
		Type:       ib.Protocol,
		Tag:        ib.Tag,
		Listen:     "::",
		ListenPort: ib.Port,
		Users:      users,
		TLS:        translateTLS(stream),
		Transport:  translateTransport(stream),
	}

	switch ib.Protocol {
	case model.ProtoShadowsocks:
		out.Method = settings.Method
		out.Password = settings.Password
	case model.ProtoHysteria2:
		out.UpMbps = settings.UpMbps
		out.DownMbps = settings.DownMbps
		if settings.Obfs != nil {
			out.Obfs = &Hysteria2Obfs{Type: settings.Obfs.Type, Password: settings.Obfs.Password}
		}
	case model.ProtoTUIC:
		out.CongestionControl = settings.CongestionControl
	case model.ProtoAmneziaWG:
		out.PrivateKey = settings.PrivateKey
		out.MTU = settings.MTU
		out.Peers = peers
		out.Users = nil
	case model.ProtoVLESS, model.ProtoTrojan, model.ProtoNaive:
		// Credential-only payloads; everything lives in Users/TLS.
	default:
		return Inbound{}, fmt.Errorf("unknown protocol %q on %s", ib.Protocol, ib.Tag)
	}
	return out, nil
}

func translateTLS(stream streamSettings) *TLSConfig {
	switch stream.Security {
	case "reality":
		if stream.Reality == nil {
			return nil
		}
		serverName := ""
		if len(stream.Reality.ServerNames) > 0 {
			serverName = stream.Reality.ServerNames[0]
		}
		host, port := splitDest(stream.Reality.Dest)
		return &TLSConfig{
			Enabled:    true,
			ServerName: serverName,
			Reality: &RealityConfig{
				Enabled:    true,
				PrivateKey: keys.NormalizeKey(stream.Reality.PrivateKey),
				ShortID:    stream.Reality.ShortIDs,
				Handshake:  RealityHandshake{Server: host, ServerPort: port},
			},
		}
	case "tls":
		tls := &TLSConfig{Enabled: true}
		if stream.TLS != nil {
			tls.ServerName = stream.TLS.ServerName
			tls.ALPN = stream.TLS.ALPN
			tls.CertificatePath = stream.TLS.CertificatePath
			tls.KeyPath = stream.TLS.KeyPath
		}
		return tls
	default:
		return nil
	}
}

func translateTransport(stream streamSettings) *TransportConfig {
	switch stream.Network {
	case "ws":
		t := &TransportConfig{Type: "ws"}
		if stream.WS != nil {
			t.Path = stream.WS.Path
			t.Host = stream.WS.Host
		}
		return t
	case "grpc":
		t := &TransportConfig{Type: "grpc"}
		if stream.GRPC != nil {
			t.ServiceName = stream.GRPC.ServiceName
		}
		return t
	case "httpupgrade":
		t := &TransportConfig{Type: "httpupgrade"}
		if stream.HTTPUpgrade != nil {
			t.Path = stream.HTTPUpgrade.Path
			t.Host = stream.HTTPUpgrade.Host
		}
		return t
	default:
		// tcp/udp need no transport block.
		return nil
	}
}

// splitDest splits a "host:port" disguise destination; a bare host
// defaults to 443.
func splitDest(dest string) (string, int) {
	host, portStr, err := net.SplitHostPort(dest)
	if err != nil {
		return strings.TrimSpace(dest), 443
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 443
	}
	return host, port
}
