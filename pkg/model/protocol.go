package model

// The seven wire protocols an inbound can speak. Stored lowercase in
// InboundTemplate.Protocol and Inbound.Protocol.
const (
	ProtoVLESS       = "vless"
	ProtoHysteria2   = "hysteria2"
	ProtoTrojan      = "trojan"
	ProtoTUIC        = "tuic"
	ProtoNaive       = "naive"
	ProtoShadowsocks = "shadowsocks"
	ProtoAmneziaWG   = "amneziawg"
)

// KnownProtocol reports whether p is one of the supported kinds.
func KnownProtocol(p string) bool {
	switch p {
	case ProtoVLESS, ProtoHysteria2, ProtoTrojan, ProtoTUIC,
		ProtoNaive, ProtoShadowsocks, ProtoAmneziaWG:
		return true
	}
	return false
}
