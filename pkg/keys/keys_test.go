package keys

import (
	"encoding/base64"
	"strings"
	"testing"

	"relay-fleet/pkg/model"
)

func TestGenerateRealityKeypair(t *testing.T) {
	priv, pub, sid, err := GenerateRealityKeypair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range []string{priv, pub} {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			t.Fatalf("key not unpadded base64url: %q", s)
		}
		if len(b) != 32 {
			t.Fatalf("key length %d, want 32", len(b))
		}
	}
	if len(sid) != 16 {
		t.Fatalf("short id %q, want 16 hex chars", sid)
	}
	if !ValidPrivateKey(priv) {
		t.Fatalf("generated private key should validate")
	}
}

func TestDeriveDeterministicKeyStable(t *testing.T) {
	p1, pub1 := DeriveDeterministicKey("secret-a")
	p2, pub2 := DeriveDeterministicKey("secret-a")
	if p1 != p2 || pub1 != pub2 {
		t.Fatalf("derivation not deterministic")
	}
	p3, _ := DeriveDeterministicKey("secret-b")
	if p1 == p3 {
		t.Fatalf("different seeds produced the same key")
	}
	raw, err := base64.StdEncoding.DecodeString(p1)
	if err != nil {
		t.Fatalf("derived key not base64: %v", err)
	}
	if raw[0]&7 != 0 || raw[31]&128 != 0 || raw[31]&64 == 0 {
		t.Fatalf("derived key not clamped: %x", raw)
	}
}

func TestValidPrivateKey(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"   ", false},
		{"short", false},
		{"not base64 at all!!!", false},
		{base64.RawURLEncoding.EncodeToString(make([]byte, 32)), true},
		{base64.RawStdEncoding.EncodeToString(make([]byte, 32)), true},
		{base64.RawURLEncoding.EncodeToString(make([]byte, 31)), false},
	}
	for _, c := range cases {
		if got := ValidPrivateKey(c.in); got != c.want {
			t.Fatalf("ValidPrivateKey(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeKey(t *testing.T) {
	got := NormalizeKey("  ab+cd/ef==\n")
	if got != "ab-cd_ef" {
		t.Fatalf("normalize: got %q", got)
	}
}

type nodeSaverFunc func(*model.Node) error

func (f nodeSaverFunc) SaveNode(n *model.Node) error { return f(n) }

func TestHealNodeKeys(t *testing.T) {
	realityInbound := []model.Inbound{{StreamSettings: `{"security":"reality"}`}}

	saved := 0
	saver := nodeSaverFunc(func(*model.Node) error { saved++; return nil })

	node := &model.Node{RealityPrivateKey: "garbage"}
	healed, err := HealNodeKeys(saver, node, realityInbound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !healed || saved != 1 {
		t.Fatalf("expected heal + persist, healed=%v saved=%d", healed, saved)
	}
	if !ValidPrivateKey(node.RealityPrivateKey) || node.RealityPublicKey == "" || node.RealityShortID == "" {
		t.Fatalf("healed node still has invalid material")
	}

	// Already valid: no-op, no save.
	healed, err = HealNodeKeys(saver, node, realityInbound)
	if err != nil || healed || saved != 1 {
		t.Fatalf("expected no-op on valid keys, healed=%v err=%v saved=%d", healed, err, saved)
	}

	// Invalid key but no reality inbound: left alone.
	plain := &model.Node{RealityPrivateKey: "garbage"}
	healed, err = HealNodeKeys(saver, plain, []model.Inbound{{StreamSettings: `{"network":"tcp"}`}})
	if err != nil || healed {
		t.Fatalf("expected skip without reality inbounds")
	}
	if !strings.Contains(plain.RealityPrivateKey, "garbage") {
		t.Fatalf("node without reality inbounds should not be touched")
	}
}
