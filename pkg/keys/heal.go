package keys

import (
	"fmt"
	"strings"

	"relay-fleet/pkg/model"
)

// NodeSaver is the slice of the store the heal step needs.
type NodeSaver interface {
	SaveNode(*model.Node) error
}

// UsesReality reports whether any of the node's inbounds carries a Reality
// security block.
func UsesReality(inbounds []model.Inbound) bool {
	for _, ib := range inbounds {
		if strings.Contains(ib.StreamSettings, `"reality"`) {
			return true
		}
	}
	return false
}

// HealNodeKeys regenerates the node's Reality material when the stored
// private key is invalid and at least one inbound actually uses Reality.
// It persists the node before returning so placeholder resolution in the
// same pass sees consistent keys. Returns true when a heal happened;
// a node with valid keys is a no-op.
func HealNodeKeys(s NodeSaver, node *model.Node, inbounds []model.Inbound) (bool, error) {
	if ValidPrivateKey(node.RealityPrivateKey) {
		return false, nil
	}
	if !UsesReality(inbounds) {
		return false, nil
	}
	priv, pub, sid, err := GenerateRealityKeypair()
	if err != nil {
		return false, fmt.Errorf("regenerate reality keys: %w", err)
	}
	node.RealityPrivateKey = priv
	node.RealityPublicKey = pub
	node.RealityShortID = sid
	if err := s.SaveNode(node); err != nil {
		return false, fmt.Errorf("persist healed node: %w", err)
	}
	return true, nil
}
