package mint

import (
	"crypto/subtle"

	"lukechampine.com/blake3"
)

const viewingKeyDomain = "mintmgr/viewing-key/v1:"

type authState interface {
	MintViewingKeyGet() (*ViewingKey, bool, error)
	MintViewingKeyPut(vk *ViewingKey) error
}

// IsOwner is the single owner predicate guarding every owner-only entry point.
func IsOwner(identity [20]byte, cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return subtle.ConstantTimeCompare(identity[:], cfg.Owner[:]) == 1
}

// HashViewingKey is the one-way transform applied before a key is stored or compared.
func HashViewingKey(raw string) [32]byte {
	return blake3.Sum256([]byte(viewingKeyDomain + raw))
}

// Gate holds the admin viewing key. It is Unset until the owner first sets a key.
type Gate struct {
	state authState
}

// NewGate binds the gate to its backing state.
func NewGate(state authState) *Gate {
	return &Gate{state: state}
}

// Set stores a new key when caller is the owner. Anyone else is ignored without
// an error so the response never reveals who the owner is.
func (g *Gate) Set(cfg *Config, caller [20]byte, raw string) error {
	if g == nil || g.state == nil {
		return errNilState
	}
	if !IsOwner(caller, cfg) {
		return nil
	}
	return g.state.MintViewingKeyPut(&ViewingKey{Address: caller, Digest: HashViewingKey(raw)})
}

// Check authorises viewer against the stored key.
func (g *Gate) Check(viewer Viewer) error {
	if g == nil || g.state == nil {
		return errNilState
	}
	stored, ok, err := g.state.MintViewingKeyGet()
	if err != nil {
		return err
	}
	if !ok || stored == nil {
		return ErrUnauthorized
	}
	digest := HashViewingKey(viewer.Key)
	keyMatch := subtle.ConstantTimeCompare(digest[:], stored.Digest[:])
	addrMatch := subtle.ConstantTimeCompare(viewer.Address[:], stored.Address[:])
	if keyMatch&addrMatch != 1 {
		return ErrUnauthorized
	}
	return nil
}
