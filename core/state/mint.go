package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"mintmgr/native/mint"
	"mintmgr/storage"
)

var (
	mintConfigKey     = []byte("mint/config")
	mintViewingKeyKey = []byte("mint/viewing-key")
	mintPoolPrefix    = []byte("mint/pool/")
)

func mintPoolKey(index uint64) []byte {
	buf := make([]byte, len(mintPoolPrefix)+8)
	copy(buf, mintPoolPrefix)
	binary.BigEndian.PutUint64(buf[len(mintPoolPrefix):], index)
	return buf
}

type storedChannel struct {
	Kind     string
	Address  [20]byte
	CodeHash string
	Price    *big.Int
	Paid     *big.Int
}

type storedConfig struct {
	Owner            [20]byte
	ReceivingAddress [20]byte
	Channels         []storedChannel
	MintAddress      [20]byte
	MintCodeHash     string
	EntropySeed      []byte
	RegistrationKey  string
	NamePrefix       string
	Description      string
	Total            uint64
	NumMinted        uint64
}

type storedViewingKey struct {
	Address [20]byte
	Digest  [32]byte
}

// MintStore persists mint records as RLP under fixed keys. It works over any
// storage.KV, so the host can point it at an overlay for the duration of an
// invocation.
type MintStore struct {
	kv storage.KV
}

// NewMintStore binds the store to kv.
func NewMintStore(kv storage.KV) *MintStore {
	return &MintStore{kv: kv}
}

func (s *MintStore) get(key []byte, out interface{}) (bool, error) {
	if s == nil || s.kv == nil {
		return false, errors.New("mint store: storage unavailable")
	}
	data, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("mint store: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *MintStore) put(key []byte, value interface{}) error {
	if s == nil || s.kv == nil {
		return errors.New("mint store: storage unavailable")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("mint store: encode %s: %w", key, err)
	}
	return s.kv.Put(key, encoded)
}

// MintConfigGet loads the configuration record.
func (s *MintStore) MintConfigGet() (*mint.Config, bool, error) {
	var stored storedConfig
	ok, err := s.get(mintConfigKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(stored.Channels) != mint.ChannelCount {
		return nil, false, fmt.Errorf("mint store: config carries %d channels", len(stored.Channels))
	}
	cfg := &mint.Config{
		Owner:            stored.Owner,
		ReceivingAddress: stored.ReceivingAddress,
		MintContract:     mint.ContractInfo{Address: stored.MintAddress, CodeHash: stored.MintCodeHash},
		EntropySeed:      stored.EntropySeed,
		RegistrationKey:  stored.RegistrationKey,
		Token:            mint.TokenTemplate{NamePrefix: stored.NamePrefix, Description: stored.Description},
		Total:            stored.Total,
		NumMinted:        stored.NumMinted,
	}
	for i, ch := range stored.Channels {
		price, err := toAmount(ch.Price)
		if err != nil {
			return nil, false, err
		}
		paid, err := toAmount(ch.Paid)
		if err != nil {
			return nil, false, err
		}
		cfg.Channels[i] = mint.Channel{
			Kind:     ch.Kind,
			Contract: mint.ContractInfo{Address: ch.Address, CodeHash: ch.CodeHash},
			Price:    price,
			Paid:     paid,
		}
	}
	return cfg, true, nil
}

// MintConfigPut stores the configuration record.
func (s *MintStore) MintConfigPut(cfg *mint.Config) error {
	if cfg == nil {
		return errors.New("mint store: nil config")
	}
	stored := storedConfig{
		Owner:            cfg.Owner,
		ReceivingAddress: cfg.ReceivingAddress,
		Channels:         make([]storedChannel, 0, len(cfg.Channels)),
		MintAddress:      cfg.MintContract.Address,
		MintCodeHash:     cfg.MintContract.CodeHash,
		EntropySeed:      cfg.EntropySeed,
		RegistrationKey:  cfg.RegistrationKey,
		NamePrefix:       cfg.Token.NamePrefix,
		Description:      cfg.Token.Description,
		Total:            cfg.Total,
		NumMinted:        cfg.NumMinted,
	}
	for _, ch := range cfg.Channels {
		stored.Channels = append(stored.Channels, storedChannel{
			Kind:     ch.Kind,
			Address:  ch.Contract.Address,
			CodeHash: ch.Contract.CodeHash,
			Price:    toBig(ch.Price),
			Paid:     toBig(ch.Paid),
		})
	}
	return s.put(mintConfigKey, &stored)
}

// MintPoolGet loads the item at index.
func (s *MintStore) MintPoolGet(index uint64) (*mint.PreLoad, bool, error) {
	var item mint.PreLoad
	ok, err := s.get(mintPoolKey(index), &item)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(item.Attributes) == 0 {
		item.Attributes = nil
	}
	return &item, true, nil
}

// MintPoolPut stores item at index.
func (s *MintStore) MintPoolPut(index uint64, item *mint.PreLoad) error {
	if item == nil {
		return errors.New("mint store: nil pool item")
	}
	return s.put(mintPoolKey(index), item)
}

// MintPoolDelete removes index. Missing indices are ignored.
func (s *MintStore) MintPoolDelete(index uint64) error {
	if s == nil || s.kv == nil {
		return errors.New("mint store: storage unavailable")
	}
	return s.kv.Delete(mintPoolKey(index))
}

// MintPoolHas reports whether index is occupied.
func (s *MintStore) MintPoolHas(index uint64) (bool, error) {
	if s == nil || s.kv == nil {
		return false, errors.New("mint store: storage unavailable")
	}
	return s.kv.Has(mintPoolKey(index))
}

// MintViewingKeyGet loads the admin viewing key.
func (s *MintStore) MintViewingKeyGet() (*mint.ViewingKey, bool, error) {
	var stored storedViewingKey
	ok, err := s.get(mintViewingKeyKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &mint.ViewingKey{Address: stored.Address, Digest: stored.Digest}, true, nil
}

// MintViewingKeyPut stores the admin viewing key.
func (s *MintStore) MintViewingKeyPut(vk *mint.ViewingKey) error {
	if vk == nil {
		return errors.New("mint store: nil viewing key")
	}
	return s.put(mintViewingKeyKey, &storedViewingKey{Address: vk.Address, Digest: vk.Digest})
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func toAmount(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("mint store: amount %s overflows 256 bits", v)
	}
	return out, nil
}
