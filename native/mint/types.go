package mint

import (
	"github.com/holiman/uint256"
)

// ChannelCount is the number of payment channels a mint accepts.
const ChannelCount = 2

// Trait is a single collectible attribute carried into the minted metadata.
type Trait struct {
	DisplayType string `json:"display_type,omitempty"`
	TraitType   string `json:"trait_type,omitempty"`
	Value       string `json:"value"`
	MaxValue    string `json:"max_value,omitempty"`
}

// PreLoad is a pool entry awaiting allocation.
type PreLoad struct {
	ID         string  `json:"id"`
	ImgURL     string  `json:"img_url"`
	Attributes []Trait `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the item.
func (p *PreLoad) Clone() *PreLoad {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Attributes != nil {
		clone.Attributes = append([]Trait(nil), p.Attributes...)
	}
	return &clone
}

// ContractInfo references an external contract by address and code hash.
type ContractInfo struct {
	Address  [20]byte
	CodeHash string
}

// Channel describes an accepted payment channel and its running payment total.
type Channel struct {
	Kind     string
	Contract ContractInfo
	Price    *uint256.Int
	Paid     *uint256.Int
}

// TokenTemplate shapes the public metadata attached to every minted item.
type TokenTemplate struct {
	NamePrefix  string
	Description string
}

// Config is the singleton configuration and accounting record.
type Config struct {
	Owner            [20]byte
	ReceivingAddress [20]byte
	Channels         [ChannelCount]Channel
	MintContract     ContractInfo
	EntropySeed      []byte
	RegistrationKey  string
	Token            TokenTemplate
	Total            uint64
	NumMinted        uint64
}

// Clone returns a deep copy so callers never alias stored amounts.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.EntropySeed = append([]byte(nil), c.EntropySeed...)
	for i := range c.Channels {
		clone.Channels[i].Price = cloneAmount(c.Channels[i].Price)
		clone.Channels[i].Paid = cloneAmount(c.Channels[i].Paid)
	}
	return &clone
}

// ViewingKey is the stored admin credential: the owner identity that set it and
// a one-way digest of the raw key.
type ViewingKey struct {
	Address [20]byte
	Digest  [32]byte
}

// Viewer is a claimed identity/key pair presented to the admin gate.
type Viewer struct {
	Address [20]byte
	Key     string
}

// ChannelPayment reports the cumulative amount received on one channel.
type ChannelPayment struct {
	Kind   string       `json:"kind"`
	Amount *uint256.Int `json:"-"`
}

// MintInfo is the aggregate accounting view protected by the viewing key.
type MintInfo struct {
	NumMinted uint64           `json:"num_minted"`
	Total     uint64           `json:"total"`
	Payments  []ChannelPayment `json:"payments"`
}

// InstantiateParams are supplied once when the mint is created.
type InstantiateParams struct {
	EntropySeed      []byte
	RegistrationKey  string
	Channels         [ChannelCount]Channel
	MintContract     ContractInfo
	ReceivingAddress [20]byte
	Token            TokenTemplate
}

// PaymentNotice is what a payment channel reports when funds arrive. Channel is
// the notifying contract as asserted by the host, not a caller supplied value.
type PaymentNotice struct {
	Channel [20]byte
	Sender  [20]byte
	From    [20]byte
	Amount  *uint256.Int
	Msg     []byte
}

// Allocation is the outcome of a successful draw. Payer is the identity mixed
// into the draw entropy.
type Allocation struct {
	Channel      string
	Recipient    [20]byte
	Payer        [20]byte
	Items        []PreLoad
	Instructions []Instruction
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
