package mint

import (
	"fmt"

	"github.com/holiman/uint256"
)

type ledgerState interface {
	MintConfigGet() (*Config, bool, error)
	MintConfigPut(cfg *Config) error
}

// Ledger persists the configuration and accounting record.
type Ledger struct {
	state ledgerState
}

// NewLedger binds the ledger to its backing state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// Load returns a private copy of the stored configuration.
func (l *Ledger) Load() (*Config, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := l.state.MintConfigGet()
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		return nil, ErrNotInstantiated
	}
	return cfg.Clone(), nil
}

// Save writes the configuration back.
func (l *Ledger) Save(cfg *Config) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidParams)
	}
	return l.state.MintConfigPut(cfg.Clone())
}

// ChannelIndex resolves a notifying contract address to its channel slot.
func (c *Config) ChannelIndex(addr [20]byte) (int, error) {
	for i := range c.Channels {
		if c.Channels[i].Contract.Address == addr {
			return i, nil
		}
	}
	return -1, ErrUnrecognizedChannel
}

// ExpectedPayment returns price × quantity and whether the product overflowed.
func ExpectedPayment(price *uint256.Int, quantity uint32) (*uint256.Int, bool) {
	if price == nil {
		price = uint256.NewInt(0)
	}
	return new(uint256.Int).MulOverflow(price, uint256.NewInt(uint64(quantity)))
}

// ValidatePayment requires amount to equal price × quantity exactly.
func ValidatePayment(ch *Channel, amount *uint256.Int, quantity uint32) error {
	if ch == nil {
		return ErrUnrecognizedChannel
	}
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	expected, overflow := ExpectedPayment(ch.Price, quantity)
	if overflow || !amount.Eq(expected) {
		return fmt.Errorf("%w: sent %s, expected %s for %d item(s)", ErrPaymentMismatch, amount.Dec(), expected.Dec(), quantity)
	}
	return nil
}
