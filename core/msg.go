package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"mintmgr/core/types"
	"mintmgr/crypto"
	"mintmgr/native/mint"
)

var (
	ErrInvalidMessage   = errors.New("mint runtime: message must carry exactly one variant")
	ErrReceiptsDisabled = errors.New("mint runtime: receipt journal not configured")
)

// ContractInit references a counterparty contract in wire form.
type ContractInit struct {
	Address  string `json:"address"`
	CodeHash string `json:"code_hash"`
}

// ChannelInit configures one accepted payment channel.
type ChannelInit struct {
	Kind     string       `json:"kind"`
	Contract ContractInit `json:"contract"`
	Price    string       `json:"price"`
}

// TokenInit shapes the minted metadata.
type TokenInit struct {
	NamePrefix  string `json:"name_prefix"`
	Description string `json:"description"`
}

// InstantiateMsg creates the mint.
type InstantiateMsg struct {
	EntropySeed      string        `json:"entropy_seed"`
	RegistrationKey  string        `json:"registration_key"`
	Channels         []ChannelInit `json:"channels"`
	MintContract     ContractInit  `json:"mint_contract"`
	ReceivingAddress string        `json:"receiving_address"`
	Token            TokenInit     `json:"token"`
}

// ExecuteMsg is a state changing request. Exactly one field is set.
type ExecuteMsg struct {
	Receive       *ReceiveMsg       `json:"receive,omitempty"`
	PreLoad       *PreLoadMsg       `json:"pre_load,omitempty"`
	SetViewingKey *SetViewingKeyMsg `json:"set_viewing_key,omitempty"`
}

// ReceiveMsg is the notification a payment channel sends after moving funds
// to this contract. Msg carries the payer's mint intent and is base64 on the wire.
type ReceiveMsg struct {
	Sender string `json:"sender"`
	From   string `json:"from"`
	Amount string `json:"amount"`
	Msg    []byte `json:"msg,omitempty"`
}

// PreLoadMsg appends items to the pool.
type PreLoadMsg struct {
	NewData []mint.PreLoad `json:"new_data"`
}

// SetViewingKeyMsg rotates the admin viewing key.
type SetViewingKeyMsg struct {
	Key     string `json:"key"`
	Padding string `json:"padding,omitempty"`
}

// QueryMsg is a read-only request.
type QueryMsg struct {
	GetMintInfo *GetMintInfoQuery `json:"get_mint_info,omitempty"`
}

// GetMintInfoQuery asks for the aggregate counters.
type GetMintInfoQuery struct {
	Viewer ViewerInfo `json:"viewer"`
}

// ViewerInfo is a claimed identity and its viewing key.
type ViewerInfo struct {
	Address    string `json:"address"`
	ViewingKey string `json:"viewing_key"`
}

// ExecuteResponse reports a committed invocation.
type ExecuteResponse struct {
	Action       string             `json:"action"`
	TxHash       string             `json:"tx_hash"`
	Height       uint64             `json:"height"`
	Total        *uint64            `json:"total,omitempty"`
	Recipient    string             `json:"recipient,omitempty"`
	Items        []mint.PreLoad     `json:"items,omitempty"`
	Instructions []mint.Instruction `json:"instructions,omitempty"`
	Events       []types.Event      `json:"events,omitempty"`
}

// PaymentTotal is the running amount received on one channel.
type PaymentTotal struct {
	Kind   string `json:"kind"`
	Amount string `json:"amount"`
}

// MintInfoResponse answers get_mint_info.
type MintInfoResponse struct {
	NumMinted  uint64         `json:"num_minted"`
	Total      uint64         `json:"total"`
	AmountPaid []PaymentTotal `json:"amount_paid"`
}

// Variant names the populated field.
func (m ExecuteMsg) Variant() (string, error) {
	var names []string
	if m.Receive != nil {
		names = append(names, "receive")
	}
	if m.PreLoad != nil {
		names = append(names, "pre_load")
	}
	if m.SetViewingKey != nil {
		names = append(names, "set_viewing_key")
	}
	if len(names) != 1 {
		return "", fmt.Errorf("%w: got [%s]", ErrInvalidMessage, strings.Join(names, ", "))
	}
	return names[0], nil
}

// ParseAmount reads a decimal token amount.
func ParseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: amount required", mint.ErrInvalidParams)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", mint.ErrInvalidParams, raw, err)
	}
	return amount, nil
}

func parseIdentity(label, raw string) ([20]byte, error) {
	id, err := crypto.ParseIdentity(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %s: %v", mint.ErrInvalidParams, label, err)
	}
	return id, nil
}

func (c ContractInit) info(label string) (mint.ContractInfo, error) {
	addr, err := parseIdentity(label, c.Address)
	if err != nil {
		return mint.ContractInfo{}, err
	}
	return mint.ContractInfo{Address: addr, CodeHash: strings.TrimSpace(c.CodeHash)}, nil
}

// Params converts the wire message into engine parameters.
func (m InstantiateMsg) Params() (mint.InstantiateParams, error) {
	var params mint.InstantiateParams
	if len(m.Channels) != mint.ChannelCount {
		return params, fmt.Errorf("%w: expected %d channels, got %d", mint.ErrInvalidParams, mint.ChannelCount, len(m.Channels))
	}
	params.EntropySeed = []byte(m.EntropySeed)
	params.RegistrationKey = m.RegistrationKey
	params.Token = mint.TokenTemplate{NamePrefix: m.Token.NamePrefix, Description: m.Token.Description}
	var err error
	if params.MintContract, err = m.MintContract.info("mint contract"); err != nil {
		return params, err
	}
	if params.ReceivingAddress, err = parseIdentity("receiving address", m.ReceivingAddress); err != nil {
		return params, err
	}
	for i, ch := range m.Channels {
		contract, err := ch.Contract.info("channel " + ch.Kind)
		if err != nil {
			return params, err
		}
		price, err := ParseAmount(ch.Price)
		if err != nil {
			return params, err
		}
		params.Channels[i] = mint.Channel{Kind: ch.Kind, Contract: contract, Price: price}
	}
	return params, nil
}

// Notice converts the message into a payment notice from channel.
func (m ReceiveMsg) Notice(channel [20]byte) (mint.PaymentNotice, error) {
	sender, err := parseIdentity("sender", m.Sender)
	if err != nil {
		return mint.PaymentNotice{}, err
	}
	from, err := parseIdentity("from", m.From)
	if err != nil {
		return mint.PaymentNotice{}, err
	}
	amount, err := ParseAmount(m.Amount)
	if err != nil {
		return mint.PaymentNotice{}, err
	}
	return mint.PaymentNotice{
		Channel: channel,
		Sender:  sender,
		From:    from,
		Amount:  amount,
		Msg:     append([]byte(nil), m.Msg...),
	}, nil
}

// Viewer converts the wire viewer into the engine form.
func (v ViewerInfo) Viewer() (mint.Viewer, error) {
	addr, err := crypto.ParseIdentity(strings.TrimSpace(v.Address))
	if err != nil {
		// A malformed address can never match the stored key.
		return mint.Viewer{}, mint.ErrUnauthorized
	}
	return mint.Viewer{Address: addr, Key: v.ViewingKey}, nil
}
