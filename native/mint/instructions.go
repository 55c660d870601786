package mint

import (
	"strings"

	"github.com/holiman/uint256"

	"mintmgr/crypto"
)

// InstructionKind names an outbound message type.
type InstructionKind string

const (
	InstructionRegisterReceive InstructionKind = "register_receive"
	InstructionSetViewingKey   InstructionKind = "set_viewing_key"
	InstructionMintNFT         InstructionKind = "mint_nft"
	InstructionTransfer        InstructionKind = "transfer"
)

// BlockSize pads outbound messages so their length does not leak content.
const BlockSize = 256

// ContractRef is the wire form of a contract reference.
type ContractRef struct {
	Address  string `json:"address"`
	CodeHash string `json:"code_hash"`
}

// Instruction is an outbound message the engine produces for the host to submit.
// Exactly one payload field is set, matching Kind.
type Instruction struct {
	Kind            InstructionKind     `json:"kind"`
	Contract        ContractRef         `json:"contract"`
	Padding         int                 `json:"padding"`
	RegisterReceive *RegisterReceiveMsg `json:"register_receive,omitempty"`
	SetViewingKey   *SetViewingKeyMsg   `json:"set_viewing_key,omitempty"`
	MintNFT         *MintNFTMsg         `json:"mint_nft,omitempty"`
	Transfer        *TransferMsg        `json:"transfer,omitempty"`
}

// RegisterReceiveMsg asks a payment channel to notify this contract of incoming funds.
type RegisterReceiveMsg struct {
	CodeHash string `json:"code_hash"`
}

// SetViewingKeyMsg establishes a shared secret with a counterparty.
type SetViewingKeyMsg struct {
	Key string `json:"key"`
}

// MintNFTMsg mints one allocated item to its recipient.
type MintNFTMsg struct {
	TokenID        string   `json:"token_id"`
	Owner          string   `json:"owner"`
	PublicMetadata Metadata `json:"public_metadata"`
}

// TransferMsg forwards collected payment.
type TransferMsg struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// Metadata is the public token metadata.
type Metadata struct {
	TokenURI  string     `json:"token_uri,omitempty"`
	Extension *Extension `json:"extension,omitempty"`
}

// Extension carries the descriptive metadata fields.
type Extension struct {
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Attributes  []Trait     `json:"attributes,omitempty"`
	Media       []MediaFile `json:"media,omitempty"`
}

// MediaFile points at the item artwork.
type MediaFile struct {
	FileType  string `json:"file_type,omitempty"`
	Extension string `json:"extension,omitempty"`
	URL       string `json:"url"`
}

func contractRef(info ContractInfo) ContractRef {
	return ContractRef{Address: crypto.FormatIdentity(info.Address), CodeHash: info.CodeHash}
}

func registrationInstructions(cfg *Config) []Instruction {
	out := make([]Instruction, 0, 2*len(cfg.Channels)+1)
	for _, ch := range cfg.Channels {
		out = append(out, Instruction{
			Kind:            InstructionRegisterReceive,
			Contract:        contractRef(ch.Contract),
			Padding:         BlockSize,
			RegisterReceive: &RegisterReceiveMsg{CodeHash: ch.Contract.CodeHash},
		})
		out = append(out, Instruction{
			Kind:          InstructionSetViewingKey,
			Contract:      contractRef(ch.Contract),
			Padding:       BlockSize,
			SetViewingKey: &SetViewingKeyMsg{Key: cfg.RegistrationKey},
		})
	}
	out = append(out, Instruction{
		Kind:          InstructionSetViewingKey,
		Contract:      contractRef(cfg.MintContract),
		Padding:       BlockSize,
		SetViewingKey: &SetViewingKeyMsg{Key: cfg.RegistrationKey},
	})
	return out
}

// TokenName renders the public name of a minted item.
func TokenName(tpl TokenTemplate, id string) string {
	prefix := strings.TrimSpace(tpl.NamePrefix)
	if prefix == "" {
		return "#" + id
	}
	return prefix + " #" + id
}

func mintInstruction(cfg *Config, item *PreLoad, recipient [20]byte) Instruction {
	return Instruction{
		Kind:     InstructionMintNFT,
		Contract: contractRef(cfg.MintContract),
		Padding:  BlockSize,
		MintNFT: &MintNFTMsg{
			TokenID: item.ID,
			Owner:   crypto.FormatIdentity(recipient),
			PublicMetadata: Metadata{
				Extension: &Extension{
					Name:        TokenName(cfg.Token, item.ID),
					Description: cfg.Token.Description,
					Attributes:  append([]Trait(nil), item.Attributes...),
					Media: []MediaFile{{
						FileType:  "image",
						Extension: "png",
						URL:       item.ImgURL,
					}},
				},
			},
		},
	}
}

func transferInstruction(ch *Channel, recipient [20]byte, amount *uint256.Int) Instruction {
	return Instruction{
		Kind:     InstructionTransfer,
		Contract: contractRef(ch.Contract),
		Padding:  BlockSize,
		Transfer: &TransferMsg{
			Recipient: crypto.FormatIdentity(recipient),
			Amount:    amount.Dec(),
		},
	}
}
