package types

import "mintmgr/crypto/prng"

// Env is the execution context the host hands to every invocation. It stands in
// for block and transaction metadata and feeds the draw entropy.
type Env struct {
	BlockHeight uint64
	BlockTime   int64
	ChainID     string
	TxHash      [32]byte
	Contract    [20]byte
}

// EntropyContext projects the fields mixed into the random stream.
func (e Env) EntropyContext() prng.Context {
	return prng.Context{
		Height:  e.BlockHeight,
		Time:    e.BlockTime,
		ChainID: e.ChainID,
		TxHash:  e.TxHash,
	}
}
