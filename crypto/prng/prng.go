// Package prng implements the seeded, replayable random stream used to draw
// pool indices. The stream key mixes a secret fixed at instantiation with
// per-invocation context a caller cannot know before submission.
package prng

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
	"lukechampine.com/blake3"
)

const entropyDomain = "mintmgr/prng/entropy/v1"

// Context carries the host supplied execution metadata mixed into every draw.
type Context struct {
	Height  uint64
	Time    int64
	ChainID string
	TxHash  [32]byte
}

// Source yields successive 32-bit values. Each call advances internal state.
type Source interface {
	NextU32() uint32
}

// Factory builds a Source from the instantiation seed and the per-call entropy.
type Factory func(seed, entropy []byte) Source

// DefaultFactory returns the ChaCha20 backed generator.
func DefaultFactory(seed, entropy []byte) Source {
	return New(seed, entropy)
}

// ExtendEntropy folds the execution context and caller identity into the
// fixed seed. Identical inputs always produce identical output.
func ExtendEntropy(ctx Context, sender [20]byte, seed []byte) []byte {
	h := blake3.New(32, nil)
	var num [8]byte
	h.Write([]byte(entropyDomain))
	binary.BigEndian.PutUint64(num[:], ctx.Height)
	h.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(ctx.Time))
	h.Write(num[:])
	binary.BigEndian.PutUint64(num[:], uint64(len(ctx.ChainID)))
	h.Write(num[:])
	h.Write([]byte(ctx.ChainID))
	h.Write(ctx.TxHash[:])
	h.Write(sender[:])
	h.Write(seed)
	return h.Sum(nil)
}

// ChaCha is a keystream generator keyed by BLAKE3(seed || entropy).
type ChaCha struct {
	cipher *chacha20.Cipher
	block  [64]byte
	pos    int
}

// New keys a fresh generator. The nonce is fixed because every key is single use.
func New(seed, entropy []byte) *ChaCha {
	material := make([]byte, 0, len(seed)+len(entropy))
	material = append(material, seed...)
	material = append(material, entropy...)
	key := blake3.Sum256(material)
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// key and nonce sizes are constants
		panic(err)
	}
	g := &ChaCha{cipher: c}
	g.refill()
	return g
}

func (g *ChaCha) refill() {
	var zero [64]byte
	g.cipher.XORKeyStream(g.block[:], zero[:])
	g.pos = 0
}

// NextU32 consumes four keystream bytes.
func (g *ChaCha) NextU32() uint32 {
	if g.pos+4 > len(g.block) {
		g.refill()
	}
	v := binary.LittleEndian.Uint32(g.block[g.pos : g.pos+4])
	g.pos += 4
	return v
}

// Index maps a raw draw onto the dense key space 1..=total. total must be non-zero.
func Index(raw uint32, total uint64) uint64 {
	return uint64(raw)%total + 1
}
