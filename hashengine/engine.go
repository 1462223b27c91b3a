package hashengine

import (
	"encoding/hex"
	"errors"
)

// ErrMidstateUnsupported is returned when the SHA-256 implementation cannot
// export or restore its internal state.
var ErrMidstateUnsupported = errors.New("sha256 implementation does not support midstate")

// Midstate is the SHA-256 state after absorbing every full 64-byte block of
// a preimage prefix. Tail holds the prefix bytes that were not absorbed.
type Midstate struct {
	H    [8]uint32
	Len  uint64
	Tail []byte
}

// BatchParams describe one template's search space. They are never mutated
// once a batch has been started with them.
type BatchParams struct {
	H           [8]uint32
	MidstateLen uint64
	PrefixTail  []byte
	Suffix      []byte
	DiffBits    int
}

// Result is a nonce whose hash meets the requested difficulty.
type Result struct {
	Nonce int64
	Hash  string
}

// Engine is the hash primitive the miner is built on. Implementations must be
// safe for concurrent use by several lanes.
type Engine interface {
	// MineBatch hashes batchSize nonces start, start+stride, ... and returns
	// the first one meeting p.DiffBits, or nil.
	MineBatch(p *BatchParams, startNonce, stride int64, batchSize uint32) (*Result, error)
	ComputeMidstate(prefix []byte) (Midstate, error)
	// MerkleRoot takes newline-separated canonical transaction encodings.
	MerkleRoot(txLines string) string
	HashBlock(index, timestamp int64, txData, previousHash string, nonce int64, difficulty int) string
	SHA256Hex(data []byte) string
	MeetsDifficulty(hashHex string, diffBits int) bool
}

// MeetsDifficultyBytes reports whether hash has at least bits leading zero
// bits.
func MeetsDifficultyBytes(hash *[32]byte, bits int) bool {
	if bits <= 0 {
		return true
	}
	if bits > 256 {
		return false
	}
	full := bits / 8
	for i := 0; i < full; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	if rem := bits % 8; rem > 0 {
		mask := byte(0xFF) << (8 - rem)
		if hash[full]&mask != 0 {
			return false
		}
	}
	return true
}

func meetsDifficultyHex(hashHex string, bits int) bool {
	if len(hashHex) != 64 {
		return false
	}
	var hash [32]byte
	if _, err := hex.Decode(hash[:], []byte(hashHex)); err != nil {
		return false
	}
	return MeetsDifficultyBytes(&hash, bits)
}
