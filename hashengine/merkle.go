package hashengine

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	sha256 "github.com/minio/sha256-simd"
)

func splitLines(txLines string) []string {
	if txLines == "" {
		return nil
	}
	parts := strings.Split(txLines, "\n")
	lines := parts[:0]
	for _, p := range parts {
		if p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

// merkleRoot builds a binary tree of single SHA-256 hashes over the canonical
// transaction encodings, duplicating the last node on odd levels. An empty
// list hashes to SHA-256("").
func merkleRoot(txJSON []string) string {
	if len(txJSON) == 0 {
		return sha256Hex(nil)
	}

	level := make([]chainhash.Hash, len(txJSON))
	for i, tx := range txJSON {
		level[i] = chainhash.Hash(sha256.Sum256([]byte(tx)))
	}

	var combined [2 * chainhash.HashSize]byte
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			copy(combined[:chainhash.HashSize], level[i][:])
			copy(combined[chainhash.HashSize:], level[i+1][:])
			next = append(next, chainhash.Hash(sha256.Sum256(combined[:])))
		}
		level = next
	}

	// chainhash.Hash.String reverses bytes; the node uses plain hex order.
	return hex.EncodeToString(level[0][:])
}
