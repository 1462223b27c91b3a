package chain

import (
	"strconv"

	"github.com/CADMonkey21/dlt-miner-go/netparams"
)

// Block is the node's block record. Transactions[0] is always the coinbase.
type Block struct {
	Index          int64
	Timestamp      int64
	Transactions   []Transaction
	MerkleRoot     string
	PreviousHash   string
	Hash           string
	Nonce          int64
	Difficulty     int
	DifficultyBits int
}

// AppendCanonical appends the node's byte-exact JSON form of b to dst.
// Field order: Index, Timestamp, transactions, MerkleRoot?, PreviousHash,
// Hash, Nonce, Difficulty, DifficultyBits?.
func (b *Block) AppendCanonical(dst []byte) []byte {
	dst = append(dst, `{"Index":`...)
	dst = strconv.AppendInt(dst, b.Index, 10)
	dst = append(dst, `,"Timestamp":`...)
	dst = strconv.AppendInt(dst, b.Timestamp, 10)
	dst = append(dst, `,"transactions":`...)
	if b.Transactions == nil {
		dst = append(dst, "null"...)
	} else {
		dst = AppendCanonicalList(dst, b.Transactions)
	}
	if b.MerkleRoot != "" {
		dst = append(dst, `,"MerkleRoot":`...)
		dst = appendString(dst, b.MerkleRoot)
	}
	dst = append(dst, `,"PreviousHash":`...)
	dst = appendString(dst, b.PreviousHash)
	dst = append(dst, `,"Hash":`...)
	dst = appendString(dst, b.Hash)
	dst = append(dst, `,"Nonce":`...)
	dst = strconv.AppendInt(dst, b.Nonce, 10)
	dst = append(dst, `,"Difficulty":`...)
	dst = strconv.AppendInt(dst, int64(b.Difficulty), 10)
	if b.DifficultyBits != 0 {
		dst = append(dst, `,"DifficultyBits":`...)
		dst = strconv.AppendInt(dst, int64(b.DifficultyBits), 10)
	}
	return append(dst, '}')
}

// Canonical returns the canonical JSON encoding of b.
func (b *Block) Canonical() []byte {
	return b.AppendCanonical(nil)
}

// UsesMerkleRoot reports whether the hash preimage of a block at index
// commits to the merkle root rather than the legacy transaction list.
func UsesMerkleRoot(index int64, params *netparams.Network) bool {
	return index >= params.MerkleRootForkHeight
}

// TxData is the transaction component of the hash preimage.
func (b *Block) TxData(params *netparams.Network) string {
	if UsesMerkleRoot(b.Index, params) {
		return b.MerkleRoot
	}
	return string(AppendCanonicalList(nil, b.Transactions))
}

// HashPrefix is everything in the preimage before the nonce:
// Index + Timestamp + txData + PreviousHash.
func (b *Block) HashPrefix(params *netparams.Network) []byte {
	buf := strconv.AppendInt(nil, b.Index, 10)
	buf = strconv.AppendInt(buf, b.Timestamp, 10)
	buf = append(buf, b.TxData(params)...)
	return append(buf, b.PreviousHash...)
}

// HashSuffix is everything in the preimage after the nonce.
func (b *Block) HashSuffix() []byte {
	return strconv.AppendInt(nil, int64(b.Difficulty), 10)
}

// EffectiveDiffBits returns DifficultyBits, or the legacy difficulty scaled
// to bits when the node did not provide one.
func EffectiveDiffBits(difficulty, difficultyBits int) int {
	if difficultyBits > 0 {
		return difficultyBits
	}
	return difficulty * 4
}

// Clone returns a copy of b that shares no slices with the original.
func (b *Block) Clone() *Block {
	c := *b
	if b.Transactions != nil {
		c.Transactions = append([]Transaction(nil), b.Transactions...)
	}
	return &c
}
