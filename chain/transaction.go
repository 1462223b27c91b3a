package chain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Transaction mirrors the node's transaction record. The json tags are used
// only for decoding; encoding goes through AppendCanonical so the field order
// and omission rules never depend on a generic marshaller.
type Transaction struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee,omitempty"`
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key,omitempty"`
}

// txField is one entry of the canonical field list. omit reports whether the
// field is left out of the encoding for a given transaction.
type txField struct {
	name   string
	omit   func(*Transaction) bool
	encode func([]byte, *Transaction) []byte
}

var transactionFields = []txField{
	{name: "from", encode: func(b []byte, tx *Transaction) []byte { return appendString(b, tx.From) }},
	{name: "to", encode: func(b []byte, tx *Transaction) []byte { return appendString(b, tx.To) }},
	{name: "amount", encode: func(b []byte, tx *Transaction) []byte { return strconv.AppendInt(b, tx.Amount, 10) }},
	{
		name:   "fee",
		omit:   func(tx *Transaction) bool { return tx.Fee == 0 },
		encode: func(b []byte, tx *Transaction) []byte { return strconv.AppendInt(b, tx.Fee, 10) },
	},
	{
		name:   "data",
		omit:   func(tx *Transaction) bool { return tx.Data == "" },
		encode: func(b []byte, tx *Transaction) []byte { return appendString(b, tx.Data) },
	},
	{name: "timestamp", encode: func(b []byte, tx *Transaction) []byte { return strconv.AppendInt(b, tx.Timestamp, 10) }},
	{name: "signature", encode: func(b []byte, tx *Transaction) []byte { return appendString(b, tx.Signature) }},
	{
		name:   "public_key",
		omit:   func(tx *Transaction) bool { return tx.PublicKey == "" },
		encode: func(b []byte, tx *Transaction) []byte { return appendString(b, tx.PublicKey) },
	},
}

// AppendCanonical appends the node's byte-exact JSON form of tx to dst.
func (tx *Transaction) AppendCanonical(dst []byte) []byte {
	dst = append(dst, '{')
	first := true
	for _, f := range transactionFields {
		if f.omit != nil && f.omit(tx) {
			continue
		}
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = appendString(dst, f.name)
		dst = append(dst, ':')
		dst = f.encode(dst, tx)
	}
	return append(dst, '}')
}

// Canonical returns the canonical JSON encoding of tx.
func (tx *Transaction) Canonical() string {
	return string(tx.AppendCanonical(nil))
}

// AppendCanonicalList encodes txs as a JSON array of canonical objects.
func AppendCanonicalList(dst []byte, txs []Transaction) []byte {
	dst = append(dst, '[')
	for i := range txs {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = txs[i].AppendCanonical(dst)
	}
	return append(dst, ']')
}

// MerkleLines joins the canonical encodings with a single newline, the input
// format of the engine's merkle root function.
func MerkleLines(txs []Transaction) string {
	var sb strings.Builder
	for i := range txs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(txs[i].AppendCanonical(nil))
	}
	return sb.String()
}

// TotalFees sums the fees of txs.
func TotalFees(txs []Transaction) int64 {
	var total int64
	for i := range txs {
		total += txs[i].Fee
	}
	return total
}

// appendString writes s as a JSON string using the same escaping rules as
// the node's encoder (encoding/json, HTML-safe).
func appendString(dst []byte, s string) []byte {
	quoted, err := json.Marshal(s)
	if err != nil {
		// json.Marshal never fails for a string value.
		return append(dst, `""`...)
	}
	return append(dst, quoted...)
}
