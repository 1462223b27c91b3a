package chain

import (
	"testing"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/netparams"
)

func TestTransactionCanonicalOmitsZeroOptionals(t *testing.T) {
	tx := Transaction{
		From:      "abc",
		To:        "def",
		Amount:    100,
		Timestamp: 1000,
		Signature: "sig",
	}
	want := `{"from":"abc","to":"def","amount":100,"timestamp":1000,"signature":"sig"}`
	if got := tx.Canonical(); got != want {
		t.Fatalf("canonical mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestTransactionCanonicalFieldOrder(t *testing.T) {
	tx := Transaction{
		From:      "a",
		To:        "b",
		Amount:    5,
		Fee:       10000,
		Data:      "memo",
		Timestamp: 7,
		Signature: "s",
		PublicKey: "pk",
	}
	want := `{"from":"a","to":"b","amount":5,"fee":10000,"data":"memo","timestamp":7,"signature":"s","public_key":"pk"}`
	if got := tx.Canonical(); got != want {
		t.Fatalf("canonical mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestTransactionCanonicalEscapesLikeNode(t *testing.T) {
	tx := Transaction{From: "a", To: "b", Data: `<x>&"q"`, Timestamp: 1, Signature: "s"}
	want := `{"from":"a","to":"b","amount":0,"data":"\u003cx\u003e\u0026\"q\"","timestamp":1,"signature":"s"}`
	if got := tx.Canonical(); got != want {
		t.Fatalf("canonical mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestTransactionCanonicalDeterministic(t *testing.T) {
	tx := Transaction{From: "x", To: "y", Amount: 1, Fee: 2, Timestamp: 3, Signature: "z"}
	if tx.Canonical() != tx.Canonical() {
		t.Fatal("two encodings of the same transaction differ")
	}
}

func TestMerkleLines(t *testing.T) {
	txs := []Transaction{
		{From: "A", To: "B", Amount: 1, Timestamp: 1, Signature: "s1"},
		{From: "C", To: "D", Amount: 2, Timestamp: 2, Signature: "s2"},
	}
	want := `{"from":"A","to":"B","amount":1,"timestamp":1,"signature":"s1"}` + "\n" +
		`{"from":"C","to":"D","amount":2,"timestamp":2,"signature":"s2"}`
	if got := MerkleLines(txs); got != want {
		t.Fatalf("merkle lines mismatch\n got: %s\nwant: %s", got, want)
	}
	if got := TotalFees([]Transaction{{Fee: 3}, {}, {Fee: 4}}); got != 7 {
		t.Fatalf("total fees = %d, want 7", got)
	}
}

func TestBlockCanonical(t *testing.T) {
	b := Block{
		Index:     6001,
		Timestamp: 1738368000,
		Transactions: []Transaction{
			{From: "SYSTEM", To: "miner", Amount: 5000000000, Timestamp: 1738368000, Signature: "coinbase-6001-1"},
		},
		MerkleRoot:     "abcd",
		PreviousHash:   "00ff",
		Hash:           "",
		Nonce:          0,
		Difficulty:     6,
		DifficultyBits: 24,
	}
	want := `{"Index":6001,"Timestamp":1738368000,"transactions":[{"from":"SYSTEM","to":"miner","amount":5000000000,"timestamp":1738368000,"signature":"coinbase-6001-1"}],"MerkleRoot":"abcd","PreviousHash":"00ff","Hash":"","Nonce":0,"Difficulty":6,"DifficultyBits":24}`
	if got := string(b.Canonical()); got != want {
		t.Fatalf("canonical mismatch\n got: %s\nwant: %s", got, want)
	}

	b.MerkleRoot = ""
	b.DifficultyBits = 0
	want = `{"Index":6001,"Timestamp":1738368000,"transactions":[{"from":"SYSTEM","to":"miner","amount":5000000000,"timestamp":1738368000,"signature":"coinbase-6001-1"}],"PreviousHash":"00ff","Hash":"","Nonce":0,"Difficulty":6}`
	if got := string(b.Canonical()); got != want {
		t.Fatalf("canonical mismatch without optionals\n got: %s\nwant: %s", got, want)
	}
}

func TestHashPreimageForkBoundary(t *testing.T) {
	params := netparams.Dilithium()
	txs := []Transaction{{From: "SYSTEM", To: "m", Amount: 1, Timestamp: 5, Signature: "c"}}
	b := Block{Index: params.MerkleRootForkHeight - 1, Timestamp: 5, Transactions: txs, MerkleRoot: "root", PreviousHash: "prev", Difficulty: 6}

	legacy := `5999` + `5` + `[{"from":"SYSTEM","to":"m","amount":1,"timestamp":5,"signature":"c"}]` + `prev`
	if got := string(b.HashPrefix(&params)); got != legacy {
		t.Fatalf("legacy prefix mismatch\n got: %s\nwant: %s", got, legacy)
	}

	b.Index = params.MerkleRootForkHeight
	if got, want := string(b.HashPrefix(&params)), "60005rootprev"; got != want {
		t.Fatalf("merkle prefix = %q, want %q", got, want)
	}
	if got := string(b.HashSuffix()); got != "6" {
		t.Fatalf("suffix = %q, want 6", got)
	}
}

func TestEffectiveDiffBits(t *testing.T) {
	if got := EffectiveDiffBits(6, 0); got != 24 {
		t.Fatalf("legacy bits = %d, want 24", got)
	}
	if got := EffectiveDiffBits(6, 30); got != 30 {
		t.Fatalf("explicit bits = %d, want 30", got)
	}
}

func TestNewCoinbase(t *testing.T) {
	params := netparams.Dilithium()
	now := time.Unix(1700000000, 123)
	cb := NewCoinbase(&params, "miner", 42, 5000, 25, now)
	if cb.From != "SYSTEM" || cb.To != "miner" || cb.Amount != 5025 {
		t.Fatalf("unexpected coinbase: %+v", cb)
	}
	if cb.Signature != "coinbase-42-1700000000000000123" {
		t.Fatalf("unexpected signature %q", cb.Signature)
	}
	want := `{"from":"SYSTEM","to":"miner","amount":5025,"timestamp":1700000000,"signature":"coinbase-42-1700000000000000123"}`
	if got := cb.Canonical(); got != want {
		t.Fatalf("coinbase canonical mismatch\n got: %s\nwant: %s", got, want)
	}
}
