// Package journal persists found blocks and share outcomes so miner
// statistics survive a restart.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
	keyTotals     = []byte("totals")
)

type Kind uint8

const (
	KindBlock Kind = iota + 1
	KindShare
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindShare:
		return "share"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Record is one submission outcome. Reward is the coinbase amount paid to
// the miner and is only meaningful for accepted blocks.
type Record struct {
	Kind     Kind   `cbor:"1,keyasint"`
	Time     int64  `cbor:"2,keyasint"`
	Height   int64  `cbor:"3,keyasint,omitempty"`
	JobID    string `cbor:"4,keyasint,omitempty"`
	Nonce    int64  `cbor:"5,keyasint"`
	Hash     string `cbor:"6,keyasint,omitempty"`
	Accepted bool   `cbor:"7,keyasint"`
	Reward   int64  `cbor:"8,keyasint,omitempty"`
	Message  string `cbor:"9,keyasint,omitempty"`
}

type Totals struct {
	BlocksAccepted uint64 `cbor:"1,keyasint"`
	BlocksRejected uint64 `cbor:"2,keyasint"`
	SharesAccepted uint64 `cbor:"3,keyasint"`
	SharesRejected uint64 `cbor:"4,keyasint"`
	Earnings       int64  `cbor:"5,keyasint"`
}

func (t *Totals) add(rec *Record) {
	switch rec.Kind {
	case KindBlock:
		if rec.Accepted {
			t.BlocksAccepted++
			t.Earnings += rec.Reward
		} else {
			t.BlocksRejected++
		}
	case KindShare:
		if rec.Accepted {
			t.SharesAccepted++
		} else {
			t.SharesRejected++
		}
	}
}

// Store is an append-only bbolt journal. Totals are kept in memory and
// written in the same transaction as each record.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	totals Totals
	now    func() time.Time
}

// Open opens (or creates) the journal at path and loads the running totals.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if v := meta.Get(keyTotals); v != nil {
			return cbor.Unmarshal(v, &s.totals)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load journal: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores rec under the next sequence number. A zero Time is stamped
// with the current time.
func (s *Store) Append(rec Record) error {
	if rec.Kind != KindBlock && rec.Kind != KindShare {
		return fmt.Errorf("journal: unknown record kind %d", rec.Kind)
	}
	if rec.Time == 0 {
		rec.Time = s.now().Unix()
	}
	data, err := cbor.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	totals := s.totals
	totals.add(&rec)
	enc, err := cbor.Marshal(&totals)
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		if err := b.Put(key[:], data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyTotals, enc)
	})
	if err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	s.totals = totals
	return nil
}

func (s *Store) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, errors.New("journal: n must be positive")
	}
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Record
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
