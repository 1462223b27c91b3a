package netparams

import (
	"fmt"
	"strings"

	"github.com/CADMonkey21/dlt-miner-go/logging"
)

var ActiveNetwork = Dilithium()

type Network struct {
	Name string
	// Unit is the number of base units in one coin.
	Unit int64
	// InitialReward is the coinbase subsidy at height 0, in base units.
	InitialReward   int64
	HalvingInterval int64
	// MaxHalvings is the halving count at which the subsidy is forced to zero.
	MaxHalvings int64
	// MerkleRootForkHeight is the first height whose hash preimage commits to
	// the merkle root instead of the JSON transaction list.
	MerkleRootForkHeight int64
	AddressPrefix        string
	CoinbaseSender       string
}

// Lookup returns the parameters of a network by name.
func Lookup(name string) (Network, error) {
	switch strings.ToLower(name) {
	case "", "dilithium", "dlt", "mainnet":
		return Dilithium(), nil
	}
	return Network{}, fmt.Errorf("unsupported network %q", name)
}

// SetNetwork selects the active network parameters by name.
func SetNetwork(name string) error {
	n, err := Lookup(name)
	if err != nil {
		logging.Errorf("%s is currently not supported", name)
		return err
	}
	ActiveNetwork = n
	return nil
}
