package chain

import (
	"fmt"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/netparams"
)

// BlockReward returns the coinbase subsidy for a block at height.
func BlockReward(height int64, params *netparams.Network) int64 {
	if height < 0 || params.HalvingInterval <= 0 {
		return 0
	}
	halvings := height / params.HalvingInterval
	if halvings >= params.MaxHalvings || halvings >= 63 {
		return 0
	}
	reward := params.InitialReward >> uint(halvings)
	if reward < 1 {
		return 0
	}
	return reward
}

// NewCoinbase builds the coinbase transaction paying reward plus fees to
// address. The optional fields stay at their zero value so they are left out
// of the canonical encoding.
func NewCoinbase(params *netparams.Network, address string, index, reward, fees int64, now time.Time) Transaction {
	return Transaction{
		From:      params.CoinbaseSender,
		To:        address,
		Amount:    reward + fees,
		Timestamp: now.Unix(),
		Signature: fmt.Sprintf("coinbase-%d-%d", index, now.UnixNano()),
	}
}
