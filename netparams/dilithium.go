package netparams

const dltUnit = 100000000

func Dilithium() Network {
	return Network{
		Name:                 "dilithium",
		Unit:                 dltUnit,
		InitialReward:        50 * dltUnit,
		HalvingInterval:      250000,
		MaxHalvings:          64,
		MerkleRootForkHeight: 6000,
		AddressPrefix:        "dlt1",
		CoinbaseSender:       "SYSTEM",
	}
}
