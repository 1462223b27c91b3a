package work

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/CADMonkey21/dlt-miner-go/chain"
)

// StratumJob is one mining.notify from the pool. On the wire it is a
// positional tuple:
// [jobId, blockIndex, prevHash, difficulty, difficultyBits, reward, txsJSON,
// poolAddress, timestamp, cleanJobs].
type StratumJob struct {
	JobID          string
	BlockIndex     int64
	PrevHash       string
	Difficulty     int
	DifficultyBits int
	Reward         int64
	TxsJSON        string
	PoolAddress    string
	Timestamp      int64
	CleanJobs      bool
}

// Transactions decodes the job's pending transaction list. An empty list,
// "null" or an undecodable payload yields no transactions.
func (j *StratumJob) Transactions() ([]chain.Transaction, error) {
	if j.TxsJSON == "" || j.TxsJSON == "null" {
		return nil, nil
	}
	var txs []chain.Transaction
	if err := sonic.UnmarshalString(j.TxsJSON, &txs); err != nil {
		return nil, fmt.Errorf("decode job %s transactions: %w", j.JobID, err)
	}
	return txs, nil
}
