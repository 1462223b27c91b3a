package stratum

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/CADMonkey21/dlt-miner-go/work"
)

const (
	methodSubscribe     = "mining.subscribe"
	methodAuthorize     = "mining.authorize"
	methodSubmit        = "mining.submit"
	methodSetDifficulty = "mining.set_difficulty"
	methodNotify        = "mining.notify"
	methodPoolStats     = "pool.stats"

	// notifyParams is the length of the mining.notify tuple.
	notifyParams = 10
)

var fastJSON = sonic.ConfigDefault

// Request is a client to pool call.
type Request struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Message is anything the pool sends: a notification when Method is set,
// otherwise a response to one of our requests.
type Message struct {
	ID     json.RawMessage   `json:"id,omitempty"`
	Method string            `json:"method,omitempty"`
	Params []json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  json.RawMessage   `json:"error,omitempty"`
}

// PoolStats is the payload of pool.stats.
type PoolStats struct {
	Workers int64
	Blocks  int64
	Shares  int64
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (m *Message) requestID() (uint64, bool) {
	if isNull(m.ID) {
		return 0, false
	}
	id, err := strconv.ParseUint(string(m.ID), 10, 64)
	return id, err == nil
}

// decodeString accepts a JSON string or a bare number, some pools send
// numeric job ids.
func decodeString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := fastJSON.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := fastJSON.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// parseNotify decodes the positional mining.notify tuple.
func parseNotify(p []json.RawMessage) (*work.StratumJob, error) {
	if len(p) < notifyParams {
		return nil, fmt.Errorf("mining.notify has %d params, need %d", len(p), notifyParams)
	}
	job := &work.StratumJob{}
	var err error
	if job.JobID, err = decodeString(p[0]); err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	fields := []struct {
		name string
		dst  interface{}
		raw  json.RawMessage
	}{
		{"blockIndex", &job.BlockIndex, p[1]},
		{"prevHash", &job.PrevHash, p[2]},
		{"difficulty", &job.Difficulty, p[3]},
		{"difficultyBits", &job.DifficultyBits, p[4]},
		{"reward", &job.Reward, p[5]},
		{"txsJSON", &job.TxsJSON, p[6]},
		{"poolAddress", &job.PoolAddress, p[7]},
		{"timestamp", &job.Timestamp, p[8]},
		{"cleanJobs", &job.CleanJobs, p[9]},
	}
	for _, f := range fields {
		if isNull(f.raw) {
			continue
		}
		if err := fastJSON.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return job, nil
}

func parseStats(p []json.RawMessage) (PoolStats, bool) {
	if len(p) < 3 {
		return PoolStats{}, false
	}
	var s PoolStats
	for i, dst := range []*int64{&s.Workers, &s.Blocks, &s.Shares} {
		var f float64
		if err := fastJSON.Unmarshal(p[i], &f); err != nil {
			return PoolStats{}, false
		}
		*dst = int64(f)
	}
	return s, true
}
