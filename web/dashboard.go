package web

import (
	"net/http"
	"runtime"

	"github.com/bytedance/sonic"
)

// Status is the miner's JSON status document.
type Status struct {
	Mode           string    `json:"mode"`
	State          string    `json:"state"`
	Address        string    `json:"address"`
	Threads        int       `json:"threads"`
	Hashrate       float64   `json:"hashrate_hs"`
	HashrateText   string    `json:"hashrate"`
	PerLane        []float64 `json:"lane_hashrate_hs"`
	TotalHashes    uint64    `json:"total_hashes"`
	Height         int64     `json:"height"`
	BlocksFound    uint64    `json:"blocks_found"`
	BlocksRejected uint64    `json:"blocks_rejected"`
	SharesAccepted uint64    `json:"shares_accepted"`
	SharesRejected uint64    `json:"shares_rejected"`
	SharesPending  uint64    `json:"shares_pending"`
	Earnings       string    `json:"earnings_dlt"`
	Pool           string    `json:"pool_state,omitempty"`
	PoolWorkers    int64     `json:"pool_workers,omitempty"`
	Uptime         string    `json:"uptime"`
	UptimeSeconds  int64     `json:"uptime_secs"`
	GoRoutines     int       `json:"go_routines"`
}

// NewDashboard returns a JSON status page at "/". snapshot is called once
// per request.
func NewDashboard(snapshot func() Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		s := snapshot()
		s.GoRoutines = runtime.NumGoroutine()
		body, err := sonic.Marshal(&s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
}
