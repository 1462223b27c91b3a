package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/chain"
	"github.com/CADMonkey21/dlt-miner-go/config"
	"github.com/CADMonkey21/dlt-miner-go/hashengine"
	"github.com/CADMonkey21/dlt-miner-go/journal"
	"github.com/CADMonkey21/dlt-miner-go/logging"
	"github.com/CADMonkey21/dlt-miner-go/miner"
	"github.com/CADMonkey21/dlt-miner-go/netparams"
	"github.com/CADMonkey21/dlt-miner-go/rpc"
	"github.com/CADMonkey21/dlt-miner-go/stratum"
	"github.com/CADMonkey21/dlt-miner-go/util"
	"github.com/CADMonkey21/dlt-miner-go/web"
	"github.com/CADMonkey21/dlt-miner-go/work"
)

/* -------------------------------------------------------------------- */
/*  Statistics                                                          */
/* -------------------------------------------------------------------- */

type minerStats struct {
	start   time.Time
	mode    string
	address string
	coord   *miner.Coordinator
	pool    *stratum.Client
	journal *journal.Store

	height         atomic.Int64
	blocksFound    atomic.Uint64
	blocksRejected atomic.Uint64
	earnings       atomic.Int64
	poolStats      atomic.Pointer[stratum.PoolStats]
}

func (s *minerStats) record(rec journal.Record) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(rec); err != nil {
		logging.Warnf("JOURNAL: %v", err)
	}
}

func (s *minerStats) blockAccepted(b *chain.Block) {
	reward := b.Transactions[0].Amount
	s.blocksFound.Add(1)
	s.earnings.Add(reward)
	logging.Successf("BLOCK #%d ACCEPTED! Reward %s DLT (hash %s)", b.Index, chain.FormatDLT(reward), b.Hash)
	s.record(journal.Record{Kind: journal.KindBlock, Height: b.Index, Nonce: b.Nonce, Hash: b.Hash, Accepted: true, Reward: reward})
}

func (s *minerStats) blockRejected(b *chain.Block, reason string) {
	s.blocksRejected.Add(1)
	logging.Warnf("Block #%d rejected: %s", b.Index, reason)
	s.record(journal.Record{Kind: journal.KindBlock, Height: b.Index, Nonce: b.Nonce, Hash: b.Hash, Message: reason})
}

func (s *minerStats) shareResult(accepted bool, reason string) {
	if accepted {
		logging.Successf("Share accepted by pool")
	} else {
		logging.Warnf("Share rejected: %s", reason)
	}
	s.record(journal.Record{Kind: journal.KindShare, Height: s.height.Load(), Accepted: accepted, Message: reason})
}

func (s *minerStats) snapshot() web.Status {
	cs := s.coord.Stats()
	uptime := time.Since(s.start)
	st := web.Status{
		Mode:           s.mode,
		State:          cs.State.String(),
		Address:        s.address,
		Threads:        cs.Threads,
		Hashrate:       cs.Hashrate,
		HashrateText:   util.FormatHashrate(cs.Hashrate),
		PerLane:        cs.PerLane,
		TotalHashes:    cs.TotalHashes,
		Height:         s.height.Load(),
		BlocksFound:    s.blocksFound.Load(),
		BlocksRejected: s.blocksRejected.Load(),
		Earnings:       chain.FormatDLT(s.earnings.Load()),
		Uptime:         util.FormatUptime(uptime),
		UptimeSeconds:  int64(uptime / time.Second),
	}
	if s.pool != nil {
		ss := s.pool.Stats()
		st.SharesAccepted = ss.Accepted
		st.SharesRejected = ss.Rejected
		st.SharesPending = ss.Submitted - ss.Accepted - ss.Rejected
		st.Pool = s.pool.State().String()
		if ps := s.poolStats.Load(); ps != nil {
			st.PoolWorkers = ps.Workers
		}
	}
	return st
}

func logStats(ctx context.Context, s *minerStats) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := s.snapshot()
		logging.Infof("Miner: %s on %d threads (%s)  |  Height: %d  |  Uptime: %s",
			st.HashrateText, st.Threads, st.State, st.Height, st.Uptime)
		if s.mode == config.ModePool {
			logging.Infof(" Shares: %d accepted, %d rejected (%.2f%%)  |  Pool: %s",
				st.SharesAccepted, st.SharesRejected, util.AcceptRate(st.SharesAccepted, st.SharesRejected), st.Pool)
		} else {
			logging.Infof(" Blocks: %d found, %d rejected  |  Earned: %s DLT",
				st.BlocksFound, st.BlocksRejected, st.Earnings)
		}
		if s.journal != nil {
			t := s.journal.Totals()
			logging.Debugf(" Lifetime: %d blocks, %d shares accepted, %s DLT",
				t.BlocksAccepted, t.SharesAccepted, chain.FormatDLT(t.Earnings))
		}
	}
}

func serveStatus(ctx context.Context, port int, s *minerStats) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           web.NewDashboard(s.snapshot),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logging.Infof("MAIN: Status page on :%d", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Errorf("MAIN: status server: %v", err)
	}
}

/* -------------------------------------------------------------------- */
/*  main                                                                */
/* -------------------------------------------------------------------- */

func main() {
	/* ----- configuration -------------------------------------------- */
	if err := config.LoadConfig(os.Args[1:]); err != nil {
		logging.Fatalf("MAIN: %v", err)
	}
	cfg := config.Active
	if err := cfg.Validate(); err != nil {
		logging.Fatalf("MAIN: invalid configuration: %v", err)
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.SetLogLevel(level)
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			logging.Fatalf("MAIN: open log file: %v", err)
		}
		defer logFile.Close()
		logging.SetLogFile(logFile)
	}
	if err := netparams.SetNetwork(cfg.Network); err != nil {
		logging.Fatalf("MAIN: %v", err)
	}
	logging.Infof("dlt-miner starting up: %s mode, %d threads, paying %s", cfg.Mode, cfg.Threads, cfg.Address)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := &minerStats{start: time.Now(), mode: cfg.Mode, address: cfg.Address}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			logging.Fatalf("MAIN: %v", err)
		}
		defer j.Close()
		t := j.Totals()
		logging.Infof("MAIN: Journal %s: %d blocks found, %d shares accepted so far", cfg.JournalPath, t.BlocksAccepted, t.SharesAccepted)
		stats.journal = j
	}

	/* ----- coordinator and template builder ------------------------- */
	engine := hashengine.NewSIMD()
	var wm *work.WorkManager

	coord := miner.NewCoordinator(miner.Config{
		Engine:           engine,
		Threads:          cfg.Threads,
		BatchSize:        cfg.BatchSize,
		HashrateInterval: cfg.HashrateInterval,
		Handlers: miner.Handlers{
			OnSolution: func(sol work.Solution) {
				if cfg.Mode == config.ModePool {
					wm.OnShareFound(sol)
				} else {
					wm.OnSolutionFound(ctx, sol)
				}
			},
			OnStatus: logging.StatusFunc("MINER"),
		},
	})
	defer coord.Close()
	stats.coord = coord

	handlers := work.Handlers{
		OnTemplate: func(t *work.WorkTemplate) {
			stats.height.Store(t.Height)
			if err := coord.Mine(t); err != nil {
				logging.Errorf("MAIN: cannot mine template %d: %v", t.ID, err)
			}
		},
		OnBlockAccepted: stats.blockAccepted,
		OnBlockRejected: stats.blockRejected,
		OnShare: func(jobID string, nonce int64, hash string) {
			logging.Debugf("Share job=%s nonce=%d hash=%s", jobID, nonce, hash)
		},
		OnStatus: logging.StatusFunc("WORK"),
	}

	switch cfg.Mode {
	case config.ModeSolo:
		node := rpc.NewClient(cfg.NodeURL, cfg.NodeProxy, cfg.RequestTimeout)
		wm = work.NewWorkManager(work.Config{
			Engine:       engine,
			Params:       &netparams.ActiveNetwork,
			Address:      cfg.Address,
			Node:         node,
			PollInterval: cfg.PollInterval,
			Handlers:     handlers,
		})
		logging.Infof("MAIN: Solo mining against %s", node.NodeURL())
		go wm.Run(ctx)

	case config.ModePool:
		client := stratum.NewClient(stratum.Config{
			URL:            cfg.PoolURL,
			Address:        cfg.Address,
			ReconnectDelay: cfg.ReconnectDelay,
			Handlers: stratum.Handlers{
				OnWork:        func(job *work.StratumJob) { wm.HandleJob(job) },
				OnDifficulty:  func(bits int) { wm.SetShareBits(bits) },
				OnStats:       func(ps stratum.PoolStats) { stats.poolStats.Store(&ps) },
				OnShareResult: stats.shareResult,
				OnStatus:      logging.StatusFunc("POOL"),
			},
		})
		wm = work.NewWorkManager(work.Config{
			Engine:    engine,
			Params:    &netparams.ActiveNetwork,
			Address:   cfg.Address,
			Pool:      client,
			ShareBits: cfg.ShareBits,
			Handlers:  handlers,
		})
		stats.pool = client
		client.Connect(ctx)
		defer client.Disconnect()
	}

	/* ----- misc goroutines & shutdown ------------------------------- */
	go logStats(ctx, stats)
	if cfg.StatusPort > 0 {
		go serveStatus(ctx, cfg.StatusPort, stats)
	}

	logging.Infof("MAIN: Startup complete. Press Ctrl+C to exit.")
	<-ctx.Done()

	logging.Infof("MAIN: Shutting down...")
	coord.Terminate()
}
