package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/chain"
	"github.com/CADMonkey21/dlt-miner-go/hashengine"
	"github.com/CADMonkey21/dlt-miner-go/logging"
	"github.com/CADMonkey21/dlt-miner-go/netparams"
	"github.com/CADMonkey21/dlt-miner-go/rpc"
)

var (
	// ErrHashMismatch means the recomputed block hash differs from the one
	// reported by the miner. The solution is discarded, never submitted.
	ErrHashMismatch = errors.New("block hash mismatch")
	// ErrStaleSolution means the solution belongs to a template that has
	// since been replaced.
	ErrStaleSolution = errors.New("stale solution")
	// ErrNoDraft means no block is being mined.
	ErrNoDraft = errors.New("no block to submit")
)

// NodeAPI is the part of the node REST API the solo builder needs.
type NodeAPI interface {
	Status(ctx context.Context) (*rpc.Status, error)
	Mempool(ctx context.Context) ([]chain.Transaction, error)
	SubmitBlock(ctx context.Context, block []byte) (string, error)
}

// ShareSubmitter sends a found share to the pool.
type ShareSubmitter interface {
	SubmitWork(jobID string, nonce int64, hash string) error
}

// Handlers receive the builder's events. Any of them may be nil.
type Handlers struct {
	OnTemplate      func(*WorkTemplate)
	OnBlockAccepted func(*chain.Block)
	OnBlockRejected func(block *chain.Block, reason string)
	OnShare         func(jobID string, nonce int64, hash string)
	OnStatus        func(string)
}

type Config struct {
	Engine  hashengine.Engine
	Params  *netparams.Network
	Address string

	// Node is used in solo mode, Pool in pool mode.
	Node NodeAPI
	Pool ShareSubmitter

	PollInterval time.Duration
	ShareBits    int
	Handlers     Handlers
}

// WorkManager turns chain state (solo) or pool jobs into work templates and
// takes solutions back for verification and submission.
type WorkManager struct {
	engine   hashengine.Engine
	params   *netparams.Network
	address  string
	node     NodeAPI
	pool     ShareSubmitter
	interval time.Duration
	handlers Handlers
	now      func() time.Time

	mu         sync.Mutex
	lastHeight int64
	lastHash   string
	draft      *chain.Block
	current    *WorkTemplate
	nextID     uint64
	latestJob  *StratumJob
	shareBits  int

	// submitMu sequences submissions to completion.
	submitMu sync.Mutex
}

func NewWorkManager(cfg Config) *WorkManager {
	params := cfg.Params
	if params == nil {
		params = &netparams.ActiveNetwork
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &WorkManager{
		engine:     cfg.Engine,
		params:     params,
		address:    cfg.Address,
		node:       cfg.Node,
		pool:       cfg.Pool,
		interval:   interval,
		handlers:   cfg.Handlers,
		now:        time.Now,
		lastHeight: -1,
		shareBits:  cfg.ShareBits,
	}
}

func (wm *WorkManager) status(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if wm.handlers.OnStatus != nil {
		wm.handlers.OnStatus(msg)
	} else {
		logging.Infof("%s", msg)
	}
}

func (wm *WorkManager) emit(t *WorkTemplate) {
	if wm.handlers.OnTemplate != nil {
		wm.handlers.OnTemplate(t)
	}
}

// Current returns the template most recently produced, or nil.
func (wm *WorkManager) Current() *WorkTemplate {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.current
}

// Run polls the node immediately and then on every tick until ctx is done.
func (wm *WorkManager) Run(ctx context.Context) error {
	if wm.node == nil {
		return errors.New("solo mining needs a node")
	}
	wm.Poll(ctx)

	ticker := time.NewTicker(wm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			wm.Poll(ctx)
		}
	}
}

// Poll fetches the chain tip and builds a new template if it moved. It
// returns nil when nothing changed or the poll failed; failures are reported
// through OnStatus and retried on the next tick.
func (wm *WorkManager) Poll(ctx context.Context) *WorkTemplate {
	st, err := wm.node.Status(ctx)
	if err != nil {
		wm.status("Poll error: %v", err)
		return nil
	}

	wm.mu.Lock()
	if st.Height == wm.lastHeight && st.LastBlockHash == wm.lastHash {
		wm.mu.Unlock()
		return nil
	}
	wm.lastHeight = st.Height
	wm.lastHash = st.LastBlockHash
	wm.mu.Unlock()

	wm.status("Chain height: %d, difficulty: %d bits (%d hex)", st.Height, st.DifficultyBits, st.Difficulty)

	pending, err := wm.node.Mempool(ctx)
	if err != nil {
		logging.Debugf("Mempool unavailable, mining without pending transactions: %v", err)
		pending = nil
	}

	// The next block's index is the current height.
	index := st.Height
	t, err := wm.build(buildInput{
		index:          index,
		prevHash:       st.LastBlockHash,
		difficulty:     st.Difficulty,
		difficultyBits: st.DifficultyBits,
		reward:         chain.BlockReward(index, wm.params),
		pending:        pending,
		payTo:          wm.address,
		mineBits:       chain.EffectiveDiffBits(st.Difficulty, st.DifficultyBits),
	})
	if err != nil {
		wm.status("Template error: %v", err)
		wm.forgetTip()
		return nil
	}
	wm.status("Mining block #%d | %d bits | %d txs", index, t.DiffBits, len(pending)+1)
	wm.emit(t)
	return t
}

// forgetTip makes the next poll rebuild even if the tip did not move.
func (wm *WorkManager) forgetTip() {
	wm.mu.Lock()
	wm.lastHeight = -1
	wm.lastHash = ""
	wm.mu.Unlock()
}

type buildInput struct {
	index          int64
	prevHash       string
	difficulty     int
	difficultyBits int
	reward         int64
	pending        []chain.Transaction
	payTo          string
	mineBits       int
	jobID          string
}

// build assembles the draft block and its work template and makes them
// current.
func (wm *WorkManager) build(in buildInput) (*WorkTemplate, error) {
	now := wm.now()
	coinbase := chain.NewCoinbase(wm.params, in.payTo, in.index, in.reward, chain.TotalFees(in.pending), now)

	txs := make([]chain.Transaction, 0, len(in.pending)+1)
	txs = append(txs, coinbase)
	txs = append(txs, in.pending...)

	block := &chain.Block{
		Index:          in.index,
		Timestamp:      now.Unix(),
		Transactions:   txs,
		MerkleRoot:     wm.engine.MerkleRoot(chain.MerkleLines(txs)),
		PreviousHash:   in.prevHash,
		Difficulty:     in.difficulty,
		DifficultyBits: in.difficultyBits,
	}

	ms, err := wm.engine.ComputeMidstate(block.HashPrefix(wm.params))
	if err != nil {
		return nil, fmt.Errorf("midstate for block %d: %w", in.index, err)
	}

	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.nextID++
	t := &WorkTemplate{
		ID:          wm.nextID,
		H:           ms.H,
		MidstateLen: ms.Len,
		PrefixTail:  ms.Tail,
		Suffix:      block.HashSuffix(),
		DiffBits:    in.mineBits,
		JobID:       in.jobID,
		Height:      in.index,
	}
	wm.draft = block
	wm.current = t
	return t, nil
}

// claim fills a copy of the current draft with the solution and checks the
// hash. The draft itself is left untouched.
func (wm *WorkManager) claim(sol Solution) (*chain.Block, *WorkTemplate, error) {
	wm.mu.Lock()
	draft, current := wm.draft, wm.current
	wm.mu.Unlock()

	if draft == nil || current == nil {
		return nil, nil, ErrNoDraft
	}
	if sol.TemplateID != current.ID {
		return nil, nil, fmt.Errorf("%w: template %d, current %d", ErrStaleSolution, sol.TemplateID, current.ID)
	}

	block := draft.Clone()
	block.Nonce = sol.Nonce
	block.Hash = sol.Hash

	expected := wm.engine.HashBlock(block.Index, block.Timestamp, block.TxData(wm.params), block.PreviousHash, block.Nonce, block.Difficulty)
	if expected != sol.Hash {
		return block, current, fmt.Errorf("%w: computed=%s expected=%s", ErrHashMismatch, sol.Hash, expected)
	}
	return block, current, nil
}

// OnSolutionFound verifies a solo solution and submits the block to the node.
func (wm *WorkManager) OnSolutionFound(ctx context.Context, sol Solution) error {
	wm.submitMu.Lock()
	defer wm.submitMu.Unlock()

	block, _, err := wm.claim(sol)
	switch {
	case errors.Is(err, ErrHashMismatch):
		logging.Errorf("HASH MISMATCH for block #%d: %v", block.Index, err)
		wm.status("HASH MISMATCH! %v", err)
		wm.forgetTip()
		return err
	case err != nil:
		wm.status("No block to submit: %v", err)
		return err
	}

	wm.status("Submitting block #%d...", block.Index)
	msg, err := wm.node.SubmitBlock(ctx, block.Canonical())
	if err != nil {
		if errors.Is(err, rpc.ErrNodeRejected) {
			wm.status("Block rejected: %s", msg)
		} else {
			wm.status("Submit error: %v", err)
		}
		if wm.handlers.OnBlockRejected != nil {
			wm.handlers.OnBlockRejected(block, err.Error())
		}
		wm.forgetTip()
		return err
	}

	wm.status("BLOCK #%d ACCEPTED!", block.Index)
	if wm.handlers.OnBlockAccepted != nil {
		wm.handlers.OnBlockAccepted(block)
	}
	return nil
}

// SetShareBits records the pool's share difficulty for the next template.
func (wm *WorkManager) SetShareBits(bits int) {
	wm.mu.Lock()
	wm.shareBits = bits
	wm.mu.Unlock()
}

func (wm *WorkManager) ShareBits() int {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.shareBits
}

// BuildPoolWork builds a template from a pool job. The lanes search at the
// share difficulty while the draft keeps the network difficulty fields.
func (wm *WorkManager) BuildPoolWork(job *StratumJob, shareBits int) (*WorkTemplate, error) {
	pending, err := job.Transactions()
	if err != nil {
		logging.Warnf("%v; mining job without pending transactions", err)
		pending = nil
	}
	payTo := job.PoolAddress
	if payTo == "" {
		payTo = wm.address
	}
	return wm.build(buildInput{
		index:          job.BlockIndex,
		prevHash:       job.PrevHash,
		difficulty:     job.Difficulty,
		difficultyBits: job.DifficultyBits,
		reward:         job.Reward,
		pending:        pending,
		payTo:          payTo,
		mineBits:       shareBits,
		jobID:          job.JobID,
	})
}

// HandleJob takes a mining.notify. A clean job, or the first job seen,
// replaces the work being mined. Other jobs are only remembered and picked up
// after the next share.
func (wm *WorkManager) HandleJob(job *StratumJob) *WorkTemplate {
	wm.mu.Lock()
	wm.latestJob = job
	replace := job.CleanJobs || wm.current == nil || wm.current.JobID == ""
	bits := wm.shareBits
	wm.mu.Unlock()

	if !replace {
		logging.Debugf("Pool job %s queued", job.JobID)
		return nil
	}
	return wm.emitPoolWork(job, bits)
}

func (wm *WorkManager) emitPoolWork(job *StratumJob, bits int) *WorkTemplate {
	t, err := wm.BuildPoolWork(job, bits)
	if err != nil {
		wm.status("Pool job %s: %v", job.JobID, err)
		return nil
	}
	wm.status("Pool job %s - block #%d | share %d bits", job.JobID, job.BlockIndex, bits)
	wm.emit(t)
	return t
}

// VerifyShare checks that a share's hash is the hash of the draft block with
// the share's nonce, and that it meets the share difficulty it was mined at.
func (wm *WorkManager) VerifyShare(sol Solution) (*WorkTemplate, error) {
	block, t, err := wm.claim(sol)
	if err != nil {
		return nil, err
	}
	if !wm.engine.MeetsDifficulty(block.Hash, t.DiffBits) {
		return nil, fmt.Errorf("share %s does not meet %d bits", block.Hash, t.DiffBits)
	}
	return t, nil
}

// OnShareFound verifies a pool share, hands it to the pool client and
// resumes mining on the most recent job.
func (wm *WorkManager) OnShareFound(sol Solution) error {
	wm.submitMu.Lock()
	defer wm.submitMu.Unlock()

	t, err := wm.VerifyShare(sol)
	if err != nil {
		if errors.Is(err, ErrHashMismatch) {
			logging.Errorf("HASH MISMATCH for share: %v", err)
		}
		wm.status("Share discarded: %v", err)
		wm.resumePool()
		return err
	}

	if err := wm.pool.SubmitWork(t.JobID, sol.Nonce, sol.Hash); err != nil {
		wm.status("Share submit error: %v", err)
	} else {
		if wm.handlers.OnShare != nil {
			wm.handlers.OnShare(t.JobID, sol.Nonce, sol.Hash)
		}
		wm.status("Share transmitted to pool (job %s)", t.JobID)
	}
	wm.resumePool()
	return err
}

// resumePool rebuilds from the latest job. The new timestamp and coinbase
// signature give a fresh preimage.
func (wm *WorkManager) resumePool() {
	wm.mu.Lock()
	job, bits := wm.latestJob, wm.shareBits
	wm.mu.Unlock()
	if job != nil {
		wm.emitPoolWork(job, bits)
	}
}
