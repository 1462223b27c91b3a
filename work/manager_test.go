package work

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/chain"
	"github.com/CADMonkey21/dlt-miner-go/hashengine"
	"github.com/CADMonkey21/dlt-miner-go/netparams"
	"github.com/CADMonkey21/dlt-miner-go/rpc"
)

const minerAddr = "0123456789abcdef0123456789abcdef01234567"

type fakeNode struct {
	status      *rpc.Status
	statusErr   error
	mempool     []chain.Transaction
	mempoolErr  error
	submitMsg   string
	submitErr   error
	mempoolHits int
	submitted   [][]byte
}

func (n *fakeNode) Status(context.Context) (*rpc.Status, error) {
	if n.statusErr != nil {
		return nil, n.statusErr
	}
	s := *n.status
	return &s, nil
}

func (n *fakeNode) Mempool(context.Context) ([]chain.Transaction, error) {
	n.mempoolHits++
	return n.mempool, n.mempoolErr
}

func (n *fakeNode) SubmitBlock(_ context.Context, block []byte) (string, error) {
	n.submitted = append(n.submitted, block)
	return n.submitMsg, n.submitErr
}

type fakePool struct {
	shares []string
	err    error
}

func (p *fakePool) SubmitWork(jobID string, nonce int64, hash string) error {
	p.shares = append(p.shares, fmt.Sprintf("%s/%d/%s", jobID, nonce, hash))
	return p.err
}

type recorder struct {
	templates []*WorkTemplate
	accepted  []*chain.Block
	rejected  []string
	statuses  []string
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnTemplate:      func(t *WorkTemplate) { r.templates = append(r.templates, t) },
		OnBlockAccepted: func(b *chain.Block) { r.accepted = append(r.accepted, b) },
		OnBlockRejected: func(_ *chain.Block, reason string) { r.rejected = append(r.rejected, reason) },
		OnStatus:        func(s string) { r.statuses = append(r.statuses, s) },
	}
}

func (r *recorder) sawStatus(prefix string) bool {
	for _, s := range r.statuses {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func newTestManager(node NodeAPI, pool ShareSubmitter, rec *recorder) *WorkManager {
	params := netparams.Dilithium()
	wm := NewWorkManager(Config{
		Engine:   hashengine.NewSIMD(),
		Params:   &params,
		Address:  minerAddr,
		Node:     node,
		Pool:     pool,
		Handlers: rec.handlers(),
	})
	wm.now = func() time.Time { return time.Unix(1700000000, 123) }
	return wm
}

// solve finds a nonce for t with the real engine.
func solve(t *testing.T, tmpl *WorkTemplate, start int64) Solution {
	t.Helper()
	res, err := hashengine.NewSIMD().MineBatch(tmpl.BatchParams(), start, 1, 1<<20)
	if err != nil || res == nil {
		t.Fatalf("no solution for template %d: %v", tmpl.ID, err)
	}
	return Solution{TemplateID: tmpl.ID, Nonce: res.Nonce, Hash: res.Hash}
}

func TestPollBuildsTemplate(t *testing.T) {
	node := &fakeNode{
		status:  &rpc.Status{Height: 6100, Difficulty: 2, LastBlockHash: "00aa"},
		mempool: []chain.Transaction{{From: "a", To: "b", Amount: 10, Fee: 5, Timestamp: 1, Signature: "s"}},
	}
	rec := &recorder{}
	wm := newTestManager(node, nil, rec)

	tmpl := wm.Poll(context.Background())
	if tmpl == nil {
		t.Fatal("expected a template")
	}
	if tmpl.DiffBits != 8 {
		t.Errorf("diffBits = %d, want legacy difficulty*4 = 8", tmpl.DiffBits)
	}
	if string(tmpl.Suffix) != "2" || tmpl.MidstateLen%64 != 0 || tmpl.JobID != "" {
		t.Errorf("unexpected template %+v", tmpl)
	}
	if len(rec.templates) != 1 || rec.templates[0] != tmpl {
		t.Fatalf("OnTemplate not called once: %d", len(rec.templates))
	}

	draft := wm.draft
	if draft.Index != 6100 || draft.PreviousHash != "00aa" || draft.Timestamp != 1700000000 {
		t.Errorf("unexpected draft %+v", draft)
	}
	cb := draft.Transactions[0]
	if cb.From != "SYSTEM" || cb.To != minerAddr || cb.Amount != chain.BlockReward(6100, wm.params)+5 {
		t.Errorf("unexpected coinbase %+v", cb)
	}
	if len(draft.Transactions) != 2 || draft.Transactions[1].From != "a" {
		t.Errorf("pending transactions must follow the coinbase: %+v", draft.Transactions)
	}

	if again := wm.Poll(context.Background()); again != nil {
		t.Error("unchanged tip must not rebuild")
	}
	if node.mempoolHits != 1 || len(rec.templates) != 1 {
		t.Errorf("unchanged tip fetched mempool %d times, emitted %d templates", node.mempoolHits, len(rec.templates))
	}

	node.status.LastBlockHash = "00bb"
	if next := wm.Poll(context.Background()); next == nil || next.ID != tmpl.ID+1 {
		t.Errorf("new tip must produce a new template, got %+v", next)
	}
}

func TestPollMempoolFailureMinesCoinbaseOnly(t *testing.T) {
	node := &fakeNode{
		status:     &rpc.Status{Height: 10, DifficultyBits: 12, LastBlockHash: "00"},
		mempoolErr: errors.New("boom"),
	}
	wm := newTestManager(node, nil, &recorder{})
	tmpl := wm.Poll(context.Background())
	if tmpl == nil || tmpl.DiffBits != 12 {
		t.Fatalf("expected template with 12 bits, got %+v", tmpl)
	}
	if len(wm.draft.Transactions) != 1 {
		t.Errorf("expected only the coinbase, got %d txs", len(wm.draft.Transactions))
	}
}

func TestPollStatusFailureIsReported(t *testing.T) {
	node := &fakeNode{statusErr: errors.New("connection refused")}
	rec := &recorder{}
	wm := newTestManager(node, nil, rec)
	if wm.Poll(context.Background()) != nil {
		t.Fatal("failed poll must not produce a template")
	}
	if !rec.sawStatus("Poll error") {
		t.Errorf("poll error not reported: %v", rec.statuses)
	}
}

func TestSolutionSubmitted(t *testing.T) {
	for _, height := range []int64{100, 6000} {
		t.Run(fmt.Sprint(height), func(t *testing.T) {
			node := &fakeNode{
				status:    &rpc.Status{Height: height, Difficulty: 1, LastBlockHash: "prev"},
				submitMsg: "ok",
			}
			rec := &recorder{}
			wm := newTestManager(node, nil, rec)
			tmpl := wm.Poll(context.Background())
			sol := solve(t, tmpl, 0)

			if err := wm.OnSolutionFound(context.Background(), sol); err != nil {
				t.Fatalf("OnSolutionFound: %v", err)
			}
			if len(node.submitted) != 1 || len(rec.accepted) != 1 {
				t.Fatalf("submitted %d, accepted %d", len(node.submitted), len(rec.accepted))
			}
			want := wm.draft.Clone()
			want.Nonce, want.Hash = sol.Nonce, sol.Hash
			if got := string(node.submitted[0]); got != string(want.Canonical()) {
				t.Errorf("submitted body\n%s\nwant\n%s", got, want.Canonical())
			}
			if wm.draft.Hash != "" || wm.draft.Nonce != 0 {
				t.Error("the retained draft must not be mutated by a submission")
			}
		})
	}
}

func TestHashMismatchNeverSubmits(t *testing.T) {
	node := &fakeNode{status: &rpc.Status{Height: 7000, Difficulty: 1, LastBlockHash: "prev"}}
	rec := &recorder{}
	wm := newTestManager(node, nil, rec)
	tmpl := wm.Poll(context.Background())

	err := wm.OnSolutionFound(context.Background(), Solution{TemplateID: tmpl.ID, Nonce: 3, Hash: strings.Repeat("0", 64)})
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
	if len(node.submitted) != 0 {
		t.Error("mismatched block was submitted")
	}
	if wm.Poll(context.Background()) == nil {
		t.Error("a mismatch must force the next poll to rebuild")
	}
}

func TestStaleSolution(t *testing.T) {
	node := &fakeNode{status: &rpc.Status{Height: 7000, Difficulty: 1, LastBlockHash: "prev"}}
	wm := newTestManager(node, nil, &recorder{})
	if err := wm.OnSolutionFound(context.Background(), Solution{}); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("expected ErrNoDraft, got %v", err)
	}
	tmpl := wm.Poll(context.Background())
	err := wm.OnSolutionFound(context.Background(), Solution{TemplateID: tmpl.ID + 1, Hash: "x"})
	if !errors.Is(err, ErrStaleSolution) {
		t.Fatalf("expected ErrStaleSolution, got %v", err)
	}
}

func TestRejectedBlockRebuildsOnNextPoll(t *testing.T) {
	node := &fakeNode{
		status:    &rpc.Status{Height: 7000, Difficulty: 1, LastBlockHash: "prev"},
		submitMsg: "invalid block",
		submitErr: fmt.Errorf("%w: invalid block", rpc.ErrNodeRejected),
	}
	rec := &recorder{}
	wm := newTestManager(node, nil, rec)
	tmpl := wm.Poll(context.Background())

	err := wm.OnSolutionFound(context.Background(), solve(t, tmpl, 0))
	if !errors.Is(err, rpc.ErrNodeRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !rec.sawStatus("Block rejected: invalid block") || len(rec.rejected) != 1 {
		t.Errorf("rejection not surfaced: %v", rec.statuses)
	}
	if wm.Poll(context.Background()) == nil {
		t.Error("rejected block must force a rebuild")
	}
}

func poolJob(id string, clean bool) *StratumJob {
	return &StratumJob{
		JobID:          id,
		BlockIndex:     7001,
		PrevHash:       "poolprev",
		Difficulty:     5,
		DifficultyBits: 20,
		Reward:         5000000000,
		TxsJSON:        `[{"from":"a","to":"b","amount":7,"fee":3,"timestamp":2,"signature":"s"}]`,
		PoolAddress:    "feedfeedfeedfeedfeedfeedfeedfeedfeedfeed",
		Timestamp:      1700000000,
		CleanJobs:      clean,
	}
}

func TestBuildPoolWork(t *testing.T) {
	wm := newTestManager(nil, &fakePool{}, &recorder{})
	job := poolJob("j1", true)
	tmpl, err := wm.BuildPoolWork(job, 6)
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.DiffBits != 6 || tmpl.JobID != "j1" || string(tmpl.Suffix) != "5" {
		t.Errorf("unexpected pool template %+v", tmpl)
	}
	if wm.draft.Difficulty != 5 || wm.draft.DifficultyBits != 20 {
		t.Errorf("draft must keep the network difficulty, got %d/%d", wm.draft.Difficulty, wm.draft.DifficultyBits)
	}
	cb := wm.draft.Transactions[0]
	if cb.To != job.PoolAddress || cb.Amount != job.Reward+3 {
		t.Errorf("unexpected coinbase %+v", cb)
	}

	job.PoolAddress = ""
	job.TxsJSON = "null"
	if _, err := wm.BuildPoolWork(job, 6); err != nil {
		t.Fatal(err)
	}
	if cb := wm.draft.Transactions[0]; cb.To != minerAddr || len(wm.draft.Transactions) != 1 {
		t.Errorf("coinbase should pay the miner when the pool gives no address: %+v", wm.draft.Transactions)
	}
}

func TestHandleJobOnlyReplacesOnCleanJobs(t *testing.T) {
	rec := &recorder{}
	wm := newTestManager(nil, &fakePool{}, rec)
	wm.SetShareBits(4)

	if wm.HandleJob(poolJob("j1", false)) == nil {
		t.Fatal("the first job must produce work")
	}
	if wm.HandleJob(poolJob("j2", false)) != nil {
		t.Error("a non-clean job must not replace work being mined")
	}
	if tmpl := wm.HandleJob(poolJob("j3", true)); tmpl == nil || tmpl.JobID != "j3" {
		t.Errorf("a clean job must replace work, got %+v", tmpl)
	}
	if len(rec.templates) != 2 {
		t.Errorf("emitted %d templates, want 2", len(rec.templates))
	}
}

func TestShareSubmittedAndWorkResumes(t *testing.T) {
	rec := &recorder{}
	pool := &fakePool{}
	wm := newTestManager(nil, pool, rec)
	wm.SetShareBits(2)

	tmpl := wm.HandleJob(poolJob("j1", true))
	wm.HandleJob(poolJob("j2", false))

	sol := solve(t, tmpl, 0)
	if err := wm.OnShareFound(sol); err != nil {
		t.Fatalf("OnShareFound: %v", err)
	}
	if len(pool.shares) != 1 || pool.shares[0] != fmt.Sprintf("j1/%d/%s", sol.Nonce, sol.Hash) {
		t.Errorf("unexpected shares %v", pool.shares)
	}
	last := rec.templates[len(rec.templates)-1]
	if last.JobID != "j2" || last.ID == tmpl.ID {
		t.Errorf("mining must resume on the latest job, got %+v", last)
	}
}

func TestShareMismatchNotSubmitted(t *testing.T) {
	pool := &fakePool{}
	wm := newTestManager(nil, pool, &recorder{})
	tmpl := wm.HandleJob(poolJob("j1", true))
	err := wm.OnShareFound(Solution{TemplateID: tmpl.ID, Nonce: 1, Hash: strings.Repeat("0", 64)})
	if !errors.Is(err, ErrHashMismatch) || len(pool.shares) != 0 {
		t.Fatalf("expected mismatch and no submission, got %v, %v", err, pool.shares)
	}
}

func TestJobTransactionsMalformed(t *testing.T) {
	job := &StratumJob{JobID: "x", TxsJSON: "[{"}
	if _, err := job.Transactions(); err == nil {
		t.Error("expected decode error")
	}
}
