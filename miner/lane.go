package miner

import (
	"fmt"
	"runtime"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/hashengine"
	"github.com/CADMonkey21/dlt-miner-go/work"
)

type cmdKind int

const (
	cmdStop cmdKind = iota
	cmdStart
)

// laneCmd fully describes what a lane should be doing, so a newer command
// can always replace an older one that has not been read yet.
type laneCmd struct {
	kind   cmdKind
	gen    uint64
	tmpl   *work.WorkTemplate
	start  int64
	stride int64
}

type eventKind int

const (
	evReady eventKind = iota
	evHashrate
	evSolution
	evFailure
)

type laneEvent struct {
	lane   int
	gen    uint64
	kind   eventKind
	rate   float64
	hashes uint64
	nonce  int64
	hash   string
	err    error
}

// lane is one hash-search worker. It owns nothing shared: commands come in
// through its mailbox and events go out on the coordinator's channel.
type lane struct {
	id       int
	engine   hashengine.Engine
	batch    uint32
	interval time.Duration

	mailbox chan laneCmd
	events  chan<- laneEvent
	quit    chan struct{}
	done    chan struct{}
}

func newLane(id int, engine hashengine.Engine, batch uint32, interval time.Duration, events chan<- laneEvent) *lane {
	return &lane{
		id:       id,
		engine:   engine,
		batch:    batch,
		interval: interval,
		mailbox:  make(chan laneCmd, 1),
		events:   events,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// send replaces any unread command with cmd. Only the coordinator sends, so
// the retry loop terminates after at most one drain.
func (l *lane) send(cmd laneCmd) {
	for {
		select {
		case l.mailbox <- cmd:
			return
		default:
		}
		select {
		case <-l.mailbox:
		default:
		}
	}
}

func (l *lane) emit(ev laneEvent) bool {
	ev.lane = l.id
	select {
	case l.events <- ev:
		return true
	case <-l.quit:
		return false
	}
}

func (l *lane) stop() {
	close(l.quit)
	<-l.done
}

func (l *lane) run() {
	defer close(l.done)
	if !l.emit(laneEvent{kind: evReady}) {
		return
	}

	var next *laneCmd
	for {
		if next == nil {
			select {
			case <-l.quit:
				return
			case cmd := <-l.mailbox:
				next = &cmd
			}
		}
		if next.kind != cmdStart {
			next = nil
			continue
		}
		var quit bool
		next, quit = l.mine(*next)
		if quit {
			return
		}
	}
}

// mine runs the batch loop for one command. It returns the command that
// interrupted it, or nil when the lane halted on its own (solution found or
// engine failure).
func (l *lane) mine(cmd laneCmd) (*laneCmd, bool) {
	params := cmd.tmpl.BatchParams()
	nonce := cmd.start
	step := cmd.stride * int64(l.batch)

	var hashes uint64
	last := time.Now()
	for {
		res, err := l.mineBatch(params, nonce, cmd.stride)
		if err != nil {
			return nil, !l.emit(laneEvent{gen: cmd.gen, kind: evFailure, hashes: hashes, err: err})
		}
		nonce += step
		hashes += uint64(l.batch)

		if res != nil {
			// New work or quit that arrived mid-batch wins over the result; a
			// stop does not, the solution was found before it.
			select {
			case <-l.quit:
				return nil, true
			case pending := <-l.mailbox:
				if pending.kind == cmdStart {
					return &pending, false
				}
			default:
			}
			ev := laneEvent{gen: cmd.gen, kind: evSolution, hashes: hashes, nonce: res.Nonce, hash: res.Hash}
			return nil, !l.emit(ev)
		}

		if elapsed := time.Since(last); elapsed >= l.interval {
			rate := float64(hashes) / elapsed.Seconds()
			if !l.emit(laneEvent{gen: cmd.gen, kind: evHashrate, rate: rate, hashes: hashes}) {
				return nil, true
			}
			hashes = 0
			last = time.Now()
		}

		runtime.Gosched()
		select {
		case <-l.quit:
			return nil, true
		case pending := <-l.mailbox:
			return &pending, false
		default:
		}
	}
}

func (l *lane) mineBatch(p *hashengine.BatchParams, start, stride int64) (res *hashengine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hash engine panic: %v", r)
		}
	}()
	return l.engine.MineBatch(p, start, stride, l.batch)
}
