package miner

import (
	"errors"
	"fmt"
	"time"

	"github.com/CADMonkey21/dlt-miner-go/hashengine"
	"github.com/CADMonkey21/dlt-miner-go/logging"
	"github.com/CADMonkey21/dlt-miner-go/work"
)

// ErrNotInitialized is returned by calls made after Close.
var ErrNotInitialized = errors.New("coordinator is not running")

type State int

const (
	StateIdle State = iota
	StateInitializing
	StateMining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateMining:
		return "mining"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Handlers struct {
	// OnSolution fires once per template on its own goroutine, so it may
	// call back into the coordinator.
	OnSolution func(work.Solution)
	OnHashrate func(total float64, perLane []float64)
	OnStatus   func(string)
}

type Config struct {
	Engine           hashengine.Engine
	Threads          int
	BatchSize        uint32
	HashrateInterval time.Duration
	Handlers         Handlers
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	State       State
	Threads     int
	Hashrate    float64
	PerLane     []float64
	TotalHashes uint64
	TemplateID  uint64
}

// Coordinator fans a work template out to its lanes and collects their
// hashrate and solutions. All of its state is owned by a single loop
// goroutine; the exported methods send requests to that loop.
type Coordinator struct {
	engine   hashengine.Engine
	threads  int
	batch    uint32
	interval time.Duration
	handlers Handlers

	requests chan func()
	events   chan laneEvent
	closed   chan struct{}
	loopDone chan struct{}

	// Owned by the loop.
	lanes       []*lane
	state       State
	gen         uint64
	current     *work.WorkTemplate
	ready       int
	solved      bool
	rates       []float64
	total       float64
	totalHashes uint64
}

func newCoordinator(cfg Config) *Coordinator {
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	batch := cfg.BatchSize
	if batch == 0 {
		batch = 2000000
	}
	interval := cfg.HashrateInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Coordinator{
		engine:   cfg.Engine,
		threads:  threads,
		batch:    batch,
		interval: interval,
		handlers: cfg.Handlers,
		requests: make(chan func()),
		events:   make(chan laneEvent, 64),
		closed:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// NewCoordinator starts the coordinator loop. Lanes are spawned lazily by
// the first StartMining.
func NewCoordinator(cfg Config) *Coordinator {
	c := newCoordinator(cfg)
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.closed:
			c.terminate()
			return
		case fn := <-c.requests:
			fn()
		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

func (c *Coordinator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.requests <- func() { fn(); close(done) }:
	case <-c.closed:
		return ErrNotInitialized
	}
	<-done
	return nil
}

// Close terminates all lanes and stops the loop.
func (c *Coordinator) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	<-c.loopDone
}

// StartMining dispatches tmpl to every lane, spawning them first if needed.
func (c *Coordinator) StartMining(tmpl *work.WorkTemplate) error {
	return c.do(func() { c.startMining(tmpl) })
}

// UpdateWork replaces the template being mined. It is a no-op, returning
// false, when the coordinator is not mining.
func (c *Coordinator) UpdateWork(tmpl *work.WorkTemplate) (bool, error) {
	var updated bool
	err := c.do(func() { updated = c.updateWork(tmpl) })
	return updated, err
}

// Mine starts mining tmpl, or replaces the current work if already mining.
func (c *Coordinator) Mine(tmpl *work.WorkTemplate) error {
	return c.do(func() {
		if !c.updateWork(tmpl) {
			c.startMining(tmpl)
		}
	})
}

// StopMining stops every lane but keeps them alive for the next template.
func (c *Coordinator) StopMining() error {
	return c.do(c.stopMining)
}

// Terminate tears down every lane. The next StartMining spawns new ones.
func (c *Coordinator) Terminate() error {
	return c.do(c.terminate)
}

// SetThreads changes the lane count, tearing down the current lanes.
func (c *Coordinator) SetThreads(n int) error {
	if n < 1 {
		return fmt.Errorf("thread count must be at least 1, got %d", n)
	}
	return c.do(func() {
		c.terminate()
		c.threads = n
	})
}

func (c *Coordinator) IsMining() bool {
	var mining bool
	c.do(func() { mining = c.state != StateIdle })
	return mining
}

func (c *Coordinator) Stats() Stats {
	var s Stats
	c.do(func() { s = c.snapshot() })
	return s
}

func (c *Coordinator) snapshot() Stats {
	s := Stats{
		State:       c.state,
		Threads:     c.threads,
		Hashrate:    c.total,
		PerLane:     append([]float64(nil), c.rates...),
		TotalHashes: c.totalHashes,
	}
	if c.current != nil {
		s.TemplateID = c.current.ID
	}
	return s
}

func (c *Coordinator) status(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(msg)
	} else {
		logging.Infof("%s", msg)
	}
}

func (c *Coordinator) spawn() {
	c.lanes = make([]*lane, c.threads)
	c.rates = make([]float64, c.threads)
	c.ready = 0
	for i := range c.lanes {
		c.lanes[i] = newLane(i, c.engine, c.batch, c.interval, c.events)
		go c.lanes[i].run()
	}
	logging.Debugf("Spawned %d mining lanes", c.threads)
}

func (c *Coordinator) startMining(tmpl *work.WorkTemplate) {
	c.gen++
	c.current = tmpl
	c.solved = false
	c.resetRates()

	if c.lanes == nil {
		c.spawn()
		c.state = StateInitializing
		c.status("Starting %d mining lanes", c.threads)
		return
	}
	if c.ready < len(c.lanes) {
		c.state = StateInitializing
		return
	}
	c.dispatch()
}

func (c *Coordinator) updateWork(tmpl *work.WorkTemplate) bool {
	if c.state == StateIdle {
		return false
	}
	c.gen++
	c.current = tmpl
	c.solved = false
	c.resetRates()
	if c.state == StateMining {
		c.dispatch()
	}
	return true
}

// dispatch sends the current template to every lane: lane k starts at
// nonce k and steps by the lane count.
func (c *Coordinator) dispatch() {
	stride := int64(len(c.lanes))
	for k, l := range c.lanes {
		l.send(laneCmd{kind: cmdStart, gen: c.gen, tmpl: c.current, start: int64(k), stride: stride})
	}
	c.state = StateMining
}

func (c *Coordinator) stopAll() {
	for _, l := range c.lanes {
		l.send(laneCmd{kind: cmdStop, gen: c.gen})
	}
}

func (c *Coordinator) stopMining() {
	c.stopAll()
	c.state = StateIdle
	c.resetRates()
}

func (c *Coordinator) terminate() {
	for _, l := range c.lanes {
		l.stop()
	}
	// Events already queued by dead lanes are meaningless now.
drain:
	for {
		select {
		case <-c.events:
		default:
			break drain
		}
	}
	c.lanes = nil
	c.rates = nil
	c.total = 0
	c.ready = 0
	c.state = StateIdle
}

func (c *Coordinator) resetRates() {
	for i := range c.rates {
		c.rates[i] = 0
	}
	c.total = 0
	c.reportHashrate()
}

func (c *Coordinator) reportHashrate() {
	if c.handlers.OnHashrate != nil {
		c.handlers.OnHashrate(c.total, append([]float64(nil), c.rates...))
	}
}

func (c *Coordinator) handleEvent(ev laneEvent) {
	if ev.lane >= len(c.lanes) {
		return
	}
	c.totalHashes += ev.hashes

	switch ev.kind {
	case evReady:
		c.ready++
		if c.state == StateInitializing && c.ready == len(c.lanes) {
			c.dispatch()
			c.status("All %d lanes ready", len(c.lanes))
		}

	case evHashrate:
		if ev.gen != c.gen || c.state != StateMining {
			return
		}
		c.rates[ev.lane] = ev.rate
		c.total = 0
		for _, r := range c.rates {
			c.total += r
		}
		c.reportHashrate()

	case evSolution:
		// First solution for the current template wins; anything else is
		// a late report from a batch that was already in flight.
		if ev.gen != c.gen || c.solved || c.current == nil {
			logging.Debugf("Discarding late solution from lane %d (nonce %d)", ev.lane, ev.nonce)
			return
		}
		c.solved = true
		c.stopMining()
		c.status("Solution found by lane %d: nonce %d", ev.lane, ev.nonce)
		if c.handlers.OnSolution != nil {
			go c.handlers.OnSolution(work.Solution{TemplateID: c.current.ID, Nonce: ev.nonce, Hash: ev.hash})
		}

	case evFailure:
		logging.Errorf("Mining lane %d failed: %v", ev.lane, ev.err)
		c.status("Lane %d stopped: %v", ev.lane, ev.err)
		if ev.gen == c.gen {
			c.rates[ev.lane] = 0
		}
	}
}
