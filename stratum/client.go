package stratum

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CADMonkey21/dlt-miner-go/logging"
	"github.com/CADMonkey21/dlt-miner-go/work"
)

const ClientID = "dlt-webminer/1.0"

// ErrNotConnected is returned when submitting while the pool session is not
// active.
var ErrNotConnected = errors.New("not connected to pool")

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Handlers struct {
	OnWork        func(*work.StratumJob)
	OnDifficulty  func(bits int)
	OnStats       func(PoolStats)
	OnShareResult func(accepted bool, reason string)
	OnStatus      func(string)
}

type Config struct {
	URL            string
	Address        string
	ReconnectDelay time.Duration
	// Origin is sent on the WebSocket upgrade when set.
	Origin   string
	Handlers Handlers
}

// ShareStats counts shares sent to the pool and the pool's verdicts.
type ShareStats struct {
	Submitted uint64
	Accepted  uint64
	Rejected  uint64
}

// Client is a Stratum V1 client over WebSocket. A session that drops is
// re-established after a fixed delay until Disconnect is called.
type Client struct {
	url      string
	address  string
	delay    time.Duration
	header   http.Header
	handlers Handlers
	dialer   *websocket.Dialer

	state  atomic.Int32
	nextID atomic.Uint64

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]string

	submitted atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
	started   atomic.Bool
	done      chan struct{}
}

func NewClient(cfg Config) *Client {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	header := http.Header{}
	if cfg.Origin != "" {
		header.Set("Origin", cfg.Origin)
	}
	return &Client{
		url:      cfg.URL,
		address:  cfg.Address,
		delay:    delay,
		header:   header,
		handlers: cfg.Handlers,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		pending:  make(map[uint64]string),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	logging.Debugf("Pool client state: %s", s)
}

func (c *Client) status(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(msg)
	} else {
		logging.Infof("%s", msg)
	}
}

func (c *Client) Stats() ShareStats {
	return ShareStats{
		Submitted: c.submitted.Load(),
		Accepted:  c.accepted.Load(),
		Rejected:  c.rejected.Load(),
	}
}

// Connect starts the session loop in the background.
func (c *Client) Connect(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	go c.run(ctx)
}

// Disconnect closes the session and permanently disables reconnection.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	if c.started.Load() {
		<-c.done
	}
	c.setState(StateClosed)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		c.session(ctx)

		if c.isClosed() || ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}
		c.setState(StateReconnecting)
		c.status("Disconnected from pool, reconnecting in %s...", c.delay)

		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-c.closed:
			timer.Stop()
			c.setState(StateClosed)
			return
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateClosed)
			return
		}
	}
}

// session runs one connection from dial to close.
func (c *Client) session(ctx context.Context) {
	c.setState(StateConnecting)
	c.status("Connecting to pool...")

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.status("Pool connection error: %v", err)
		return
	}

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.pending = make(map[uint64]string)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.setState(StateHandshaking)
	c.status("Connected to pool")
	if err := c.call(methodSubscribe, ClientID); err != nil {
		c.status("Pool connection error: %v", err)
		return
	}
	if err := c.call(methodAuthorize, c.address, "x"); err != nil {
		c.status("Pool connection error: %v", err)
		return
	}
	c.setState(StateActive)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				logging.Debugf("Pool read error: %v", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

// call sends a request and remembers its method for matching the response.
func (c *Client) call(method string, params ...interface{}) error {
	id := c.nextID.Add(1)
	req := Request{ID: id, Method: method, Params: params}
	data, err := fastJSON.Marshal(&req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.pending[id] = method
	}
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SubmitWork sends a found share as [address, jobId, nonce, hash].
func (c *Client) SubmitWork(jobID string, nonce int64, hash string) error {
	if c.State() != StateActive {
		return ErrNotConnected
	}
	if err := c.call(methodSubmit, c.address, jobID, nonce, hash); err != nil {
		return fmt.Errorf("submit share: %w", err)
	}
	c.submitted.Add(1)
	return nil
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := fastJSON.Unmarshal(data, &msg); err != nil {
		c.status("Invalid pool message: %v", err)
		return
	}

	switch msg.Method {
	case methodSetDifficulty:
		if len(msg.Params) == 0 {
			return
		}
		var bits float64
		if err := fastJSON.Unmarshal(msg.Params[0], &bits); err != nil {
			logging.Debugf("Ignoring set_difficulty with params %s", msg.Params[0])
			return
		}
		if c.handlers.OnDifficulty != nil {
			c.handlers.OnDifficulty(int(bits))
		}
		c.status("Share difficulty: %d bits", int(bits))

	case methodNotify:
		job, err := parseNotify(msg.Params)
		if err != nil {
			logging.Warnf("Discarding malformed job: %v", err)
			return
		}
		if c.handlers.OnWork != nil {
			c.handlers.OnWork(job)
		}

	case methodPoolStats:
		if s, ok := parseStats(msg.Params); ok && c.handlers.OnStats != nil {
			c.handlers.OnStats(s)
		}

	case "":
		c.handleResponse(&msg)
	}
}

func (c *Client) handleResponse(msg *Message) {
	var method string
	if id, ok := msg.requestID(); ok {
		c.mu.Lock()
		method = c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
	}

	failed := !isNull(msg.Error)
	switch {
	case method == methodSubmit && failed:
		c.rejected.Add(1)
		c.status("Share rejected: %s", msg.Error)
		if c.handlers.OnShareResult != nil {
			c.handlers.OnShareResult(false, string(msg.Error))
		}
	case method == methodSubmit:
		if string(msg.Result) != "true" {
			c.rejected.Add(1)
			c.status("Share rejected: result %s", msg.Result)
			if c.handlers.OnShareResult != nil {
				c.handlers.OnShareResult(false, string(msg.Result))
			}
			return
		}
		c.accepted.Add(1)
		logging.Successf("Share accepted by pool")
		if c.handlers.OnShareResult != nil {
			c.handlers.OnShareResult(true, "")
		}
	case failed && method != "":
		c.status("Pool refused %s: %s", method, msg.Error)
	case failed:
		c.status("Share rejected: %s", msg.Error)
	}
}
