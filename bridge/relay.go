package bridge

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/CADMonkey21/dlt-miner-go/logging"
)

const (
	readChunk    = 4096
	writeTimeout = 10 * time.Second
	logSnippet   = 100
)

// clientConn is the downstream side of a relay: a browser WebSocket or a
// plain line-delimited TCP miner.
type clientConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	// CloseWith tells the peer why, where the transport allows it, and
	// closes the connection.
	CloseWith(code int, reason string)
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsClient) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

type lineClient struct {
	conn   net.Conn
	framer LineFramer
	queue  [][]byte
	buf    []byte
	mu     sync.Mutex
}

func newLineClient(conn net.Conn) *lineClient {
	return &lineClient{conn: conn, buf: make([]byte, readChunk)}
}

func (c *lineClient) ReadMessage() ([]byte, error) {
	for len(c.queue) == 0 {
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.queue = append(c.queue, c.framer.Feed(c.buf[:n])...)
		}
		if err != nil && len(c.queue) == 0 {
			return nil, err
		}
	}
	line := c.queue[0]
	c.queue = c.queue[1:]
	return line, nil
}

func (c *lineClient) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return writeLine(c.conn, data)
}

func (c *lineClient) CloseWith(int, string) {
	c.conn.Close()
}

func writeLine(w io.Writer, data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	_, err := w.Write(line)
	return err
}

// poolError is the synthetic frame sent downstream when the pool side fails.
type poolError struct {
	ID     *int        `json:"id"`
	Error  string      `json:"error"`
	Result interface{} `json:"result"`
}

func poolErrorFrame(err error) []byte {
	data, _ := sonic.Marshal(poolError{Error: "Pool connection error: " + err.Error()})
	return data
}

func snippet(b []byte) string {
	if len(b) > logSnippet {
		b = b[:logSnippet]
	}
	return string(b)
}

// relay pairs one client with one pool connection. Neither side outlives
// the other.
type relay struct {
	id      uint64
	client  clientConn
	pool    net.Conn
	limiter *rate.Limiter

	closing   atomic.Bool
	closePool sync.Once
}

func (r *relay) run() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.poolToClient()
	}()
	r.clientToPool()
	r.shutdownPool()
	<-done
}

func (r *relay) shutdownPool() {
	r.closePool.Do(func() {
		r.closing.Store(true)
		r.pool.Close()
	})
}

func (r *relay) clientToPool() {
	for {
		msg, err := r.client.ReadMessage()
		if err != nil {
			if !r.closing.Load() {
				logging.Infof("[%d] Client disconnected", r.id)
			}
			return
		}
		if !sonic.Valid(msg) {
			logging.Warnf("[%d] Invalid JSON from client: %s", r.id, snippet(msg))
			continue
		}
		if !r.limiter.Allow() {
			logging.Warnf("[%d] Client exceeds message rate, dropping: %s", r.id, snippet(msg))
			continue
		}
		r.pool.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := writeLine(r.pool, msg); err != nil {
			logging.Warnf("[%d] TCP write error: %v", r.id, err)
			return
		}
	}
}

func (r *relay) poolToClient() {
	var framer LineFramer
	buf := make([]byte, readChunk)
	for {
		n, err := r.pool.Read(buf)
		for _, line := range framer.Feed(buf[:n]) {
			if !sonic.Valid(line) {
				logging.Warnf("[%d] Invalid JSON from pool: %s", r.id, snippet(line))
				continue
			}
			if werr := r.client.WriteMessage(line); werr != nil {
				logging.Debugf("[%d] Client write error: %v", r.id, werr)
			}
		}
		if err == nil {
			continue
		}

		if r.closing.Load() {
			// The client went away first and we closed the pool side.
			r.client.CloseWith(websocket.CloseGoingAway, "Client disconnected")
			return
		}
		if !errors.Is(err, io.EOF) {
			logging.Warnf("[%d] TCP error: %v", r.id, err)
			r.client.WriteMessage(poolErrorFrame(err))
		}
		logging.Infof("[%d] TCP disconnected from pool", r.id)
		r.closing.Store(true)
		r.client.CloseWith(websocket.CloseGoingAway, "Pool disconnected")
		return
	}
}
