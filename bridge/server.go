package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/remeh/sizedwaitgroup"
	"github.com/soheilhy/cmux"
	"golang.org/x/time/rate"

	"github.com/CADMonkey21/dlt-miner-go/logging"
)

// admitTimeout is how long a new client waits for a free relay slot.
const admitTimeout = 2 * time.Second

type Config struct {
	Listen             string
	PoolAddr           string
	AllowedOrigins     []string
	AllowMissingOrigin bool
	MaxConnections     int
	MessagesPerSecond  float64
	MessageBurst       int
	DialTimeout        time.Duration
	AllowedNodes       []string
	// RawTCP relays non-HTTP clients on the same port as plain
	// line-delimited TCP.
	RawTCP bool
}

// Health is the body of GET /healthz.
type Health struct {
	Active int64  `json:"active"`
	Total  uint64 `json:"total"`
	Pool   string `json:"pool"`
}

// Server relays each client connection to its own TCP connection to the
// pool.
type Server struct {
	cfg      Config
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	proxy    *NodeProxy
	dialer   net.Dialer
	slots    sizedwaitgroup.SizedWaitGroup

	connCount atomic.Uint64
	active    atomic.Int64
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.PoolAddr == "" {
		return nil, errors.New("bridge: no upstream pool configured")
	}
	if _, _, err := net.SplitHostPort(cfg.PoolAddr); err != nil {
		return nil, fmt.Errorf("bridge: pool address %q: %w", cfg.PoolAddr, err)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}

	s := &Server{
		cfg:     cfg,
		origins: NewOriginPolicy(cfg.AllowedOrigins, cfg.AllowMissingOrigin),
		proxy:   NewNodeProxy(cfg.AllowedNodes, cfg.DialTimeout),
		dialer:  net.Dialer{Timeout: cfg.DialTimeout},
		slots:   sizedwaitgroup.New(cfg.MaxConnections),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  readChunk,
		WriteBufferSize: readChunk,
		CheckOrigin:     s.origins.Check,
	}
	return s, nil
}

func (s *Server) Health() Health {
	return Health{Active: s.active.Load(), Total: s.connCount.Load(), Pool: s.cfg.PoolAddr}
}

// Handler serves the WebSocket relay on /, the node proxy on /api/ and the
// health check on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Health())
	})
	mux.Handle("/api/", s.proxy)
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

func (s *Server) limiter() *rate.Limiter {
	if s.cfg.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.cfg.MessageBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
}

// admit reserves a relay slot.
func (s *Server) admit(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, admitTimeout)
	defer cancel()
	return s.slots.AddWithContext(ctx) == nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "WebSocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	if !s.admit(r.Context()) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.slots.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debugf("WebSocket upgrade from %s failed: %v", clientIP(r), err)
		return
	}
	id := s.connCount.Add(1)
	logging.Infof("[%d] WebSocket connected from %s", id, clientIP(r))
	s.serveClient(r.Context(), id, &wsClient{conn: ws})
}

func (s *Server) serveClient(ctx context.Context, id uint64, client clientConn) {
	s.active.Add(1)
	defer s.active.Add(-1)

	pool, err := s.dialer.DialContext(context.WithoutCancel(ctx), "tcp", s.cfg.PoolAddr)
	if err != nil {
		logging.Warnf("[%d] TCP error: %v", id, err)
		client.WriteMessage(poolErrorFrame(err))
		client.CloseWith(websocket.CloseGoingAway, "Pool disconnected")
		return
	}
	logging.Infof("[%d] TCP connected to pool", id)

	r := &relay{id: id, client: client, pool: pool, limiter: s.limiter()}
	r.run()
	logging.Infof("[%d] Relay closed", id)
}

// serveRaw relays plain TCP miners that connected to the shared port.
func (s *Server) serveRaw(ctx context.Context, l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		if !s.admit(ctx) {
			logging.Warnf("Refusing raw client %s: too many connections", conn.RemoteAddr())
			conn.Close()
			continue
		}
		id := s.connCount.Add(1)
		logging.Infof("[%d] TCP client connected from %s", id, conn.RemoteAddr())
		go func() {
			defer s.slots.Done()
			s.serveClient(ctx, id, newLineClient(conn))
		}()
	}
}

// Serve accepts connections on l until ctx is cancelled. With RawTCP, HTTP
// and plain TCP clients share the listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	httpSrv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 3)
	var m cmux.CMux
	if s.cfg.RawTCP {
		m = cmux.New(l)
		httpL := m.Match(cmux.HTTP1Fast())
		rawL := m.Match(cmux.Any())
		go func() { errc <- httpSrv.Serve(httpL) }()
		go func() { errc <- s.serveRaw(ctx, rawL) }()
		go func() { errc <- m.Serve() }()
	} else {
		go func() { errc <- httpSrv.Serve(l) }()
	}

	logging.Infof("Pool bridge listening on %s, relaying to %s", l.Addr(), s.cfg.PoolAddr)

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) && !errors.Is(err, cmux.ErrServerClosed) {
			logging.Errorf("Pool bridge stopped: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	if m != nil {
		m.Close()
	}
	l.Close()
	return ctx.Err()
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, l)
}
