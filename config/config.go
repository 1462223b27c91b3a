package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CADMonkey21/dlt-miner-go/bridge"
	"github.com/CADMonkey21/dlt-miner-go/chain"
	"github.com/CADMonkey21/dlt-miner-go/logging"
	"github.com/CADMonkey21/dlt-miner-go/netparams"
)

const (
	ModeSolo = "solo"
	ModePool = "pool"
)

type BridgeConfig struct {
	Listen             string        `yaml:"listen"`
	PoolHost           string        `yaml:"poolHost"`
	PoolPort           int           `yaml:"poolPort"`
	AllowedOrigins     []string      `yaml:"allowedOrigins"`
	AllowMissingOrigin bool          `yaml:"allowMissingOrigin"`
	MaxConnections     int           `yaml:"maxConnections"`
	MessagesPerSecond  float64       `yaml:"messagesPerSecond"`
	MessageBurst       int           `yaml:"messageBurst"`
	DialTimeout        time.Duration `yaml:"dialTimeout"`
	AllowedNodes       []string      `yaml:"allowedNodes"`
	RawTCP             bool          `yaml:"rawTCP"`
}

type Config struct {
	Network          string        `yaml:"network"`
	Mode             string        `yaml:"mode"`
	Address          string        `yaml:"address"`
	Threads          int           `yaml:"threads"`
	BatchSize        uint32        `yaml:"batchSize"`
	NodeURL          string        `yaml:"nodeUrl"`
	NodeProxy        string        `yaml:"nodeProxy"`
	PoolURL          string        `yaml:"poolUrl"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	ReconnectDelay   time.Duration `yaml:"reconnectDelay"`
	HashrateInterval time.Duration `yaml:"hashrateInterval"`
	ShareBits        int           `yaml:"shareBits"`
	JournalPath      string        `yaml:"journalPath"`
	StatusPort       int           `yaml:"statusPort"`
	LogLevel         string        `yaml:"logLevel"`
	LogFile          string        `yaml:"logFile"`
	Bridge           BridgeConfig  `yaml:"bridge"`
}

var Active Config

func defaultThreads() int {
	if n := runtime.NumCPU() / 2; n > 1 {
		return n
	}
	return 1
}

func Defaults() Config {
	return Config{
		Network:          "dilithium",
		Mode:             ModeSolo,
		Threads:          defaultThreads(),
		BatchSize:        2000000,
		PollInterval:     3 * time.Second,
		RequestTimeout:   10 * time.Second,
		ReconnectDelay:   5 * time.Second,
		HashrateInterval: 500 * time.Millisecond,
		ShareBits:        20,
		LogLevel:         "info",
		Bridge: BridgeConfig{
			Listen:             ":3001",
			PoolPort:           3333,
			AllowedOrigins:     append([]string(nil), bridge.DefaultAllowedOrigins...),
			AllowMissingOrigin: true,
			MaxConnections:     256,
			MessagesPerSecond:  50,
			MessageBurst:       100,
			DialTimeout:        10 * time.Second,
			RawTCP:             true,
		},
	}
}

// Load decodes the YAML file at path over the defaults. A missing file is
// not an error; the defaults are returned with a warning.
func Load(path string) (Config, error) {
	cfg := Defaults()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warnf("No %s file found, using defaults.", path)
			return cfg, nil
		}
		return cfg, err
	}
	defer file.Close()
	return cfg, decode(file, &cfg)
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// LoadConfig loads the miner configuration into Active, applying command
// line overrides from args.
func LoadConfig(args []string) error {
	fs := flag.NewFlagSet("dlt-miner", flag.ContinueOnError)
	path := fs.String("config", "config.yaml", "Path to the YAML config")
	addr := fs.String("a", "", "Mining address")
	threads := fs.Int("t", 0, "Number of hashing threads")
	mode := fs.String("mode", "", "Mining mode (solo|pool)")
	node := fs.String("node", "", "Node REST URL")
	pool := fs.String("pool", "", "Pool WebSocket URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := Load(*path)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Address = *addr
	}
	if *threads != 0 {
		cfg.Threads = *threads
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *node != "" {
		cfg.NodeURL = *node
	}
	if *pool != "" {
		cfg.PoolURL = *pool
	}
	Active = cfg
	return nil
}

// LoadBridgeConfig loads the configuration used by the pool bridge into
// Active.
func LoadBridgeConfig(args []string) error {
	fs := flag.NewFlagSet("poolbridge", flag.ContinueOnError)
	path := fs.String("config", "config.yaml", "Path to the YAML config")
	listen := fs.String("listen", "", "Listen address")
	host := fs.String("pool-host", "", "Upstream stratum pool host")
	port := fs.Int("pool-port", 0, "Upstream stratum pool port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := Load(*path)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Bridge.Listen = *listen
	}
	if *host != "" {
		cfg.Bridge.PoolHost = *host
	}
	if *port != 0 {
		cfg.Bridge.PoolPort = *port
	}
	Active = cfg
	return nil
}

// Validate checks the miner settings. Any error is fatal at startup.
func (c *Config) Validate() error {
	params, err := netparams.Lookup(c.Network)
	if err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Mode {
	case ModeSolo:
		if c.NodeURL == "" {
			return errors.New("solo mode requires nodeUrl")
		}
		if err := checkURL(c.NodeURL, "http", "https"); err != nil {
			return fmt.Errorf("nodeUrl: %w", err)
		}
		if c.NodeProxy != "" {
			if err := checkURL(c.NodeProxy, "http", "https"); err != nil {
				return fmt.Errorf("nodeProxy: %w", err)
			}
		}
	case ModePool:
		if c.PoolURL == "" {
			return errors.New("pool mode requires poolUrl")
		}
		if err := checkURL(c.PoolURL, "ws", "wss"); err != nil {
			return fmt.Errorf("poolUrl: %w", err)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Address == "" {
		return errors.New("no mining address configured")
	}
	if err := chain.ValidateAddress(c.Address, &params); err != nil {
		return err
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1, got %d", c.Threads)
	}
	if c.BatchSize == 0 {
		return errors.New("batchSize must be positive")
	}
	if c.ShareBits < 1 || c.ShareBits > 256 {
		return fmt.Errorf("shareBits %d out of range", c.ShareBits)
	}
	return nil
}

// ValidateBridge checks the bridge section.
func (c *Config) ValidateBridge() error {
	b := &c.Bridge
	if strings.TrimSpace(b.PoolHost) == "" {
		return errors.New("bridge: poolHost is required")
	}
	if b.PoolPort < 1 || b.PoolPort > 65535 {
		return fmt.Errorf("bridge: poolPort %d out of range", b.PoolPort)
	}
	if b.Listen == "" {
		return errors.New("bridge: listen address is required")
	}
	if b.MessagesPerSecond < 0 || b.MessageBurst < 0 || b.MaxConnections < 0 {
		return errors.New("bridge: limits must not be negative")
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be a %s URL", raw, strings.Join(schemes, "/"))
}
