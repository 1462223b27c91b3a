package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/CADMonkey21/dlt-miner-go/bridge"
	"github.com/CADMonkey21/dlt-miner-go/config"
	"github.com/CADMonkey21/dlt-miner-go/logging"
)

func main() {
	if err := config.LoadBridgeConfig(os.Args[1:]); err != nil {
		logging.Fatalf("BRIDGE: %v", err)
	}
	cfg := config.Active
	if err := cfg.ValidateBridge(); err != nil {
		logging.Fatalf("BRIDGE: invalid configuration: %v", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		logging.Fatalf("BRIDGE: %v", err)
	}
	logging.SetLogLevel(level)
	if cfg.LogFile != "" {
		logFile, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			logging.Fatalf("BRIDGE: open log file: %v", err)
		}
		defer logFile.Close()
		logging.SetLogFile(logFile)
	}

	b := cfg.Bridge
	srv, err := bridge.NewServer(bridge.Config{
		Listen:             b.Listen,
		PoolAddr:           net.JoinHostPort(b.PoolHost, strconv.Itoa(b.PoolPort)),
		AllowedOrigins:     b.AllowedOrigins,
		AllowMissingOrigin: b.AllowMissingOrigin,
		MaxConnections:     b.MaxConnections,
		MessagesPerSecond:  b.MessagesPerSecond,
		MessageBurst:       b.MessageBurst,
		DialTimeout:        b.DialTimeout,
		AllowedNodes:       b.AllowedNodes,
		RawTCP:             b.RawTCP,
	})
	if err != nil {
		logging.Fatalf("BRIDGE: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Infof("Allowed origins: %v", b.AllowedOrigins)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatalf("BRIDGE: %v", err)
	}
	logging.Infof("Pool bridge shut down")
}
