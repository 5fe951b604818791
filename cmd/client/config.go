package main

import (
	"flag"
	"time"
)

// Config holds client runtime configuration.
type Config struct {
	ServerAddr string
	ID         string
	Target     string
	Retry      time.Duration
	Debug      bool
}

var cfg Config

// init registers all client flags into the default flag set.
func init() {
	flag.StringVar(&cfg.ServerAddr, "server", "127.0.0.1:20000", "relay proxy listener address")
	flag.StringVar(&cfg.ID, "id", "demo", "proxy id to register under")
	flag.StringVar(&cfg.Target, "target", "127.0.0.1:8001", "local address to expose through the relay")
	flag.DurationVar(&cfg.Retry, "retry", 2*time.Second, "delay before reconnecting after the tunnel drops")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}
