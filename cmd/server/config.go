package main

import (
	"flag"
	"time"
)

// Config holds all runtime configuration derived from flags (future: env vars / file).
type Config struct {
	Host           string
	ProxyPort      int
	ClientBasePort int
	DirectoryPort  int
	MetricsAddr    string
	Debug          bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HandshakeRate  int
	HandshakeBurst int
	PruneInterval  time.Duration
}

var cfg Config

// init registers flags into the global flag set. main() simply parses and uses cfg.
func init() {
	flag.StringVar(&cfg.Host, "host", "0.0.0.0", "interface to bind all listeners on")
	flag.IntVar(&cfg.ProxyPort, "proxy-port", 20000, "port proxies connect their tunnels to")
	flag.IntVar(&cfg.ClientBasePort, "client-base-port", 30001, "first client-facing port to allocate")
	flag.IntVar(&cfg.DirectoryPort, "directory-port", 30000, "port the proxy directory is published on")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics and health listen address")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address; if set the directory is mirrored there")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	flag.IntVar(&cfg.HandshakeRate, "handshake-rate", 0, "per-source proxy handshakes per second (0 = unlimited)")
	flag.IntVar(&cfg.HandshakeBurst, "handshake-burst", 5, "handshake burst size per source")
	flag.DurationVar(&cfg.PruneInterval, "prune-interval", time.Minute, "interval for pruning idle rate limiter state")
}
