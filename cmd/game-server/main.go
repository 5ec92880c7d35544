// Package main provides the entry point for the game server.
// The server accepts client sessions over a dual-transport channel (TCP
// stream plus UDP datagrams), binds the two transports with an out-of-band
// handshake, authenticates each session by challenge-response, and
// broadcasts periodic tick datagrams to every authenticated session.
//
// Usage:
//
//	game-server [flags]
//
// Flags:
//
//	-config string     Path to a YAML config file (optional)
//	-listen string     TCP stream listen address (default "10.0.0.84:9997")
//	-udp string        UDP datagram listen address (default ":9998")
//	-secret string     Shared HMAC secret for authentication
//	-max-clients int   Maximum concurrently bound sessions (default 9)
//	-debug             Enable debug logging
//	-help              Show help message
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/go-mythos/go-game-server/lib/acceptor"
	"github.com/go-mythos/go-game-server/lib/auth"
	"github.com/go-mythos/go-game-server/lib/config"
	"github.com/go-mythos/go-game-server/lib/game"
	"github.com/go-mythos/go-game-server/lib/metrics"
	"github.com/go-mythos/go-game-server/lib/session"
	"github.com/go-mythos/go-game-server/lib/supervisor"
	"github.com/go-mythos/go-game-server/lib/tick"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Build info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg := parseFlags()

	// Configure logging
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	log.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    GitCommit,
	}).Info("Starting game server")

	m := metrics.New(prometheus.DefaultRegisterer)
	registry := session.NewRegistry()
	authn := auth.New([]byte(cfg.SharedSecret), cfg.AuthTimeout, m, log)
	acc := acceptor.New(cfg, registry, authn, m, log)

	dispatcher := tick.NewDispatcher(registry, m, log)
	game.Load(game.NewHeartbeat(), dispatcher, log)
	scheduler := tick.NewScheduler(dispatcher, log)

	sup := supervisor.New(cfg.StopGrace, log)
	sup.Add(acc, scheduler)
	sup.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Received shutdown signal")

	if !sup.Stop() {
		log.Error("Shutdown incomplete")
		os.Exit(1)
	}
	log.Info("Game server stopped")
}

func parseFlags() *config.Config {
	configPath := flag.String("config", "", "Path to YAML config file")
	listen := flag.String("listen", "", "TCP stream listen address")
	udp := flag.String("udp", "", "UDP datagram listen address")
	secret := flag.String("secret", "", "Shared HMAC secret")
	maxClients := flag.Int("max-clients", -1, "Maximum concurrently bound sessions")
	debug := flag.Bool("debug", false, "Enable debug logging")

	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("game-server %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("Game Server - dual-transport authoritative tick server")
		fmt.Println()
		fmt.Println("Usage: game-server [flags]")
		fmt.Println()
		fmt.Println("Flags:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment variables (override file, overridden by flags):")
		fmt.Println("  GAME_LISTEN_ADDR     TCP stream listen address")
		fmt.Println("  GAME_DATAGRAM_ADDR   UDP datagram listen address")
		fmt.Println("  GAME_SHARED_SECRET   Shared HMAC secret")
		fmt.Println("  GAME_DEBUG           Enable debug logging")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags win over file and environment.
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *udp != "" {
		cfg.DatagramAddr = *udp
	}
	if *secret != "" {
		cfg.SharedSecret = *secret
	}
	if *maxClients >= 0 {
		cfg.MaxClients = *maxClients
	}
	if *debug {
		cfg.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
