package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/kutluhann/kademlia-dht/api"
	"github.com/kutluhann/kademlia-dht/config"
	"github.com/kutluhann/kademlia-dht/dht"
)

func main() {
	envFile := flag.String("env", ".env", "Optional .env file with DHT_* settings")
	isGenesis := flag.Bool("genesis", false, "Start as a Genesis Node (no bootstrap)")
	ip := flag.String("ip", "", "IP address to listen on (overrides DHT_LISTEN_IP)")
	port := flag.Int("port", -1, "UDP port to listen on (overrides DHT_PORT)")
	httpPort := flag.Int("http", -1, "HTTP API port for client requests (overrides DHT_HTTP_PORT)")
	bootstrap := flag.String("bootstrap", "", "Bootstrap Node IP:Port (e.g. 127.0.0.1:8080)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Crit("Invalid configuration", "err", err)
	}
	if *ip != "" {
		cfg.ListenIP = *ip
	}
	if *port >= 0 {
		cfg.Port = *port
	}
	if *httpPort >= 0 {
		cfg.HTTPPort = *httpPort
	}
	if *bootstrap != "" {
		cfg.Bootstrap = *bootstrap
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, true)))

	opts, err := cfg.Options(log.Root())
	if err != nil {
		log.Crit("Invalid identity settings", "err", err)
	}

	node, err := dht.Listen(cfg.ListenIP, cfg.Port, opts...)
	if err != nil {
		log.Crit("Failed to start network", "err", err)
	}
	defer node.Close()

	var httpServer *api.HTTPServer
	if cfg.HTTPPort != 0 {
		httpServer = api.NewHTTPServer(node, cfg.HTTPPort)
		go func() {
			if err := httpServer.Start(); err != nil {
				log.Crit("HTTP server failed", "err", err)
			}
		}()
	}

	if *isGenesis || cfg.Bootstrap == "" {
		log.Info("Running as genesis node, waiting for peers", "id", node.Self.ID)
	} else {
		contact, err := dht.ContactFromAddress(cfg.Bootstrap)
		if err != nil {
			log.Crit("Invalid bootstrap address", "addr", cfg.Bootstrap, "err", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.RPCTimeout)
		err = node.Join(ctx, contact)
		cancel()
		if err != nil {
			log.Crit("Failed to join network", "err", err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
}
