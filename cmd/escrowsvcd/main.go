// Command escrowsvcd is the escrow marketplace daemon: it applies
// pending schema migrations, wires the chain client and the
// Provisioner reconciliation loop, and blocks until an interrupt
// signal arrives. Its bootstrap sequence is adapted from lnd.go's
// lndMain/main split, a nested "real main" so deferred cleanup always
// runs before os.Exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/RuSwift/garantex-sub000/internal/build"
	"github.com/RuSwift/garantex-sub000/internal/chain/tronrpc"
	"github.com/RuSwift/garantex-sub000/internal/config"
	"github.com/RuSwift/garantex-sub000/internal/provisioner"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
)

var log btclog.Logger

func init() {
	log = build.NewSubLogger("DAEM", "")
}

// daemonMain is the true entry point. Its error return
// lets main() decide the process exit code while every defer above
// still runs, the same separation lndMain keeps from main.
func daemonMain() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if err := build.InitLogRotator(filepath.Join(cfg.LogDir, "escrowsvcd.log"), 3); err != nil {
		return fmt.Errorf("escrowsvcd: initializing log rotator: %w", err)
	}
	log.Infof("Starting escrowsvcd, blockchain=%s network=%s", cfg.Blockchain, cfg.Network)

	if err := store.Migrate(cfg.Postgres); err != nil {
		return fmt.Errorf("escrowsvcd: applying migrations: %w", err)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("escrowsvcd: connecting to postgres: %w", err)
	}
	defer db.Close()

	chainClient := tronrpc.New(cfg.NodeURL, 0)

	// escrowsvcd's only autonomous duty is the Provisioner loop, per
	// spec.md §1: there is no RPC server here, so the deal/escrow/
	// payout/chat services are constructed on demand by escrowctl and
	// by whatever process embeds this module as a library, not by this
	// daemon.
	reg := prometheus.NewRegistry()
	prov := provisioner.New(db, chainClient, provisioner.Config{
		MinTRXBalance: cfg.Provisioner.MinTRXBalanceDecimal(),
		PollInterval:  cfg.Provisioner.PollInterval,
		BatchSize:     cfg.Provisioner.BatchSize,
		Secret:        cfg.WalletSecret,
	}, reg)
	if err := prov.Start(); err != nil {
		return fmt.Errorf("escrowsvcd: starting provisioner: %w", err)
	}
	defer prov.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Infof("Received interrupt signal, shutting down")

	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := daemonMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
