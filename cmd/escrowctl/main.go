// Command escrowctl is the operator control-plane tool for the escrow
// marketplace, adapted from cmd/lncli's urfave/cli structure. Unlike
// lncli, which always talks to a running daemon over gRPC, escrowctl
// opens the same Postgres/chain dependencies escrowsvcd does and calls
// the internal service packages directly: spec.md §1 excludes an RPC
// transport, so there is no daemon surface for this tool to dial.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/RuSwift/garantex-sub000/internal/chain/tronrpc"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[escrowctl] %v\n", err)
	os.Exit(1)
}

// getStore opens a connection pool using the global --postgres flag.
// The caller must invoke the returned cleanup function.
func getStore(ctx *cli.Context) (*store.Store, func()) {
	dsn := ctx.GlobalString("postgres")
	if dsn == "" {
		fatal(fmt.Errorf("--postgres is required"))
	}
	db, err := store.Open(context.Background(), dsn)
	if err != nil {
		fatal(err)
	}
	return db, db.Close
}

// getChainClient constructs the tronrpc.Client named by the global
// --nodeurl flag.
func getChainClient(ctx *cli.Context) chain.Client {
	return tronrpc.New(ctx.GlobalString("nodeurl"), 0)
}

func getSecret(ctx *cli.Context) string {
	secret := ctx.GlobalString("walletsecret")
	if secret == "" {
		fatal(fmt.Errorf("--walletsecret is required"))
	}
	return secret
}

func main() {
	app := cli.NewApp()
	app.Name = "escrowctl"
	app.Version = "0.1"
	app.Usage = "control plane for the escrow marketplace daemon (escrowsvcd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "postgres",
			Usage: "Postgres connection DSN",
		},
		cli.StringFlag{
			Name:  "walletsecret",
			Usage: "symmetric secret used to encrypt/decrypt wallet mnemonics",
		},
		cli.StringFlag{
			Name:  "nodeurl",
			Usage: "full node / TronGrid RPC endpoint",
		},
		cli.StringFlag{
			Name:  "blockchain",
			Value: "tron",
			Usage: "blockchain backend name",
		},
		cli.StringFlag{
			Name:  "network",
			Value: "mainnet",
			Usage: "network name (mainnet, shasta, nile)",
		},
	}
	app.Commands = []cli.Command{
		WalletStatusCommand,
		WalletRotateCommand,
		WalletVerifyCommand,
		EscrowShowCommand,
		EscrowJournalCommand,
		DealPayoutCommand,
		DealSignCommand,
		DealCreateCommand,
		DealAcceptCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
