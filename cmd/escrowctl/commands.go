package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/RuSwift/garantex-sub000/internal/arbiterwallet"
	"github.com/RuSwift/garantex-sub000/internal/chatledger"
	"github.com/RuSwift/garantex-sub000/internal/dealfsm"
	"github.com/RuSwift/garantex-sub000/internal/escrowsvc"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/payout"
	"github.com/RuSwift/garantex-sub000/internal/sigagg"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli"
)

// printJSON pretty-prints v the way lncli's printRespJson does for its
// protobuf responses, substituting encoding/json since these are plain
// Go structs rather than generated RPC messages.
func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}
	fmt.Println(string(out))
}

var WalletStatusCommand = cli.Command{
	Name:   "walletstatus",
	Usage:  "show the active and backup arbiter wallet addresses",
	Action: walletStatus,
}

func walletStatus(ctx *cli.Context) error {
	db, cleanUp := getStore(ctx)
	defer cleanUp()

	svc := arbiterwallet.New(db, getSecret(ctx))
	status, err := svc.Status(context.Background())
	if err != nil {
		return err
	}
	printJSON(status)
	return nil
}

var WalletRotateCommand = cli.Command{
	Name:  "walletrotate",
	Usage: "promote the backup arbiter wallet to active, demoting the current one",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "reason",
			Usage: "free-text audit note for why the rotation happened",
		},
	},
	Action: walletRotate,
}

func walletRotate(ctx *cli.Context) error {
	db, cleanUp := getStore(ctx)
	defer cleanUp()

	svc := arbiterwallet.New(db, getSecret(ctx))
	status, err := svc.Rotate(context.Background(), ctx.String("reason"))
	if err != nil {
		return err
	}
	printJSON(status)
	return nil
}

var WalletVerifyCommand = cli.Command{
	Name:  "walletverify",
	Usage: "confirm a stored wallet's encrypted mnemonic still derives its address on record",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "role",
			Value: "active",
			Usage: "active or backup",
		},
	},
	Action: walletVerify,
}

func walletVerify(ctx *cli.Context) error {
	db, cleanUp := getStore(ctx)
	defer cleanUp()

	svc := arbiterwallet.New(db, getSecret(ctx))
	address, err := svc.VerifyMnemonic(context.Background(), store.WalletRole(ctx.String("role")))
	if err != nil {
		return err
	}
	fmt.Printf("verified: address %s matches the stored ciphertext\n", address)
	return nil
}

var EscrowShowCommand = cli.Command{
	Name:      "escrowshow",
	Usage:     "show one escrow's stored state",
	ArgsUsage: "escrow_id",
	Action:    escrowShow,
}

func escrowShow(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("escrowshow requires exactly one argument: escrow_id")
	}
	id, err := strconv.ParseInt(ctx.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid escrow_id: %w", err)
	}

	db, cleanUp := getStore(ctx)
	defer cleanUp()

	escrow, err := store.GetEscrow(context.Background(), db.Pool, id)
	if err != nil {
		return err
	}
	printJSON(escrow)
	return nil
}

var EscrowJournalCommand = cli.Command{
	Name:      "escrowjournal",
	Usage:     "list the provisioning journal entries for one escrow",
	ArgsUsage: "escrow_id",
	Action:    escrowJournal,
}

func escrowJournal(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("escrowjournal requires exactly one argument: escrow_id")
	}
	id, err := strconv.ParseInt(ctx.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid escrow_id: %w", err)
	}

	db, cleanUp := getStore(ctx)
	defer cleanUp()

	entries, err := store.ListEscrowTxns(context.Background(), db.Pool, id)
	if err != nil {
		return err
	}
	printJSON(entries)
	return nil
}

var DealPayoutCommand = cli.Command{
	Name:      "dealpayout",
	Usage:     "rebuild and show a deal's current payout transaction",
	ArgsUsage: "deal_uid",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "tokencontract",
			Usage: "default TRC20 contract to use when a deal's requisites omit one",
		},
	},
	Action: dealPayout,
}

func dealPayout(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("dealpayout requires exactly one argument: deal_uid")
	}
	uid, err := model.ParseDealUID(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	db, cleanUp := getStore(ctx)
	defer cleanUp()

	chainClient := getChainClient(ctx)
	escrows := escrowsvc.New(db, chainClient, getSecret(ctx), ctx.GlobalString("blockchain"), ctx.GlobalString("network"))
	chat := chatledger.New(db)
	builder := payout.New(db, chainClient, escrows, chat, ctx.String("tokencontract"))

	txn, err := builder.GetOrBuild(context.Background(), uid)
	if err != nil {
		return err
	}
	printJSON(txn)
	return nil
}

var DealSignCommand = cli.Command{
	Name:      "dealsign",
	Usage:     "add an offline signature to a deal's payout transaction",
	ArgsUsage: "deal_uid signer_address signature_hex",
	Action:    dealSign,
}

func dealSign(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return fmt.Errorf("dealsign requires exactly three arguments: deal_uid signer_address signature_hex")
	}
	uid, err := model.ParseDealUID(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	db, cleanUp := getStore(ctx)
	defer cleanUp()

	chat := chatledger.New(db)
	svc := sigagg.New(db, chat)

	payout, err := svc.AddSignature(context.Background(), uid, ctx.Args().Get(1), ctx.Args().Get(2), nil)
	if err != nil {
		return err
	}
	printJSON(payout)
	return nil
}

var DealCreateCommand = cli.Command{
	Name:      "dealcreate",
	Usage:     "open a new payment request naming the payer's address",
	ArgsUsage: "receiver_did payer_address amount label",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "description",
			Usage: "free-text deal description",
		},
	},
	Action: dealCreate,
}

func dealCreate(ctx *cli.Context) error {
	if ctx.NArg() != 4 {
		return fmt.Errorf("dealcreate requires exactly four arguments: receiver_did payer_address amount label")
	}
	receiverDID, err := model.NewDID(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(ctx.Args().Get(2))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	db, cleanUp := getStore(ctx)
	defer cleanUp()

	chainClient := getChainClient(ctx)
	escrows := escrowsvc.New(db, chainClient, getSecret(ctx), ctx.GlobalString("blockchain"), ctx.GlobalString("network"))
	chat := chatledger.New(db)
	builder := payout.New(db, chainClient, escrows, chat, "")
	fsm := dealfsm.New(db, chainClient, builder, chat, escrows, ctx.GlobalString("blockchain"))

	deal, err := fsm.CreateDeal(context.Background(), receiverDID, ctx.Args().Get(1), ctx.Args().Get(3),
		ctx.String("description"), amount)
	if err != nil {
		return err
	}
	printJSON(deal)
	return nil
}

var DealAcceptCommand = cli.Command{
	Name:      "dealaccept",
	Usage:     "accept a payment request's stated terms as its sender",
	ArgsUsage: "deal_uid caller_did",
	Action:    dealAccept,
}

func dealAccept(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("dealaccept requires exactly two arguments: deal_uid caller_did")
	}
	uid, err := model.ParseDealUID(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	callerDID, err := model.NewDID(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	db, cleanUp := getStore(ctx)
	defer cleanUp()

	chainClient := getChainClient(ctx)
	escrows := escrowsvc.New(db, chainClient, getSecret(ctx), ctx.GlobalString("blockchain"), ctx.GlobalString("network"))
	chat := chatledger.New(db)
	builder := payout.New(db, chainClient, escrows, chat, "")
	fsm := dealfsm.New(db, chainClient, builder, chat, escrows, ctx.GlobalString("blockchain"))

	deal, err := fsm.AcceptTerms(context.Background(), uid, callerDID)
	if err != nil {
		return err
	}
	printJSON(deal)
	return nil
}
