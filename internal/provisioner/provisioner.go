// Package provisioner is the Escrow Provisioner reconciliation loop: it
// claims pending escrows in small batches and drives each one from
// pending to active, grounded on original_source/cron/tasks.py's
// process_escrow_batch and process_escrow. Its Start/Stop/background
// goroutine idiom is adapted from htlcswitch.Switch.
package provisioner

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/RuSwift/garantex-sub000/internal/walletkeys"
	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Named error codes written to the escrow journal, matching the
// literal strings process_escrow uses so operator tooling built
// against either system recognizes the same vocabulary.
const (
	ErrCodeArbiterMnemonicNotConfigured = "ARBITER_MNEMONIC_NOT_CONFIGURED"
	ErrCodeArbiterAddressNotSet         = "ARBITER_ADDRESS_NOT_SET"
	ErrCodeTRXTransferFailed            = "TRX_TRANSFER_FAILED"
	ErrCodeEscrowMnemonicNotConfigured  = "ESCROW_MNEMONIC_NOT_CONFIGURED"
	ErrCodePermissionUpdateFailed       = "PERMISSION_UPDATE_FAILED"
	ErrCodeProcessingError              = "PROCESSING_ERROR"
)

// requiredThreshold and requiredKeys describe the 2-of-3 multisig
// permission every escrow is provisioned with.
const (
	requiredThreshold = 2
	requiredKeys      = 3
)

// maxBatchesPerTick bounds how many batches reconcileLoop will drain in
// a single tick, grounded on cron/tasks.py's process_escrow_batch loop
// being invoked repeatedly by the scheduler until the pending queue is
// exhausted or this page ceiling is hit — a single tick must not claim
// an unbounded number of rows if the queue is deep.
const maxBatchesPerTick = 100

// Config bounds a Provisioner's reconciliation behavior.
type Config struct {
	// MinTRXBalance is the native balance every escrow account must
	// carry before a permission update is attempted (bandwidth/energy
	// for the multisig transactions it will later sign).
	MinTRXBalance decimal.Decimal
	// PollInterval is the delay between ticks; each tick drains up to
	// maxBatchesPerTick batches.
	PollInterval time.Duration
	// BatchSize bounds how many pending escrows one batch claims.
	BatchSize int
	// Secret decrypts wallets' encrypted_mnemonic columns.
	Secret string
}

// Provisioner is the background reconciliation loop. Its lifecycle
// methods follow htlcswitch.Switch's CAS-guarded started/shutdown
// fields plus a single forwarder goroutine.
type Provisioner struct {
	started  int32
	shutdown int32
	wg       sync.WaitGroup
	quit     chan struct{}

	store       *store.Store
	chainClient chain.Client
	cfg         Config
	metrics     *metrics
}

// New constructs a Provisioner. reg may be nil to skip metrics
// registration (used by tests).
func New(db *store.Store, chainClient chain.Client, cfg Config, reg prometheus.Registerer) *Provisioner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Provisioner{
		quit:        make(chan struct{}),
		store:       db,
		chainClient: chainClient,
		cfg:         cfg,
		metrics:     newMetrics(reg),
	}
}

// Start launches the reconciliation goroutine.
func (p *Provisioner) Start() error {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		log.Warnf("Escrow Provisioner already started")
		return errors.New("provisioner: already started")
	}
	log.Infof("Starting Escrow Provisioner, poll interval %s, batch size %d", p.cfg.PollInterval, p.cfg.BatchSize)
	p.wg.Add(1)
	go p.reconcileLoop()
	return nil
}

// Stop signals the reconciliation goroutine to exit and waits for it.
func (p *Provisioner) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.shutdown, 0, 1) {
		log.Warnf("Escrow Provisioner already stopped")
		return errors.New("provisioner: already stopped")
	}
	log.Infof("Escrow Provisioner shutting down")
	close(p.quit)
	p.wg.Wait()
	return nil
}

func (p *Provisioner) reconcileLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for page := 0; page < maxBatchesPerTick; page++ {
				start := time.Now()
				claimed, err := p.processBatch(context.Background())
				p.metrics.batchLatency.Observe(time.Since(start).Seconds())
				if err != nil {
					log.Errorf("Escrow Provisioner: batch failed: %v", err)
					break
				}
				if claimed < p.cfg.BatchSize {
					break
				}
			}

		case <-p.quit:
			return
		}
	}
}

// processBatch claims up to cfg.BatchSize pending escrows with
// SELECT ... FOR UPDATE SKIP LOCKED and processes each one inside the
// same transaction, so two Provisioner instances racing the same
// queue never double-process a row. It returns how many escrows were
// claimed, so reconcileLoop knows whether another page is worth
// fetching this tick.
func (p *Provisioner) processBatch(ctx context.Context) (int, error) {
	var claimed int
	err := p.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		escrows, err := store.ClaimPendingEscrows(ctx, q, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		claimed = len(escrows)
		for _, escrow := range escrows {
			p.processEscrow(ctx, q, escrow)
		}
		return nil
	})
	return claimed, err
}

// processEscrow drives a single escrow one step: activate if its
// multisig permission is already installed, top up TRX if its balance
// is short, or install the permission once funded. Every branch
// appends a journal entry, successful or not, and errors never
// propagate past this call — a single bad escrow must not abort the
// rest of the batch.
func (p *Provisioner) processEscrow(ctx context.Context, q store.Querier, escrow *model.Escrow) {
	p.metrics.processed.Inc()
	log.Infof("Processing escrow %d, status=%s, blockchain=%s, network=%s, address=%s",
		escrow.ID, escrow.Status, escrow.Blockchain, escrow.Network, escrow.EscrowAddress)

	account, err := p.chainClient.GetAccount(ctx, escrow.EscrowAddress)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeProcessingError, err.Error())
		return
	}

	if accountHasMultisig(account, escrow) {
		if err := store.UpdateEscrowStatus(ctx, q, escrow.ID, model.EscrowActive); err != nil {
			p.journalError(ctx, q, escrow.ID, ErrCodeProcessingError, err.Error())
			return
		}
		p.journalEvent(ctx, q, escrow.ID, "escrow already initialized: permissions set, status updated to active",
			model.EscrowTxnPayload{Type: "already_initialized"})
		p.metrics.activated.Inc()
		return
	}

	balance, err := p.chainClient.GetBalance(ctx, escrow.EscrowAddress)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeProcessingError, err.Error())
		return
	}

	if balance.LessThan(p.cfg.MinTRXBalance) {
		p.topUpTRX(ctx, q, escrow, p.cfg.MinTRXBalance.Sub(balance))
		return
	}

	p.installPermission(ctx, q, escrow)
}

// accountHasMultisig reports whether the escrow's on-chain account
// already carries the 2-of-3 permission naming both participants and
// the arbiter (or the escrow's own address, for accounts whose third
// key is the escrow itself rather than a shared arbiter key).
func accountHasMultisig(account *chain.Account, escrow *model.Escrow) bool {
	if account == nil || !account.Exists || account.ActivePermission == nil {
		return false
	}
	perm := account.ActivePermission
	if perm.Threshold != requiredThreshold || len(perm.Keys) != requiredKeys {
		return false
	}
	addresses := make(map[string]bool, len(perm.Keys))
	for _, k := range perm.Keys {
		addresses[k.Address] = true
	}
	return addresses[escrow.Participant1Address] &&
		addresses[escrow.Participant2Address] &&
		(addresses[escrow.ArbiterAddress] || addresses[escrow.EscrowAddress])
}

func (p *Provisioner) topUpTRX(ctx context.Context, q store.Querier, escrow *model.Escrow, amountNeeded decimal.Decimal) {
	log.Infof("Escrow %d needs %s TRX", escrow.ID, amountNeeded)

	wallet, err := store.GetArbiterWallet(ctx, q, store.WalletRoleActive)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeArbiterMnemonicNotConfigured,
			"active arbiter wallet not found or mnemonic not configured")
		return
	}
	mnemonic, err := walletkeys.Decrypt(p.cfg.Secret, wallet.EncryptedMnemonic)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeArbiterMnemonicNotConfigured, err.Error())
		return
	}
	signer, err := walletkeys.DeriveFromMnemonic(mnemonic)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeArbiterMnemonicNotConfigured, err.Error())
		return
	}
	if escrow.ArbiterAddress == "" {
		p.journalError(ctx, q, escrow.ID, ErrCodeArbiterAddressNotSet, "arbiter address not set in escrow")
		return
	}

	txID, err := p.signAndBroadcast(ctx, signer, func() (*chain.UnsignedTx, error) {
		return p.chainClient.CreateTransaction(ctx, chain.UnsignedTxRequest{
			FromAddress: signer.Address,
			ToAddress:   escrow.EscrowAddress,
			Amount:      amountNeeded,
		})
	})
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeTRXTransferFailed, err.Error())
		return
	}

	log.Infof("Escrow %d: TRX transfer successful, tx_id %s", escrow.ID, txID)
	p.journalTxn(ctx, q, escrow.ID, "TRX transfer: "+amountNeeded.String()+" TRX to "+escrow.EscrowAddress,
		model.EscrowTxnPayload{TxID: txID, Amount: amountNeeded.String(), Type: "trx_transfer"})
	p.metrics.topUps.Inc()
}

func (p *Provisioner) installPermission(ctx context.Context, q store.Querier, escrow *model.Escrow) {
	log.Infof("Escrow %d: updating permissions to multisig 2/3", escrow.ID)

	if escrow.EncryptedMnemonic == "" {
		p.journalError(ctx, q, escrow.ID, ErrCodeEscrowMnemonicNotConfigured,
			"escrow encrypted mnemonic not found or not configured")
		return
	}
	mnemonic, err := walletkeys.Decrypt(p.cfg.Secret, escrow.EncryptedMnemonic)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeEscrowMnemonicNotConfigured, err.Error())
		return
	}
	signer, err := walletkeys.DeriveFromMnemonic(mnemonic)
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeEscrowMnemonicNotConfigured, err.Error())
		return
	}

	keys := []chain.PermissionKey{
		{Address: escrow.Participant1Address, Weight: 1},
		{Address: escrow.Participant2Address, Weight: 1},
		{Address: escrow.ArbiterAddress, Weight: 1},
	}
	txID, err := p.signAndBroadcast(ctx, signer, func() (*chain.UnsignedTx, error) {
		return p.chainClient.UpdateAccountPermission(ctx, chain.PermissionUpdateRequest{
			OwnerAddress: escrow.EscrowAddress,
			Threshold:    requiredThreshold,
			Keys:         keys,
		})
	})
	if err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodePermissionUpdateFailed, err.Error())
		return
	}

	log.Infof("Escrow %d: permissions updated successfully, tx_id %s", escrow.ID, txID)
	p.journalTxn(ctx, q, escrow.ID, "permissions updated: multisig 2/3",
		model.EscrowTxnPayload{TxID: txID, Type: "permission_update"})

	if err := store.UpdateEscrowStatus(ctx, q, escrow.ID, model.EscrowActive); err != nil {
		p.journalError(ctx, q, escrow.ID, ErrCodeProcessingError, err.Error())
		return
	}
	p.journalEvent(ctx, q, escrow.ID, "escrow initialized: permissions set, status updated to active",
		model.EscrowTxnPayload{Type: "initialization_complete"})
	p.metrics.activated.Inc()
}

// signAndBroadcast builds an unsigned transaction, signs it with
// signer, and broadcasts the combined payload, returning the
// transaction id TRON assigns.
func (p *Provisioner) signAndBroadcast(ctx context.Context, signer *walletkeys.Signer, build func() (*chain.UnsignedTx, error)) (string, error) {
	unsigned, err := build()
	if err != nil {
		return "", err
	}
	sigHex, err := signer.Sign(unsigned.TxID)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(struct {
		RawDataHex string   `json:"raw_data_hex"`
		Signature  []string `json:"signature"`
	}{RawDataHex: unsigned.RawDataHex, Signature: []string{sigHex}})
	if err != nil {
		return "", err
	}
	return p.chainClient.BroadcastTransaction(ctx, raw)
}

func (p *Provisioner) journalEvent(ctx context.Context, q store.Querier, escrowID int64, comment string, payload model.EscrowTxnPayload) {
	if err := store.AppendEscrowTxn(ctx, q, &model.EscrowTxn{
		EscrowID: escrowID, Type: model.EscrowTxnEvent, Comment: comment, Txn: payload,
	}); err != nil {
		log.Errorf("Escrow %d: failed to write journal event: %v", escrowID, err)
	}
}

func (p *Provisioner) journalTxn(ctx context.Context, q store.Querier, escrowID int64, comment string, payload model.EscrowTxnPayload) {
	if err := store.AppendEscrowTxn(ctx, q, &model.EscrowTxn{
		EscrowID: escrowID, Type: model.EscrowTxnTxn, Comment: comment, Txn: payload,
	}); err != nil {
		log.Errorf("Escrow %d: failed to write journal txn: %v", escrowID, err)
	}
}

func (p *Provisioner) journalError(ctx context.Context, q store.Querier, escrowID int64, code, message string) {
	log.Errorf("Escrow %d: %s: %s", escrowID, code, message)
	p.metrics.errorsByCode.WithLabelValues(code).Inc()
	if err := store.AppendEscrowTxn(ctx, q, &model.EscrowTxn{
		EscrowID: escrowID,
		Type:     model.EscrowTxnEvent,
		Comment:  "error: " + message,
		Txn:      model.EscrowTxnPayload{ErrorCode: code, ErrorMessage: message},
	}); err != nil {
		log.Errorf("Escrow %d: failed to write journal error: %v", escrowID, err)
	}
}
