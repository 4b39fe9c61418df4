// Package payout builds and maintains the offline multisig payout
// transaction attached to a deal, grounded on
// original_source/services/deals/service.py's get_or_build_deal_payout_txn,
// refresh_deal_payout_txn and refresh_payout_txn_for_retry.
package payout

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/cache"
	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/RuSwift/garantex-sub000/internal/chatledger"
	"github.com/RuSwift/garantex-sub000/internal/escrowsvc"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// depositCheckTTL bounds how often the builder re-polls the chain for a
// deposit transaction's confirmation, mirroring DEPOSIT_CHECK_TTL_SEC.
const depositCheckTTL = 10 * time.Second

// ErrDealNotFound is returned when the named deal does not exist.
var ErrDealNotFound = errors.New("payout: deal not found")

// ErrUnauthorized is returned when a caller attempts an operation this
// package reserves for a specific deal role.
var ErrUnauthorized = errors.New("payout: caller not authorized for this operation")

// Builder resolves a deal's current payout destination and keeps
// deal.payout_txn in sync with it.
type Builder struct {
	store                *store.Store
	chainClient          chain.Client
	escrowSvc            *escrowsvc.Service
	chat                 *chatledger.Ledger
	defaultTokenContract string
	depositCache         *cache.TTLCache[model.DealUID, bool]
}

// New constructs a Builder. defaultTokenContract is used for deals whose
// requisites don't name one explicitly (empty string means "native coin
// payout").
func New(db *store.Store, chainClient chain.Client, escrowSvc *escrowsvc.Service, chat *chatledger.Ledger, defaultTokenContract string) *Builder {
	return &Builder{
		store:                db,
		chainClient:          chainClient,
		escrowSvc:            escrowSvc,
		chat:                 chat,
		defaultTokenContract: defaultTokenContract,
		depositCache:         cache.New[model.DealUID, bool](depositCheckTTL),
	}
}

// requisites is the subset of deal.requisites the builder reads.
type requisites struct {
	Amount        *decimal.Decimal `json:"amount"`
	TokenContract string           `json:"token_contract"`
}

// GetOrBuild resolves deal.payout_txn for its current status, building
// or rebuilding it against the chain only when nothing cached already
// matches the destination/amount/token, per the idempotence rule in
// spec.md §4.4. Returns (nil, nil) for every status this deal shouldn't
// currently carry a payout for (wait_arbiter/appeal/recline_appeal,
// unconfirmed deposit, missing amount, unresolvable recipient), exactly
// as get_or_build_deal_payout_txn does by clearing payout_txn and
// returning None.
func (b *Builder) GetOrBuild(ctx context.Context, dealUID model.DealUID) (*model.PayoutTxn, error) {
	deal, err := store.GetDeal(ctx, b.store.Pool, dealUID)
	if err == store.ErrNotFound {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	if deal.EscrowID == 0 {
		return nil, b.clearPayout(ctx, dealUID)
	}
	escrow, err := b.escrowSvc.Get(ctx, deal.EscrowID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, b.clearPayout(ctx, dealUID)
		}
		return nil, err
	}
	if escrow.Blockchain != "tron" {
		return nil, b.clearPayout(ctx, dealUID)
	}

	if deal.Status == model.StatusWaitDeposit {
		return b.handleWaitDeposit(ctx, deal, escrow)
	}

	if deal.Status.IsAppealState() {
		return nil, b.clearPayout(ctx, dealUID)
	}

	toDID, ok := recipientFor(deal)
	if !ok {
		return nil, b.clearPayout(ctx, dealUID)
	}
	toAddress, err := store.ResolveWalletAddress(ctx, b.store.Pool, string(toDID))
	if err == store.ErrNotFound {
		log.Warnf("payout: no wallet address for did %s on deal %s", toDID, dealUID)
		return nil, b.clearPayout(ctx, dealUID)
	}
	if err != nil {
		return nil, err
	}

	amount, tokenContract, ok := b.amountAndToken(deal)
	if !ok {
		return nil, b.clearPayout(ctx, dealUID)
	}

	if deal.PayoutTxn.Matches(toAddress, amount, tokenContract) {
		if deal.Status == model.StatusProcessing {
			if err := b.maybeCompleteProcessing(ctx, deal, escrow); err != nil {
				log.Warnf("payout: completion check failed for deal %s: %v", dealUID, err)
			}
		}
		return deal.PayoutTxn, nil
	}

	payload, err := b.escrowSvc.CreatePaymentTransaction(ctx, escrow, toAddress, amount, tokenContract)
	if err != nil {
		log.Warnf("payout: create_payment_transaction failed for deal %s: %v", dealUID, err)
		return nil, b.clearPayout(ctx, dealUID)
	}
	if err := store.SetDealPayoutTxn(ctx, b.store.Pool, dealUID, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// recipientFor maps a non-appeal, non-wait_deposit deal status to the
// DID payout funds should move to.
func recipientFor(deal *model.Deal) (model.DID, bool) {
	switch deal.Status {
	case model.StatusProcessing, model.StatusSuccess, model.StatusResolvingReceiver, model.StatusResolvedReceiver:
		return deal.ReceiverDID, true
	case model.StatusResolvingSender, model.StatusResolvedSender:
		return deal.SenderDID, true
	default:
		return "", false
	}
}

func (b *Builder) amountAndToken(deal *model.Deal) (decimal.Decimal, string, bool) {
	amount := deal.Amount
	tokenContract := b.defaultTokenContract
	if len(deal.Requisites) > 0 {
		var r requisites
		if err := json.Unmarshal(deal.Requisites, &r); err == nil {
			if r.Amount != nil {
				amount = *r.Amount
			}
			if r.TokenContract != "" {
				tokenContract = r.TokenContract
			}
		}
	}
	if amount.IsZero() {
		return decimal.Decimal{}, "", false
	}
	return amount, tokenContract, true
}

// handleWaitDeposit advances a deal out of StatusWaitDeposit once its
// deposit transaction is observed confirmed on chain, posting a
// one-time deposit service message, then calls GetOrBuild again itself
// so the payout is built for the new "processing" status right away.
func (b *Builder) handleWaitDeposit(ctx context.Context, deal *model.Deal, escrow *model.Escrow) (*model.PayoutTxn, error) {
	if deal.DepositTxnHash == "" {
		return nil, b.clearPayout(ctx, deal.UID)
	}
	confirmed, err := b.isDepositConfirmed(ctx, deal.UID, deal.DepositTxnHash, escrow.Network)
	if err != nil {
		log.Warnf("payout: deposit check failed for deal %s: %v", deal.UID, err)
	}
	if !confirmed {
		return nil, nil
	}
	if err := b.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := store.UpdateDealStatus(ctx, q, deal.UID, model.StatusProcessing); err != nil {
			return err
		}
		return b.postDepositServiceMessage(ctx, q, deal)
	}); err != nil {
		return nil, err
	}
	deal.Status = model.StatusProcessing
	return b.GetOrBuild(ctx, deal.UID)
}

func (b *Builder) postDepositServiceMessage(ctx context.Context, q store.Querier, deal *model.Deal) error {
	exists, err := store.HasServiceMessageForTxn(ctx, q, deal.UID, deal.DepositTxnHash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = b.chat.AddMessage(ctx, q, model.ChatMessage{
		UUID:        uuid.New().String(),
		MessageType: model.MessageService,
		SenderID:    deal.SenderDID,
		ReceiverID:  deal.ReceiverDID,
		DealUID:     deal.UID,
		DealLabel:   deal.Label,
		Text:        "sender deposited funds into escrow",
		TxnHash:     deal.DepositTxnHash,
		Timestamp:   time.Now(),
		Status:      model.StatusSent,
	}, deal)
	return err
}

// maybeCompleteProcessing mirrors the "processing" branch of the
// idempotent reuse path: once a payout has collected its required
// signature count, poll the chain for the broadcast tx's receipt and,
// on success, transition the deal to "success" and post a completion
// service message.
func (b *Builder) maybeCompleteProcessing(ctx context.Context, deal *model.Deal, escrow *model.Escrow) error {
	p := deal.PayoutTxn
	if p == nil {
		return nil
	}
	required := p.RequiredSignatures
	if required == 0 {
		required = len(p.Participants)
	}
	if len(p.Signatures) < required {
		return nil
	}
	txID := strings.TrimSpace(p.UnsignedTx.TxID)
	if txID == "" {
		return nil
	}
	info, err := b.chainClient.GetTransactionInfo(ctx, txID)
	if err != nil {
		return err
	}
	if info.Result != chain.ReceiptSuccess {
		return nil
	}
	return b.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		if err := store.SetDealPayoutTxnHash(ctx, q, deal.UID, txID); err != nil {
			return err
		}
		if err := store.UpdateDealStatus(ctx, q, deal.UID, model.StatusSuccess); err != nil {
			return err
		}
		exists, err := store.HasServiceMessageForTxn(ctx, q, deal.UID, txID)
		if err != nil || exists {
			return err
		}
		_, err = b.chat.AddMessage(ctx, q, model.ChatMessage{
			UUID:        uuid.New().String(),
			MessageType: model.MessageService,
			SenderID:    deal.SenderDID,
			ReceiverID:  deal.ReceiverDID,
			DealUID:     deal.UID,
			DealLabel:   deal.Label,
			Text:        "payout confirmed on chain, deal complete",
			TxnHash:     txID,
			Timestamp:   time.Now(),
			Status:      model.StatusSent,
		}, deal)
		return err
	})
}

func (b *Builder) isDepositConfirmed(ctx context.Context, dealUID model.DealUID, txHash, network string) (bool, error) {
	if confirmed, ok := b.depositCache.Get(dealUID); ok {
		return confirmed, nil
	}
	info, err := b.chainClient.GetTransactionInfo(ctx, txHash)
	if err != nil {
		b.depositCache.Set(dealUID, false)
		return false, err
	}
	confirmed := info.Result == chain.ReceiptSuccess && info.BlockNumber > 0
	b.depositCache.Set(dealUID, confirmed)
	return confirmed, nil
}

func (b *Builder) clearPayout(ctx context.Context, dealUID model.DealUID) error {
	return store.SetDealPayoutTxn(ctx, b.store.Pool, dealUID, nil)
}

// Refresh clears a deal's existing payout_txn and rebuilds it once,
// intended to be called right after a status change so the rebuilt
// payload matches the new to_address/amount/token.
func (b *Builder) Refresh(ctx context.Context, dealUID model.DealUID) (*model.PayoutTxn, error) {
	if err := b.clearPayout(ctx, dealUID); err != nil {
		return nil, err
	}
	return b.GetOrBuild(ctx, dealUID)
}

// RefreshForRetry rebuilds a stuck payout (e.g. after an out-of-energy
// broadcast failure), clearing any collected signatures and posting an
// explanatory service message. Only the deal's sender may call this,
// and only while the deal is in StatusProcessing with approval already
// granted, matching refresh_payout_txn_for_retry's guard.
func (b *Builder) RefreshForRetry(ctx context.Context, dealUID model.DealUID, callerDID model.DID, failedTxHash, reason string) (*model.PayoutTxn, error) {
	deal, err := store.GetDeal(ctx, b.store.Pool, dealUID)
	if err == store.ErrNotFound {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}
	if callerDID != deal.SenderDID {
		return nil, ErrUnauthorized
	}
	if deal.Status != model.StatusProcessing {
		return nil, errors.Errorf("%w: retry only allowed while processing", ErrUnauthorized)
	}
	if deal.NeedReceiverApprove {
		return nil, errors.Errorf("%w: deal awaiting receiver approval", ErrUnauthorized)
	}

	payload, err := b.Refresh(ctx, dealUID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	reasonText := strings.TrimSpace(reason)
	if reasonText == "" {
		reasonText = "transaction did not settle on chain"
	}
	text := "sender requested payout rebuild (" + reasonText + "); sender and receiver must sign again"
	if strings.TrimSpace(failedTxHash) != "" {
		text += "; failed transaction: " + strings.TrimSpace(failedTxHash)
	}
	if _, err := b.chat.AddMessageTx(ctx, model.ChatMessage{
		UUID:        uuid.New().String(),
		MessageType: model.MessageService,
		SenderID:    deal.SenderDID,
		ReceiverID:  deal.ReceiverDID,
		DealUID:     deal.UID,
		DealLabel:   deal.Label,
		Text:        text,
		TxnHash:     failedTxHash,
		Timestamp:   time.Now(),
		Status:      model.StatusSent,
	}, deal); err != nil {
		log.Warnf("payout: failed to post retry service message for deal %s: %v", dealUID, err)
	}
	return payload, nil
}
