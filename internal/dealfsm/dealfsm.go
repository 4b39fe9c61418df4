// Package dealfsm is the Deal State Machine: it authorizes and applies
// every status transition named in spec.md §4.5, grounded on
// original_source/services/deals/service.py's set_deal_status and
// sender_confirm_complete.
package dealfsm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/RuSwift/garantex-sub000/internal/chatledger"
	"github.com/RuSwift/garantex-sub000/internal/escrowsvc"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/payout"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrAccessDenied is returned when a caller is not the role the
// requested transition requires, carrying enough context for the API
// layer to log or surface a precise reason.
type ErrAccessDenied struct {
	DealUID     model.DealUID
	OwnerDID    model.DID
	AttemptedBy model.DID
}

func (e *ErrAccessDenied) Error() string {
	return fmt.Sprintf("dealfsm: deal %s requires %s, attempted by %s", e.DealUID, e.OwnerDID, e.AttemptedBy)
}

// ErrInvalidTransition is returned for any transition not named in the
// authorization matrix.
var ErrInvalidTransition = errors.New("dealfsm: invalid status transition")

// ErrNeedsApproval is returned while a deal's need_receiver_approve
// flag is still set, i.e. before its sender has accepted the terms
// (AcceptTerms); spec.md §4.5 forbids any status transition until then.
var ErrNeedsApproval = errors.New("dealfsm: deal awaiting receiver approval")

// ErrNotConfirmed is returned when confirm-complete is requested but
// the chain has not yet reported the payout transaction as SUCCESS.
var ErrNotConfirmed = errors.New("dealfsm: payout transaction not confirmed on chain")

// ErrNoActiveArbiter is returned by CreateDeal when no wallet currently
// holds the active arbiter role, mirroring create_payment_request's
// "Active arbiter not found" 400 response.
var ErrNoActiveArbiter = errors.New("dealfsm: no active arbiter wallet configured")

// FSM applies the deal state machine's transitions, refreshing the
// deal's payout transaction and posting chat service messages as side
// effects.
type FSM struct {
	store       *store.Store
	chainClient chain.Client
	payout      *payout.Builder
	chat        *chatledger.Ledger
	escrows     *escrowsvc.Service
	blockchain  string
}

// New constructs an FSM. blockchain names the chain DIDs issued by
// CreateDeal belong to (e.g. "tron"), per core.utils.get_user_did.
func New(db *store.Store, chainClient chain.Client, payoutBuilder *payout.Builder, chat *chatledger.Ledger, escrows *escrowsvc.Service, blockchain string) *FSM {
	return &FSM{store: db, chainClient: chainClient, payout: payoutBuilder, chat: chat, escrows: escrows, blockchain: blockchain}
}

// CreateDeal opens a new payment request, grounded on
// routers/payment_request.py's /payment-request/create: the receiver
// (owner of receiverDID) names the payer's address and the deal terms;
// the active arbiter wallet is picked automatically, and the 2-of-3
// multisig escrow for the (payer, receiver, arbiter) triple is resolved
// or provisioned before the deal row is written. need_receiver_approve
// is always set, awaiting the sender's accept-terms call.
func (f *FSM) CreateDeal(ctx context.Context, receiverDID model.DID, payerAddress, label, description string, amount decimal.Decimal) (*model.Deal, error) {
	arbiterWallet, err := store.GetArbiterWallet(ctx, f.store.Pool, store.WalletRoleActive)
	if err == store.ErrNotFound {
		return nil, ErrNoActiveArbiter
	}
	if err != nil {
		return nil, err
	}
	arbiterDID, err := model.NewDID(fmt.Sprintf("did:%s:%s", f.blockchain, arbiterWallet.Address))
	if err != nil {
		return nil, err
	}
	senderDID, err := model.NewDID(fmt.Sprintf("did:%s:%s", f.blockchain, payerAddress))
	if err != nil {
		return nil, err
	}
	receiverAddress, err := store.ResolveWalletAddress(ctx, f.store.Pool, string(receiverDID))
	if err != nil {
		return nil, err
	}

	escrow, err := f.escrows.EnsureExists(ctx, receiverDID, payerAddress, receiverAddress, arbiterWallet.Address)
	if err != nil {
		return nil, err
	}

	deal := &model.Deal{
		UID:                 model.NewDealUID(),
		SenderDID:           senderDID,
		ReceiverDID:         receiverDID,
		ArbiterDID:          arbiterDID,
		Label:               label,
		Description:         description,
		Amount:              amount,
		NeedReceiverApprove: true,
		Status:              model.StatusWaitDeposit,
		EscrowID:            escrow.ID,
	}
	if err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		return store.InsertDeal(ctx, q, deal)
	}); err != nil {
		return nil, err
	}
	return deal, nil
}

// AcceptTerms clears a newly created deal's need_receiver_approve flag
// and posts a service message announcing it, grounded on
// receiver_approve: despite the endpoint's name, the caller it actually
// authorizes is the deal's sender (deal.sender_did != owner_did -> 403).
// Calling this on a deal that no longer needs approval is a no-op,
// matching the handler's early "already approved" return.
func (f *FSM) AcceptTerms(ctx context.Context, dealUID model.DealUID, callerDID model.DID) (*model.Deal, error) {
	err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		deal, err := store.GetDealForUpdate(ctx, q, dealUID)
		if err != nil {
			return err
		}
		if !deal.NeedReceiverApprove {
			return nil
		}
		if callerDID != deal.SenderDID {
			return &ErrAccessDenied{DealUID: dealUID, OwnerDID: deal.SenderDID, AttemptedBy: callerDID}
		}
		if err := store.ClearDealNeedReceiverApprove(ctx, q, dealUID); err != nil {
			return err
		}
		_, err = f.chat.AddMessage(ctx, q, model.ChatMessage{
			UUID:        uuid.New().String(),
			MessageType: model.MessageService,
			SenderID:    deal.SenderDID,
			ReceiverID:  deal.ReceiverDID,
			DealUID:     deal.UID,
			DealLabel:   deal.Label,
			Text:        fmt.Sprintf("%s accepted the deal terms", deal.SenderDID),
			Timestamp:   time.Now(),
			Status:      model.StatusSent,
		}, deal)
		return err
	})
	if err != nil {
		return nil, err
	}
	return store.GetDeal(ctx, f.store.Pool, dealUID)
}

func (f *FSM) loadForUpdate(ctx context.Context, q store.Querier, dealUID model.DealUID) (*model.Deal, error) {
	deal, err := store.GetDealForUpdate(ctx, q, dealUID)
	if err != nil {
		return nil, err
	}
	if deal.NeedReceiverApprove {
		return nil, ErrNeedsApproval
	}
	return deal, nil
}

// Appeal moves a deal into wait_arbiter, either because the sender or
// receiver disputes an in-progress deal, or because the arbiter
// reopens a final state for reconsideration.
func (f *FSM) Appeal(ctx context.Context, dealUID model.DealUID, callerDID model.DID) (*model.Deal, error) {
	var deal *model.Deal
	err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		d, err := f.loadForUpdate(ctx, q, dealUID)
		if err != nil {
			return err
		}
		deal = d

		switch {
		case callerDID == d.SenderDID || callerDID == d.ReceiverDID:
			if d.Status != model.StatusProcessing {
				return errors.Errorf("%w: appeal only allowed from processing", ErrInvalidTransition)
			}
			other := d.ReceiverDID
			if callerDID == d.ReceiverDID {
				other = d.SenderDID
			}
			return f.transition(ctx, q, d, model.StatusWaitArbiter, callerDID, other,
				fmt.Sprintf("%s filed an appeal", callerDID), "")
		case callerDID == d.ArbiterDID:
			if !d.Status.IsTerminal() {
				return &ErrAccessDenied{DealUID: dealUID, OwnerDID: d.ArbiterDID, AttemptedBy: callerDID}
			}
			return f.transition(ctx, q, d, model.StatusWaitArbiter, d.ArbiterDID, d.ReceiverDID,
				"arbiter reopened the deal for appeal", "")
		default:
			return &ErrAccessDenied{DealUID: dealUID, OwnerDID: d.ArbiterDID, AttemptedBy: callerDID}
		}
	})
	if err != nil {
		return nil, err
	}
	return f.refreshed(ctx, dealUID)
}

// Resolve moves a deal from the appeal branch into resolving_sender or
// resolving_receiver, the arbiter's ruling on who is entitled to the
// payout.
func (f *FSM) Resolve(ctx context.Context, dealUID model.DealUID, callerDID model.DID, target model.DealStatus) (*model.Deal, error) {
	if target != model.StatusResolvingSender && target != model.StatusResolvingReceiver {
		return nil, errors.Errorf("%w: %s is not a resolving state", ErrInvalidTransition, target)
	}
	err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		d, err := f.loadForUpdate(ctx, q, dealUID)
		if err != nil {
			return err
		}
		if callerDID != d.ArbiterDID {
			return &ErrAccessDenied{DealUID: dealUID, OwnerDID: d.ArbiterDID, AttemptedBy: callerDID}
		}
		if d.Status != model.StatusWaitArbiter && d.Status != model.StatusAppeal && d.Status != model.StatusReclineAppeal {
			return errors.Errorf("%w: resolving only allowed from wait_arbiter, appeal or recline_appeal", ErrInvalidTransition)
		}
		text := "arbiter ruled in favor of the sender"
		if target == model.StatusResolvingReceiver {
			text = "arbiter ruled in favor of the receiver"
		}
		return f.transition(ctx, q, d, target, d.ArbiterDID, d.ReceiverDID, text, "")
	})
	if err != nil {
		return nil, err
	}
	return f.refreshed(ctx, dealUID)
}

// ReclineAppeal sends a deal back for arbiter reconsideration from a
// resolving state.
func (f *FSM) ReclineAppeal(ctx context.Context, dealUID model.DealUID, callerDID model.DID) (*model.Deal, error) {
	err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		d, err := f.loadForUpdate(ctx, q, dealUID)
		if err != nil {
			return err
		}
		if callerDID != d.ArbiterDID {
			return &ErrAccessDenied{DealUID: dealUID, OwnerDID: d.ArbiterDID, AttemptedBy: callerDID}
		}
		if d.Status != model.StatusResolvingSender && d.Status != model.StatusResolvingReceiver {
			return errors.Errorf("%w: recline_appeal only allowed from resolving_sender or resolving_receiver", ErrInvalidTransition)
		}
		return f.transition(ctx, q, d, model.StatusReclineAppeal, d.ArbiterDID, d.ReceiverDID,
			"arbiter sent the case back for reconsideration", "")
	})
	if err != nil {
		return nil, err
	}
	return f.refreshed(ctx, dealUID)
}

// ReturnToProcessing sends a deal back to work from any appeal or
// final state, the arbiter's override.
func (f *FSM) ReturnToProcessing(ctx context.Context, dealUID model.DealUID, callerDID model.DID) (*model.Deal, error) {
	err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		d, err := f.loadForUpdate(ctx, q, dealUID)
		if err != nil {
			return err
		}
		if callerDID != d.ArbiterDID {
			return &ErrAccessDenied{DealUID: dealUID, OwnerDID: d.ArbiterDID, AttemptedBy: callerDID}
		}
		if !d.Status.IsAppealState() && !d.Status.IsTerminal() {
			return errors.Errorf("%w: processing re-entry only allowed from an appeal or final state", ErrInvalidTransition)
		}
		return f.transition(ctx, q, d, model.StatusProcessing, d.ArbiterDID, d.ReceiverDID,
			"arbiter returned the deal to work", "")
	})
	if err != nil {
		return nil, err
	}
	return f.refreshed(ctx, dealUID)
}

// ConfirmComplete is the only path to success/resolved_sender/
// resolved_receiver. The caller must be the party the current status
// entitles (sender for processing and resolving_sender, receiver for
// resolving_receiver); resolving_* transitions additionally require
// txHash and on-chain confirmation of that hash before the status
// moves.
func (f *FSM) ConfirmComplete(ctx context.Context, dealUID model.DealUID, callerDID model.DID, txHash string) (*model.Deal, error) {
	txHash = strings.TrimSpace(txHash)
	deal, err := store.GetDeal(ctx, f.store.Pool, dealUID)
	if err != nil {
		return nil, err
	}
	if deal.NeedReceiverApprove {
		return nil, ErrNeedsApproval
	}

	switch deal.Status {
	case model.StatusProcessing:
		if callerDID != deal.SenderDID {
			return nil, &ErrAccessDenied{DealUID: dealUID, OwnerDID: deal.SenderDID, AttemptedBy: callerDID}
		}
		if txHash != "" && deal.EscrowID != 0 {
			if err := f.requireConfirmed(ctx, deal, txHash); err != nil {
				return nil, err
			}
		}
		return f.commitConfirm(ctx, deal, model.StatusSuccess, deal.SenderDID, deal.ReceiverDID,
			fmt.Sprintf("%s confirmed completion with no objections", deal.SenderDID), txHash)

	case model.StatusResolvingSender:
		if callerDID != deal.SenderDID {
			return nil, &ErrAccessDenied{DealUID: dealUID, OwnerDID: deal.SenderDID, AttemptedBy: callerDID}
		}
		if txHash == "" || deal.EscrowID == 0 {
			return nil, errors.Errorf("%w: tx_hash required to confirm resolving_sender", ErrInvalidTransition)
		}
		if err := f.requireConfirmed(ctx, deal, txHash); err != nil {
			return nil, err
		}
		return f.commitConfirm(ctx, deal, model.StatusResolvedSender, deal.SenderDID, deal.ReceiverDID,
			fmt.Sprintf("%s confirmed completion with no objections", deal.SenderDID), txHash)

	case model.StatusResolvingReceiver:
		if callerDID != deal.ReceiverDID {
			return nil, &ErrAccessDenied{DealUID: dealUID, OwnerDID: deal.ReceiverDID, AttemptedBy: callerDID}
		}
		if txHash == "" || deal.EscrowID == 0 {
			return nil, errors.Errorf("%w: tx_hash required to confirm resolving_receiver", ErrInvalidTransition)
		}
		if err := f.requireConfirmed(ctx, deal, txHash); err != nil {
			return nil, err
		}
		return f.commitConfirm(ctx, deal, model.StatusResolvedReceiver, deal.ReceiverDID, deal.SenderDID,
			fmt.Sprintf("%s reported condition fulfillment and confirmed completion", deal.ReceiverDID), txHash)

	default:
		return nil, errors.Errorf("%w: confirm-complete not allowed from %s", ErrInvalidTransition, deal.Status)
	}
}

// requireConfirmed polls the chain for txHash's receipt, mirroring
// _is_payout_tx_success: SUCCESS with a block number passes, FAILED
// surfaces the network's error message, and a persistent PENDING
// returns ErrNotConfirmed so the caller can retry later.
func (f *FSM) requireConfirmed(ctx context.Context, deal *model.Deal, txHash string) error {
	const (
		timeout  = 10 * time.Second
		interval = 2500 * time.Millisecond
	)
	deadline := time.Now().Add(timeout)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		info, err := f.chainClient.GetTransactionInfo(ctx, txHash)
		if err != nil {
			log.Warnf("dealfsm: payout tx check failed for %s (attempt %d): %v", txHash, attempt+1, err)
		} else {
			switch info.Result {
			case chain.ReceiptSuccess:
				if info.BlockNumber > 0 {
					return nil
				}
			case chain.ReceiptFailed:
				msg := info.ResultMessage
				if msg == "" {
					msg = info.ContractResult
				}
				return errors.Errorf("dealfsm: payout transaction %s failed on chain: %s", txHash, msg)
			}
		}
		if time.Now().After(deadline) {
			return ErrNotConfirmed
		}
	}
}

func (f *FSM) commitConfirm(ctx context.Context, deal *model.Deal, newStatus model.DealStatus, serviceSender, serviceReceiver model.DID, text, txHash string) (*model.Deal, error) {
	err := f.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		locked, err := store.GetDealForUpdate(ctx, q, deal.UID)
		if err != nil {
			return err
		}
		if locked.Status != deal.Status {
			return errors.Errorf("%w: deal status changed concurrently", ErrInvalidTransition)
		}
		if txHash != "" {
			if err := store.SetDealPayoutTxnHash(ctx, q, deal.UID, txHash); err != nil {
				return err
			}
		}
		return f.transition(ctx, q, locked, newStatus, serviceSender, serviceReceiver, text, txHash)
	})
	if err != nil {
		return nil, err
	}
	return store.GetDeal(ctx, f.store.Pool, deal.UID)
}

// transition writes the new status, posts a deduplicated service
// message, and always clears payout_txn: every transition in the
// matrix changes either the entitled recipient or the deal's
// reachability, so a stale cached payout must never survive it.
func (f *FSM) transition(ctx context.Context, q store.Querier, deal *model.Deal, newStatus model.DealStatus, serviceSender, serviceReceiver model.DID, text, txHash string) error {
	if err := store.UpdateDealStatus(ctx, q, deal.UID, newStatus); err != nil {
		return err
	}
	if err := store.SetDealPayoutTxn(ctx, q, deal.UID, nil); err != nil {
		return err
	}
	if txHash != "" {
		exists, err := store.HasServiceMessageForTxn(ctx, q, deal.UID, txHash)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	deal.Status = newStatus
	_, err := f.chat.AddMessage(ctx, q, model.ChatMessage{
		UUID:        uuid.New().String(),
		MessageType: model.MessageService,
		SenderID:    serviceSender,
		ReceiverID:  serviceReceiver,
		DealUID:     deal.UID,
		DealLabel:   deal.Label,
		Text:        text,
		TxnHash:     txHash,
		Timestamp:   time.Now(),
		Status:      model.StatusSent,
	}, deal)
	return err
}

// refreshed rebuilds the deal's payout_txn for its new status (cleared
// by transition) and returns the up to date deal row.
func (f *FSM) refreshed(ctx context.Context, dealUID model.DealUID) (*model.Deal, error) {
	if _, err := f.payout.GetOrBuild(ctx, dealUID); err != nil {
		log.Warnf("dealfsm: payout refresh failed for deal %s: %v", dealUID, err)
	}
	return store.GetDeal(ctx, f.store.Pool, dealUID)
}
