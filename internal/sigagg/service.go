package sigagg

import (
	"context"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/chatledger"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
)

// ErrNoPayoutTxn is returned when a deal has no payout_txn to sign yet,
// add_payout_signature's "payout or not isinstance(payout, dict): return
// None" branch.
var ErrNoPayoutTxn = errors.New("sigagg: deal has no payout transaction to sign")

// Service wires the pure AddSignature/Assemble helpers above to
// storage and the Chat Ledger, grounded on
// original_source/services/deals/service.py's add_payout_signature:
// load deal for update, validate and append the signature inside one
// transaction, and, when the signer turns out to be the deal's
// receiver, post the "receiver reported condition fulfillment" service
// message exactly once.
type Service struct {
	store *store.Store
	chat  *chatledger.Ledger
}

// New constructs a Service backed by db and chat.
func New(db *store.Store, chat *chatledger.Ledger) *Service {
	return &Service{store: db, chat: chat}
}

// AddSignature appends signerAddress's signature to dealUID's
// payout_txn. replacement, when non-nil, extends the transaction's
// expiry and is only accepted while no signatures exist yet.
func (s *Service) AddSignature(ctx context.Context, dealUID model.DealUID, signerAddress, signatureHex string, replacement *model.UnsignedTx) (*model.PayoutTxn, error) {
	var updated *model.PayoutTxn
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		deal, err := store.GetDealForUpdate(ctx, q, dealUID)
		if err != nil {
			return err
		}
		if deal.PayoutTxn == nil {
			return ErrNoPayoutTxn
		}

		before := len(deal.PayoutTxn.Signatures)
		payout, err := AddSignature(deal.PayoutTxn, signerAddress, signatureHex, replacement)
		if err != nil {
			return err
		}
		if err := store.SetDealPayoutTxn(ctx, q, dealUID, payout); err != nil {
			return err
		}
		updated = payout

		if len(payout.Signatures) == before {
			return nil
		}
		return s.postFulfillmentMessage(ctx, q, deal, signerAddress)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// postFulfillmentMessage posts a service message to the deal's sender
// when the address that just signed resolves to the deal's receiver,
// mirroring add_payout_signature's receiver-completion notice. A
// signer that isn't the receiver (or that the wallet registry doesn't
// recognize) produces no message, matching the original's best-effort
// "if receiver_user and address matches" guard.
func (s *Service) postFulfillmentMessage(ctx context.Context, q store.Querier, deal *model.Deal, signerAddress string) error {
	receiverAddress, err := store.ResolveWalletAddress(ctx, q, string(deal.ReceiverDID))
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if normalize(receiverAddress) != normalize(signerAddress) {
		return nil
	}
	_, err = s.chat.AddMessage(ctx, q, model.ChatMessage{
		UUID:        uuid.New().String(),
		MessageType: model.MessageService,
		SenderID:    deal.ReceiverDID,
		ReceiverID:  deal.SenderDID,
		DealUID:     deal.UID,
		DealLabel:   deal.Label,
		Text:        "receiver reported condition fulfillment",
		Timestamp:   time.Now(),
		Status:      model.StatusSent,
	}, deal)
	return err
}

// Assemble returns dealUID's payout ready for broadcast, or (nil, nil,
// nil) if the required signature quorum hasn't been met yet, the
// read side of get_payout_signed_tx.
func (s *Service) Assemble(ctx context.Context, dealUID model.DealUID) (*model.UnsignedTx, []string, error) {
	deal, err := store.GetDeal(ctx, s.store.Pool, dealUID)
	if err != nil {
		return nil, nil, err
	}
	if deal.PayoutTxn == nil {
		return nil, nil, ErrNoPayoutTxn
	}
	tx, ordered, ok := Assemble(deal.PayoutTxn)
	if !ok {
		return nil, nil, nil
	}
	return tx, ordered, nil
}
