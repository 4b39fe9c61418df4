package store

import (
	"context"
	"encoding/json"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/jackc/pgx/v4"
)

// InsertDeal persists a newly created deal in StatusWaitDeposit.
func InsertDeal(ctx context.Context, q Querier, d *model.Deal) error {
	attachments, err := json.Marshal(d.Attachments)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO deals (
			uid, sender_did, receiver_did, arbiter_did, label, description,
			amount, need_receiver_approve, status, escrow_id, requisites, attachments
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		string(d.UID), string(d.SenderDID), string(d.ReceiverDID), string(d.ArbiterDID),
		d.Label, d.Description, d.Amount, d.NeedReceiverApprove, string(d.Status),
		nullableEscrowID(d.EscrowID), nullableJSON(d.Requisites), attachments,
	)
	return classifyWriteError(err)
}

func nullableEscrowID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// GetDeal loads a deal by its UID.
func GetDeal(ctx context.Context, q Querier, uid model.DealUID) (*model.Deal, error) {
	row := q.QueryRow(ctx, `
		SELECT uid, sender_did, receiver_did, arbiter_did, label, description,
			amount, need_receiver_approve, status, escrow_id, requisites, attachments,
			payout_txn, deposit_txn_hash, payout_txn_hash, created_at, updated_at
		FROM deals WHERE uid = $1
	`, string(uid))
	return scanDeal(row)
}

// GetDealForUpdate loads a deal by UID and locks the row for the
// duration of the enclosing transaction, used by dealfsm before
// validating and applying a state transition so two concurrent
// requests can't race past the authorization/invariant checks.
func GetDealForUpdate(ctx context.Context, q Querier, uid model.DealUID) (*model.Deal, error) {
	row := q.QueryRow(ctx, `
		SELECT uid, sender_did, receiver_did, arbiter_did, label, description,
			amount, need_receiver_approve, status, escrow_id, requisites, attachments,
			payout_txn, deposit_txn_hash, payout_txn_hash, created_at, updated_at
		FROM deals WHERE uid = $1 FOR UPDATE
	`, string(uid))
	return scanDeal(row)
}

func scanDeal(row pgx.Row) (*model.Deal, error) {
	var (
		d                                          model.Deal
		uid, senderDID, receiverDID, arbiterDID    string
		status                                     string
		escrowID                                   *int64
		requisites, attachments, payoutTxn         []byte
		depositTxnHash, payoutTxnHash              *string
	)
	err := row.Scan(
		&uid, &senderDID, &receiverDID, &arbiterDID, &d.Label, &d.Description,
		&d.Amount, &d.NeedReceiverApprove, &status, &escrowID, &requisites, &attachments,
		&payoutTxn, &depositTxnHash, &payoutTxnHash, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.UID = model.DealUID(uid)
	d.SenderDID = model.DID(senderDID)
	d.ReceiverDID = model.DID(receiverDID)
	d.ArbiterDID = model.DID(arbiterDID)
	d.Status = model.DealStatus(status)
	if escrowID != nil {
		d.EscrowID = *escrowID
	}
	if depositTxnHash != nil {
		d.DepositTxnHash = *depositTxnHash
	}
	if payoutTxnHash != nil {
		d.PayoutTxnHash = *payoutTxnHash
	}
	if len(requisites) > 0 {
		d.Requisites = json.RawMessage(requisites)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &d.Attachments); err != nil {
			return nil, err
		}
	}
	if len(payoutTxn) > 0 {
		var p model.PayoutTxn
		if err := json.Unmarshal(payoutTxn, &p); err != nil {
			return nil, err
		}
		d.PayoutTxn = &p
	}
	return &d, nil
}

// UpdateDealStatus transitions a deal to newStatus. dealfsm and the
// payout builder call it inside the same transaction as any service
// message they write to the Chat Ledger, per spec.md §4.5.
func UpdateDealStatus(ctx context.Context, q Querier, uid model.DealUID, newStatus model.DealStatus) error {
	_, err := q.Exec(ctx, `UPDATE deals SET status = $1, updated_at = now() WHERE uid = $2`,
		string(newStatus), string(uid))
	return err
}

// ClearDealNeedReceiverApprove flips a deal's need_receiver_approve flag
// to false, the persistence half of accept_terms (grounded on
// routers/payment_request.py's receiver_approve handler, despite its
// name the endpoint the deal's sender calls to accept the stated terms).
func ClearDealNeedReceiverApprove(ctx context.Context, q Querier, uid model.DealUID) error {
	_, err := q.Exec(ctx, `UPDATE deals SET need_receiver_approve = false, updated_at = now() WHERE uid = $1`,
		string(uid))
	return err
}

// SetDealEscrow records the escrow a deal has been assigned to once the
// Escrow Lifecycle Service resolves or creates one.
func SetDealEscrow(ctx context.Context, q Querier, uid model.DealUID, escrowID int64) error {
	_, err := q.Exec(ctx, `UPDATE deals SET escrow_id = $1, updated_at = now() WHERE uid = $2`,
		escrowID, string(uid))
	return err
}

// SetDealDepositTxnHash records the transaction hash of the deposit
// that moved a deal out of StatusWaitDeposit.
func SetDealDepositTxnHash(ctx context.Context, q Querier, uid model.DealUID, txnHash string) error {
	_, err := q.Exec(ctx, `UPDATE deals SET deposit_txn_hash = $1, updated_at = now() WHERE uid = $2`,
		txnHash, string(uid))
	return err
}

// SetDealPayoutTxn persists the payout transaction builder's output
// (unsigned tx plus any signatures collected so far), overwriting any
// prior attempt for the same deal. A nil payout clears the column to
// SQL NULL.
func SetDealPayoutTxn(ctx context.Context, q Querier, uid model.DealUID, payout *model.PayoutTxn) error {
	var raw interface{}
	if payout != nil {
		encoded, err := json.Marshal(payout)
		if err != nil {
			return err
		}
		raw = encoded
	}
	_, err := q.Exec(ctx, `UPDATE deals SET payout_txn = $1, updated_at = now() WHERE uid = $2`,
		raw, string(uid))
	return err
}

// SetDealPayoutTxnHash records the broadcast transaction hash once the
// assembled payout has been submitted to the chain.
func SetDealPayoutTxnHash(ctx context.Context, q Querier, uid model.DealUID, txnHash string) error {
	_, err := q.Exec(ctx, `UPDATE deals SET payout_txn_hash = $1, updated_at = now() WHERE uid = $2`,
		txnHash, string(uid))
	return err
}

// ListDealsByStatus returns every deal currently in status, oldest
// first. No other package in this module calls it.
func ListDealsByStatus(ctx context.Context, q Querier, status model.DealStatus) ([]*model.Deal, error) {
	rows, err := q.Query(ctx, `
		SELECT uid, sender_did, receiver_did, arbiter_did, label, description,
			amount, need_receiver_approve, status, escrow_id, requisites, attachments,
			payout_txn, deposit_txn_hash, payout_txn_hash, created_at, updated_at
		FROM deals WHERE status = $1 ORDER BY created_at
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
