package store

import (
	"context"
	"encoding/json"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/jackc/pgx/v4"
)

// AppendEscrowTxn writes one journal entry for an escrow, coalescing
// repeated identical errors into a single row with an incremented
// counter instead of growing the journal unbounded, the behavior
// grounded on original_source/cron/tasks.py's retry bookkeeping. The
// row updated is the escrow's most recent entry with the same type,
// comment and error_code, even when other entries were written after it.
func AppendEscrowTxn(ctx context.Context, q Querier, txn *model.EscrowTxn) error {
	var lastID int64
	var lastCounter int
	err := q.QueryRow(ctx, `
		SELECT id, counter FROM escrow_txns
		WHERE escrow_id = $1 AND type = $2 AND comment = $3 AND (txn->>'error_code') IS NOT DISTINCT FROM $4
		ORDER BY id DESC LIMIT 1
	`, txn.EscrowID, string(txn.Type), txn.Comment, nullableString(txn.Txn.ErrorCode)).Scan(&lastID, &lastCounter)

	if err == nil {
		payload, marshalErr := json.Marshal(txn.Txn)
		if marshalErr != nil {
			return marshalErr
		}
		_, err = q.Exec(ctx, `UPDATE escrow_txns SET counter = $1, txn = $2, created_at = now() WHERE id = $3`,
			lastCounter+1, payload, lastID)
		return err
	}
	if err != pgx.ErrNoRows {
		return err
	}

	payload, marshalErr := json.Marshal(txn.Txn)
	if marshalErr != nil {
		return marshalErr
	}
	_, err = q.Exec(ctx, `
		INSERT INTO escrow_txns (escrow_id, type, comment, txn, counter)
		VALUES ($1,$2,$3,$4,1)
	`, txn.EscrowID, string(txn.Type), txn.Comment, payload)
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ListEscrowTxns returns the journal for a single escrow, newest first.
func ListEscrowTxns(ctx context.Context, q Querier, escrowID int64) ([]*model.EscrowTxn, error) {
	rows, err := q.Query(ctx, `
		SELECT id, escrow_id, type, comment, txn, counter, created_at
		FROM escrow_txns WHERE escrow_id = $1 ORDER BY id DESC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.EscrowTxn
	for rows.Next() {
		var t model.EscrowTxn
		var typ string
		var payload []byte
		if err := rows.Scan(&t.ID, &t.EscrowID, &typ, &t.Comment, &payload, &t.Counter, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.EscrowTxnType(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t.Txn); err != nil {
				return nil, err
			}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
