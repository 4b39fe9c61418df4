package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/jackc/pgx/v4"
)

// InsertStorageRecord writes one per-recipient fan-out row for a chat
// message. The Chat Ledger calls this once per DID in the conversation
// (sender, receiver, and, for deal messages, the arbiter) inside a
// single Store.WithTx, per spec.md §3's "delivered to every
// participant's own space" requirement.
func InsertStorageRecord(ctx context.Context, q Querier, rec *model.StorageRecord) (int64, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRow(ctx, `
		INSERT INTO storage (space, owner_did, conversation_id, deal_uid, payload)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, rec.Space, string(rec.OwnerDID), string(rec.ConversationID), nullableString(string(rec.DealUID)), payload).Scan(&id)
	return id, err
}

// FindStorageRecordByMessageUUID resolves a message's UUID (as carried
// in its own JSON payload) back to the Storage row's primary key, for
// the owner's own space and conversation. This is the lookup behind
// get_history's after_message_uid/before_message_uid cursors, which
// operate on Storage.id rather than the message's own UUID.
func FindStorageRecordByMessageUUID(ctx context.Context, q Querier, ownerDID model.DID, conversationID *model.ConversationID, messageUUID string) (*model.StorageRecord, error) {
	var row pgx.Row
	if conversationID != nil {
		row = q.QueryRow(ctx, `
			SELECT id, space, owner_did, conversation_id, deal_uid, payload, created_at
			FROM storage
			WHERE space = 'chat' AND owner_did = $1 AND conversation_id = $2 AND payload->>'uuid' = $3
		`, string(ownerDID), string(*conversationID), messageUUID)
	} else {
		row = q.QueryRow(ctx, `
			SELECT id, space, owner_did, conversation_id, deal_uid, payload, created_at
			FROM storage
			WHERE space = 'chat' AND owner_did = $1 AND conversation_id = '' AND payload->>'uuid' = $2
		`, string(ownerDID), messageUUID)
	}
	return scanStorageRecord(row)
}

// FindStorageRecordByMessageUUIDAnyConversation resolves a message's
// UUID to its owner's Storage row without scoping by conversation_id,
// grounded on get_attachment, which looks a message up by owner_did
// and payload['uuid'] alone before scanning its attachments.
func FindStorageRecordByMessageUUIDAnyConversation(ctx context.Context, q Querier, ownerDID model.DID, messageUUID string) (*model.StorageRecord, error) {
	row := q.QueryRow(ctx, `
		SELECT id, space, owner_did, conversation_id, deal_uid, payload, created_at
		FROM storage
		WHERE space = 'chat' AND owner_did = $1 AND payload->>'uuid' = $2
	`, string(ownerDID), messageUUID)
	return scanStorageRecord(row)
}

// ConversationPage bounds one History call's result, mirroring
// get_history's cursor-or-page semantics: when BeforeID is set, offset
// pagination is ignored entirely and only the id < BeforeID bound
// applies.
type ConversationPage struct {
	Limit    int
	Offset   int
	AfterID  int64
	BeforeID int64
}

// ListConversation returns a page of a single DID's view of a
// conversation, newest first, for the Chat Ledger's history read.
// conversationID nil means the null-conversation bucket (messages with
// no conversation_id), matching get_history's "conversation_id is None"
// branch rather than "return everything".
func ListConversation(ctx context.Context, q Querier, ownerDID model.DID, conversationID *model.ConversationID, page ConversationPage) ([]*model.StorageRecord, error) {
	const baseWhere = `space = 'chat' AND owner_did = $1 AND conversation_id = $2`
	conv := ""
	if conversationID != nil {
		conv = string(*conversationID)
	}

	query := `
		SELECT id, space, owner_did, conversation_id, deal_uid, payload, created_at
		FROM storage
		WHERE ` + baseWhere
	args := []interface{}{string(ownerDID), conv}

	if page.AfterID > 0 {
		query += " AND id > $" + placeholder(len(args)+1)
		args = append(args, page.AfterID)
	}
	if page.BeforeID > 0 {
		query += " AND id < $" + placeholder(len(args)+1)
		args = append(args, page.BeforeID)
	}

	query += " ORDER BY id DESC LIMIT $" + placeholder(len(args)+1)
	args = append(args, page.Limit)
	if page.BeforeID == 0 {
		query += " OFFSET $" + placeholder(len(args)+1)
		args = append(args, page.Offset)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStorageRecords(rows)
}

// CountConversation returns the total row count ListConversation would
// page over with the same filters (excluding Limit/Offset), the
// "total"/"total_pages" fields get_history returns alongside messages.
func CountConversation(ctx context.Context, q Querier, ownerDID model.DID, conversationID *model.ConversationID, afterID, beforeID int64) (int, error) {
	conv := ""
	if conversationID != nil {
		conv = string(*conversationID)
	}
	query := `SELECT count(*) FROM storage WHERE space = 'chat' AND owner_did = $1 AND conversation_id = $2`
	args := []interface{}{string(ownerDID), conv}
	if afterID > 0 {
		query += " AND id > $" + placeholder(len(args)+1)
		args = append(args, afterID)
	}
	if beforeID > 0 {
		query += " AND id < $" + placeholder(len(args)+1)
		args = append(args, beforeID)
	}
	var total int
	err := q.QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}

// ConversationSession is one entry of get_last_sessions' result: the
// most recent message of a thread, plus how many messages that thread
// holds (subject to the same after_message_uid cutoff as the listing).
type ConversationSession struct {
	ConversationID  model.ConversationID
	LastMessageTime time.Time
	MessageCount    int
	LastMessage     *model.StorageRecord
}

// ListLastSessions returns, for each distinct conversation owned by
// ownerDID, the most recent message and that thread's message count,
// the query behind get_last_sessions: a MAX(id)-per-conversation
// subquery joined back to the full row, ordered by the winning row's
// created_at. afterID, when positive, restricts both the subquery and
// the per-thread counts to Storage.id > afterID.
func ListLastSessions(ctx context.Context, q Querier, ownerDID model.DID, limit int, afterID int64) ([]*ConversationSession, error) {
	args := []interface{}{string(ownerDID)}
	afterClause := ""
	if afterID > 0 {
		afterClause = " AND id > $2"
		args = append(args, afterID)
	}
	args = append(args, limit)

	rows, err := q.Query(ctx, `
		SELECT s.id, s.space, s.owner_did, s.conversation_id, s.deal_uid, s.payload, s.created_at
		FROM storage s
		JOIN (
			SELECT conversation_id, MAX(id) AS last_id
			FROM storage
			WHERE space = 'chat' AND owner_did = $1`+afterClause+`
			GROUP BY conversation_id
		) latest ON latest.conversation_id = s.conversation_id AND latest.last_id = s.id
		WHERE s.space = 'chat' AND s.owner_did = $1
		ORDER BY s.created_at DESC
		LIMIT $`+placeholder(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records, err := scanStorageRecords(rows)
	if err != nil {
		return nil, err
	}

	out := make([]*ConversationSession, 0, len(records))
	for _, rec := range records {
		count, err := CountConversation(ctx, q, ownerDID, &rec.ConversationID, afterID, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, &ConversationSession{
			ConversationID:  rec.ConversationID,
			LastMessageTime: rec.CreatedAt,
			MessageCount:    count,
			LastMessage:     rec,
		})
	}
	return out, nil
}

// HasServiceMessageForTxn reports whether a service-type chat message
// already exists for dealUID carrying txnHash, so payout/deposit
// confirmation service messages are only ever posted once per
// transaction hash, mirroring get_or_build_deal_payout_txn's explicit
// "Storage.payload["txn_hash"].astext == ..." existence check.
func HasServiceMessageForTxn(ctx context.Context, q Querier, dealUID model.DealUID, txnHash string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM storage
			WHERE space = 'chat'
				AND deal_uid = $1
				AND payload->>'message_type' = 'service'
				AND payload->>'txn_hash' = $2
			LIMIT 1
		)
	`, string(dealUID), txnHash).Scan(&exists)
	return exists, err
}

func scanStorageRecord(row pgx.Row) (*model.StorageRecord, error) {
	var (
		rec                      model.StorageRecord
		ownerDID, conversationID string
		dealUID                  *string
		payload                  []byte
	)
	err := row.Scan(&rec.ID, &rec.Space, &ownerDID, &conversationID, &dealUID, &payload, &rec.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.OwnerDID = model.DID(ownerDID)
	rec.ConversationID = model.ConversationID(conversationID)
	if dealUID != nil {
		rec.DealUID = model.DealUID(*dealUID)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func scanStorageRecords(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]*model.StorageRecord, error) {
	var out []*model.StorageRecord
	for rows.Next() {
		var (
			rec                      model.StorageRecord
			ownerDID, conversationID string
			dealUID                  *string
			payload                  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Space, &ownerDID, &conversationID, &dealUID, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.OwnerDID = model.DID(ownerDID)
		rec.ConversationID = model.ConversationID(conversationID)
		if dealUID != nil {
			rec.DealUID = model.DealUID(*dealUID)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// placeholder formats a 1-based positional parameter index, used by the
// hand-built queries above whose WHERE clause grows with how many
// optional cursors are in play.
func placeholder(n int) string {
	return strconv.Itoa(n)
}
