// Package chatledger is the per-participant chat persistence layer,
// grounded on original_source/services/chat/service.py's ChatService:
// every message is fanned out to one storage row per counterparty so
// each DID's history read only ever touches its own rows.
package chatledger

import (
	"context"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/go-errors/errors"
)

// space is the fixed Storage.space value used for every chat row,
// mirroring ChatService.SPACE.
const space = "chat"

// ErrValidation is returned when a ChatMessage violates one of the
// per-message_type invariants below.
var ErrValidation = errors.New("chatledger: invalid message")

// Ledger fans a ChatMessage out to one Storage row per conversation
// participant and serves paginated reads back from it.
type Ledger struct {
	store *store.Store
}

// New constructs a Ledger backed by db.
func New(db *store.Store) *Ledger {
	return &Ledger{store: db}
}

// validate enforces the per-message_type shape invariants from the
// chat schema: text messages carry text, file/audio/video messages
// carry attachments, mixed messages carry text or attachments (or
// both), reply messages name the message they
// reply to, deal messages carry a deal UID, and service messages are
// never produced directly by a participant caller.
func validate(msg *model.ChatMessage) error {
	switch msg.MessageType {
	case model.MessageText:
		if msg.Text == "" {
			return errors.Errorf("%w: text message requires text", ErrValidation)
		}
	case model.MessageFile, model.MessageAudio, model.MessageVideo:
		if len(msg.Attachments) == 0 {
			return errors.Errorf("%w: %s message requires at least one attachment", ErrValidation, msg.MessageType)
		}
	case model.MessageMixed:
		if msg.Text == "" && len(msg.Attachments) == 0 {
			return errors.Errorf("%w: mixed message requires text or attachments", ErrValidation)
		}
	case model.MessageReply:
		if msg.ReplyToMessageUUID == "" {
			return errors.Errorf("%w: reply message requires reply_to_message_uuid", ErrValidation)
		}
	case model.MessageDeal:
		if msg.DealUID == "" {
			return errors.Errorf("%w: deal message requires deal_uid", ErrValidation)
		}
	case model.MessageService:
		// Written only by dealfsm/payout/provisioner on behalf of a
		// participant; no additional shape requirement here.
	default:
		return errors.Errorf("%w: unknown message_type %q", ErrValidation, msg.MessageType)
	}
	for _, att := range msg.Attachments {
		if att.Size > maxAttachmentSize {
			return errors.Errorf("%w: attachment %s exceeds size limit", ErrValidation, att.ID)
		}
	}
	return nil
}

const maxAttachmentSize = 50 * 1024 * 1024

// AddMessage persists msg once per conversation participant using q and
// returns the copy addressed to the sender (conversation_id set from the
// sender's point of view), matching add_message's return contract. q is
// the caller's transaction: dealfsm and payout compose this fan-out with
// their own status-changing writes into one atomic commit, so the fan-out
// itself runs sequentially rather than through an errgroup — a shared
// pgx.Tx is not safe for concurrent use from multiple goroutines.
func (l *Ledger) AddMessage(ctx context.Context, q store.Querier, msg model.ChatMessage, deal *model.Deal) (*model.ChatMessage, error) {
	if err := validate(&msg); err != nil {
		return nil, err
	}
	probeImageDimensions(&msg)

	owners := participantsFor(msg, deal)

	var result *model.ChatMessage
	for _, owner := range owners {
		addressed := msg
		addressed.ConversationID = conversationIDFor(msg, deal, owner)
		rec := &model.StorageRecord{
			Space:          space,
			OwnerDID:       owner,
			ConversationID: addressed.ConversationID,
			DealUID:        msg.DealUID,
			Payload:        addressed,
		}
		if _, err := store.InsertStorageRecord(ctx, q, rec); err != nil {
			return nil, err
		}
		if owner == msg.SenderID {
			result = &addressed
		}
	}
	if result == nil {
		return nil, errors.Errorf("%w: sender %s was not among fan-out recipients", ErrValidation, msg.SenderID)
	}
	return result, nil
}

// AddMessageTx is AddMessage wrapped in its own transaction, for callers
// that post a chat message as a standalone operation with no other write
// to compose it with.
func (l *Ledger) AddMessageTx(ctx context.Context, msg model.ChatMessage, deal *model.Deal) (*model.ChatMessage, error) {
	var result *model.ChatMessage
	err := l.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		r, err := l.AddMessage(ctx, q, msg, deal)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// participantsFor returns the distinct DIDs a message should fan out
// to: sender+receiver for a plain conversation, or all three deal
// participants when deal is non-nil.
func participantsFor(msg model.ChatMessage, deal *model.Deal) []model.DID {
	if deal != nil {
		seen := map[model.DID]bool{}
		var out []model.DID
		for _, did := range deal.Participants() {
			if !seen[did] {
				seen[did] = true
				out = append(out, did)
			}
		}
		return out
	}
	if msg.SenderID == msg.ReceiverID {
		return []model.DID{msg.SenderID}
	}
	return []model.DID{msg.SenderID, msg.ReceiverID}
}

// conversationIDFor computes the conversation_id a given owner should
// see: the deal's DID for deal-scoped messages, otherwise the
// counterparty's DID.
func conversationIDFor(msg model.ChatMessage, deal *model.Deal, owner model.DID) model.ConversationID {
	if deal != nil {
		return model.DealConversationID(deal.UID)
	}
	if owner == msg.SenderID {
		return model.ConversationID(msg.ReceiverID)
	}
	return model.ConversationID(msg.SenderID)
}

// HistoryOptions bounds and cursors one History call, mirroring
// get_history's page-or-cursor parameters.
type HistoryOptions struct {
	ConversationID   *model.ConversationID
	Page             int
	PageSize         int
	AfterMessageUID  string
	BeforeMessageUID string
	ExcludeFileData  bool
}

// HistoryPage is get_history's response shape: the page of messages
// plus the total count the caller needs to compute total_pages.
type HistoryPage struct {
	Messages []*model.StorageRecord
	Total    int
	Page     int
	PageSize int
}

// History returns a page of ownerDID's view of a conversation, newest
// first, resolving after_message_uid/before_message_uid cursors via the
// owner's own Storage rows and, when ExcludeFileData is set, stripping
// inline attachment payloads down to their download_url the way
// get_history does for list views.
func (l *Ledger) History(ctx context.Context, ownerDID model.DID, opts HistoryOptions) (*HistoryPage, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	var afterID, beforeID int64
	if opts.AfterMessageUID != "" {
		rec, err := store.FindStorageRecordByMessageUUID(ctx, l.store.Pool, ownerDID, opts.ConversationID, opts.AfterMessageUID)
		if err != nil {
			return nil, err
		}
		afterID = rec.ID
	}
	if opts.BeforeMessageUID != "" {
		rec, err := store.FindStorageRecordByMessageUUID(ctx, l.store.Pool, ownerDID, opts.ConversationID, opts.BeforeMessageUID)
		if err != nil {
			return nil, err
		}
		beforeID = rec.ID
	}

	records, err := store.ListConversation(ctx, l.store.Pool, ownerDID, opts.ConversationID, store.ConversationPage{
		Limit:    pageSize,
		Offset:   (page - 1) * pageSize,
		AfterID:  afterID,
		BeforeID: beforeID,
	})
	if err != nil {
		return nil, err
	}
	total, err := store.CountConversation(ctx, l.store.Pool, ownerDID, opts.ConversationID, afterID, beforeID)
	if err != nil {
		return nil, err
	}
	if opts.ExcludeFileData {
		for _, rec := range records {
			stripAttachmentData(&rec.Payload)
		}
	}
	return &HistoryPage{Messages: records, Total: total, Page: page, PageSize: pageSize}, nil
}

// stripAttachmentData clears an attachment's inline payload once it has
// a download_url to fall back on, the same substitution get_history
// applies before returning a list view so pagination doesn't ship the
// full file body for every row.
func stripAttachmentData(msg *model.ChatMessage) {
	for i := range msg.Attachments {
		if msg.Attachments[i].DownloadURL != "" {
			msg.Attachments[i].Data = ""
		}
	}
}

// LastSessions returns one entry per distinct conversation owned by
// ownerDID (most recent message, message count, last activity time),
// the inbox view behind get_last_sessions. afterMessageUID, when set,
// is resolved by owner and UUID alone (in any conversation) to the
// Storage id every session's rows must exceed.
func (l *Ledger) LastSessions(ctx context.Context, ownerDID model.DID, limit int, afterMessageUID string) ([]*store.ConversationSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var afterID int64
	if afterMessageUID != "" {
		rec, err := store.FindStorageRecordByMessageUUIDAnyConversation(ctx, l.store.Pool, ownerDID, afterMessageUID)
		if err != nil {
			return nil, err
		}
		afterID = rec.ID
	}
	return store.ListLastSessions(ctx, l.store.Pool, ownerDID, limit, afterID)
}

// GetAttachment resolves one attachment of a message owned by
// ownerDID, grounded on get_attachment: the message is looked up by
// owner and UUID alone (no conversation scoping), then its
// attachments are scanned linearly for the matching id.
func (l *Ledger) GetAttachment(ctx context.Context, ownerDID model.DID, messageUUID, attachmentID string) (*model.Attachment, error) {
	rec, err := store.FindStorageRecordByMessageUUIDAnyConversation(ctx, l.store.Pool, ownerDID, messageUUID)
	if err != nil {
		return nil, err
	}
	for i := range rec.Payload.Attachments {
		if rec.Payload.Attachments[i].ID == attachmentID {
			return &rec.Payload.Attachments[i], nil
		}
	}
	return nil, store.ErrNotFound
}
