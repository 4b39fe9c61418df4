package model

import "time"

// MessageType is the payload discriminator for a ChatMessage, per
// spec.md §3.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageFile    MessageType = "file"
	MessageAudio   MessageType = "audio"
	MessageVideo   MessageType = "video"
	MessageMixed   MessageType = "mixed"
	MessageReply   MessageType = "reply"
	MessageDeal    MessageType = "deal"
	MessageService MessageType = "service"
)

// MessageStatus is the delivery state of a ChatMessage.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// AttachmentType restricts what kind of attachment a file/audio/video
// message may carry.
type AttachmentType string

const (
	AttachmentFile  AttachmentType = "file"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentImage AttachmentType = "image"
)

// maxAttachmentBytes is the per-attachment size ceiling from spec.md §3.
const maxAttachmentBytes = 50 * 1024 * 1024

// Attachment is one file/audio/video/image payload carried by a
// ChatMessage.
type Attachment struct {
	ID          string `json:"id"`
	Type        AttachmentType `json:"type"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
	Data        string `json:"data,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// MessageSignature is an optional cryptographic proof binding a
// ChatMessage to its sender's on-chain key.
type MessageSignature struct {
	SignatureHex string    `json:"signature_hex"`
	SignerAddress string   `json:"signer_address"`
	SignedAt     time.Time `json:"signed_at"`
	MessageHash  string    `json:"message_hash,omitempty"`
}

// ChatMessage is the payload schema stored (once per recipient) by the
// Chat Ledger, per spec.md §3.
type ChatMessage struct {
	UUID               string            `json:"uuid"`
	MessageType        MessageType       `json:"message_type"`
	SenderID           DID               `json:"sender_id"`
	ReceiverID         DID               `json:"receiver_id"`
	ConversationID     ConversationID    `json:"conversation_id"`
	DealUID            DealUID           `json:"deal_uid,omitempty"`
	DealLabel          string            `json:"deal_label,omitempty"`
	ReplyToMessageUUID string            `json:"reply_to_message_uuid,omitempty"`
	Text               string            `json:"text,omitempty"`
	TxnHash            string            `json:"txn_hash,omitempty"`
	Attachments        []Attachment      `json:"attachments,omitempty"`
	Signature          *MessageSignature `json:"signature,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	Status             MessageStatus     `json:"status"`
	EditedAt           *time.Time        `json:"edited_at,omitempty"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
}

// StorageRecord is one per-recipient fan-out row written by the Chat
// Ledger, per spec.md §3.
type StorageRecord struct {
	ID             int64
	Space          string
	OwnerDID       DID
	ConversationID ConversationID
	DealUID        DealUID
	Payload        ChatMessage
	CreatedAt      time.Time
}

// EscrowTxnType discriminates journal entries written by the
// Provisioner, per spec.md §4.3.
type EscrowTxnType string

const (
	EscrowTxnEvent EscrowTxnType = "event"
	EscrowTxnTxn   EscrowTxnType = "txn"
)

// EscrowTxn is one entry of the per-escrow journal the Provisioner
// writes for every side effect (successful or not).
type EscrowTxn struct {
	ID        int64
	EscrowID  int64
	Type      EscrowTxnType
	Comment   string
	Txn       EscrowTxnPayload
	Counter   int
	CreatedAt time.Time
}

// EscrowTxnPayload is the JSONB body of an EscrowTxn row.
type EscrowTxnPayload struct {
	TxID         string `json:"tx_id,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Type         string `json:"type,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
