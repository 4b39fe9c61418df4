package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DealStatus is the deal's position in the state machine described in
// spec.md §4.5.
type DealStatus string

const (
	StatusWaitDeposit      DealStatus = "wait_deposit"
	StatusProcessing       DealStatus = "processing"
	StatusWaitArbiter      DealStatus = "wait_arbiter"
	StatusAppeal           DealStatus = "appeal"
	StatusReclineAppeal    DealStatus = "recline_appeal"
	StatusResolvingSender  DealStatus = "resolving_sender"
	StatusResolvingReceiver DealStatus = "resolving_receiver"
	StatusSuccess          DealStatus = "success"
	StatusResolvedSender   DealStatus = "resolved_sender"
	StatusResolvedReceiver DealStatus = "resolved_receiver"
)

// IsTerminal reports whether status is one of the "terminal until
// arbiter intervention" states named in spec.md §4.5.
func (s DealStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusResolvedSender, StatusResolvedReceiver:
		return true
	default:
		return false
	}
}

// IsAppealState reports whether status belongs to the appeal branch that
// only the arbiter may move out of (spec.md §4.5 authorization matrix).
func (s DealStatus) IsAppealState() bool {
	switch s {
	case StatusWaitArbiter, StatusAppeal, StatusReclineAppeal:
		return true
	default:
		return false
	}
}

// Deal is the authoritative record of a single sender/receiver/arbiter
// transaction, per spec.md §3.
type Deal struct {
	UID                 DealUID
	SenderDID           DID
	ReceiverDID         DID
	ArbiterDID          DID
	Label               string
	Description         string
	Amount              decimal.Decimal
	NeedReceiverApprove bool
	Status              DealStatus
	EscrowID            int64
	Requisites          json.RawMessage
	Attachments         []AttachmentRef
	PayoutTxn           *PayoutTxn
	DepositTxnHash      string
	PayoutTxnHash       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AttachmentRef points at a Chat Ledger storage record's attachment,
// never at a foreign key row, per spec.md §9.
type AttachmentRef struct {
	MessageUUID  string `json:"message_uuid"`
	AttachmentID string `json:"attachment_id"`
}

// Participants returns the three distinct DIDs of the deal in a fixed
// order (sender, receiver, arbiter).
func (d *Deal) Participants() [3]DID {
	return [3]DID{d.SenderDID, d.ReceiverDID, d.ArbiterDID}
}

// IsParticipant reports whether did names one of the deal's three
// counterparties.
func (d *Deal) IsParticipant(did DID) bool {
	return did == d.SenderDID || did == d.ReceiverDID || did == d.ArbiterDID
}
