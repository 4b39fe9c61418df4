package model

import (
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/go-errors/errors"
	"github.com/google/uuid"
)

// DealUID is the base58 encoding of a random 16-byte UUID, the public
// identifier of a Deal.
type DealUID string

// ErrInvalidDealUID is returned when a string fails to decode to exactly
// 16 bytes of base58-encoded data.
var ErrInvalidDealUID = errors.New("invalid deal uid")

// NewDealUID mints a fresh random deal identifier.
func NewDealUID() DealUID {
	id := uuid.New()
	return DealUID(base58.Encode(id[:]))
}

// ParseDealUID validates that raw decodes to a 16-byte payload.
func ParseDealUID(raw string) (DealUID, error) {
	decoded := base58.Decode(raw)
	if len(decoded) != 16 {
		return "", errors.Errorf("%w: %q", ErrInvalidDealUID, raw)
	}
	return DealUID(raw), nil
}

// ConversationID groups storage records belonging to one owner into a
// single thread, per spec.md §4.1.
type ConversationID string

// DealConversationID returns the conversation id every participant of
// deal uid shares.
func DealConversationID(uid DealUID) ConversationID {
	return ConversationID("did:deal:" + string(uid))
}
