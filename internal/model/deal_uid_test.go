package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDealUIDRoundTripsThroughParse(t *testing.T) {
	uid := NewDealUID()
	parsed, err := ParseDealUID(string(uid))
	require.NoError(t, err)
	require.Equal(t, uid, parsed)
}

func TestParseDealUIDRejectsWrongLength(t *testing.T) {
	_, err := ParseDealUID("short")
	require.ErrorIs(t, err, ErrInvalidDealUID)
}

func TestNewDealUIDIsUnique(t *testing.T) {
	a := NewDealUID()
	b := NewDealUID()
	require.NotEqual(t, a, b)
}

func TestDealConversationIDIsDeterministic(t *testing.T) {
	uid := NewDealUID()
	require.Equal(t, DealConversationID(uid), DealConversationID(uid))
	require.Equal(t, ConversationID("did:deal:"+string(uid)), DealConversationID(uid))
}
