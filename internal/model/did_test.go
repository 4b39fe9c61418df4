package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDIDNormalizesAddressCase(t *testing.T) {
	did, err := NewDID("did:tron:TAbCdEf123")
	require.NoError(t, err)
	require.Equal(t, DID("did:tron:tabcdef123"), did)
	require.Equal(t, MethodTron, did.Method())
	require.Equal(t, "tabcdef123", did.Address())
}

func TestNewDIDRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"not-a-did",
		"did:tron",
		"did::address",
		"did:tron:",
		"urn:tron:address",
	}
	for _, c := range cases {
		_, err := NewDID(c)
		require.ErrorIs(t, err, ErrInvalidDID, "input %q should be rejected", c)
	}
}

func TestDealDIDRoundTrips(t *testing.T) {
	uid := NewDealUID()
	did := DealDID(uid)
	require.Equal(t, MethodDeal, did.Method())
	require.Equal(t, string(uid), did.Address())
}
