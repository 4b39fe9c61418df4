package provisioner

import (
	"testing"

	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/stretchr/testify/require"
)

func sampleEscrow() *model.Escrow {
	return &model.Escrow{
		ID:                  1,
		EscrowAddress:       "Tescrow",
		Participant1Address: "Tsender",
		Participant2Address: "Treceiver",
		ArbiterAddress:      "Tarbiter",
	}
}

func TestAccountHasMultisigMissingAccount(t *testing.T) {
	require.False(t, accountHasMultisig(nil, sampleEscrow()))
}

func TestAccountHasMultisigAccountDoesNotExist(t *testing.T) {
	account := &chain.Account{Exists: false}
	require.False(t, accountHasMultisig(account, sampleEscrow()))
}

func TestAccountHasMultisigNoPermission(t *testing.T) {
	account := &chain.Account{Exists: true, ActivePermission: nil}
	require.False(t, accountHasMultisig(account, sampleEscrow()))
}

func TestAccountHasMultisigWrongThreshold(t *testing.T) {
	account := &chain.Account{
		Exists: true,
		ActivePermission: &chain.Permission{
			Threshold: 1,
			Keys: []chain.PermissionKey{
				{Address: "Tsender"}, {Address: "Treceiver"}, {Address: "Tarbiter"},
			},
		},
	}
	require.False(t, accountHasMultisig(account, sampleEscrow()))
}

func TestAccountHasMultisigMissingParticipant(t *testing.T) {
	account := &chain.Account{
		Exists: true,
		ActivePermission: &chain.Permission{
			Threshold: requiredThreshold,
			Keys: []chain.PermissionKey{
				{Address: "Tsender"}, {Address: "Tarbiter"}, {Address: "Tsomeoneelse"},
			},
		},
	}
	require.False(t, accountHasMultisig(account, sampleEscrow()))
}

func TestAccountHasMultisigWithArbiterKey(t *testing.T) {
	account := &chain.Account{
		Exists: true,
		ActivePermission: &chain.Permission{
			Threshold: requiredThreshold,
			Keys: []chain.PermissionKey{
				{Address: "Tsender"}, {Address: "Treceiver"}, {Address: "Tarbiter"},
			},
		},
	}
	require.True(t, accountHasMultisig(account, sampleEscrow()))
}

func TestAccountHasMultisigWithEscrowOwnAddressAsThirdKey(t *testing.T) {
	escrow := sampleEscrow()
	escrow.ArbiterAddress = ""
	account := &chain.Account{
		Exists: true,
		ActivePermission: &chain.Permission{
			Threshold: requiredThreshold,
			Keys: []chain.PermissionKey{
				{Address: "Tsender"}, {Address: "Treceiver"}, {Address: "Tescrow"},
			},
		},
	}
	require.True(t, accountHasMultisig(account, escrow))
}
