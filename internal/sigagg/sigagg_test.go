package sigagg

import (
	"testing"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/stretchr/testify/require"
)

func samplePayout() *model.PayoutTxn {
	return &model.PayoutTxn{
		RequiredSignatures: 2,
		Participants:       []string{"Tsender", "Treceiver"},
		Arbiter:            "Tarbiter",
		OwnerAddresses:     []string{"Tsender", "Treceiver", "Tarbiter"},
		UnsignedTx:         model.UnsignedTx{RawDataHex: "aa"},
	}
}

func TestAddSignatureRejectsUnknownSigner(t *testing.T) {
	p := samplePayout()
	_, err := AddSignature(p, "Tstranger", "deadbeef", nil)
	require.ErrorIs(t, err, ErrSignerNotAllowed)
}

func TestAddSignatureIsIdempotent(t *testing.T) {
	p := samplePayout()
	p, err := AddSignature(p, "Tsender", "sig1", nil)
	require.NoError(t, err)
	require.Len(t, p.Signatures, 1)

	p, err = AddSignature(p, "Tsender", "sig1-resubmitted", nil)
	require.NoError(t, err)
	require.Len(t, p.Signatures, 1)
	require.Equal(t, "sig1", p.Signatures[0].SignatureHex)
}

func TestAddSignatureCaseInsensitiveMatch(t *testing.T) {
	p := samplePayout()
	_, err := AddSignature(p, "TSENDER", "sig1", nil)
	require.NoError(t, err)
}

func TestAddSignatureReplacementLockedOnceSigned(t *testing.T) {
	p := samplePayout()
	p, err := AddSignature(p, "Tsender", "sig1", nil)
	require.NoError(t, err)

	_, err = AddSignature(p, "Treceiver", "sig2", &model.UnsignedTx{RawDataHex: "bb"})
	require.ErrorIs(t, err, ErrTxLocked)
}

func TestAddSignatureReplacementAllowedBeforeAnySignature(t *testing.T) {
	p := samplePayout()
	p, err := AddSignature(p, "Tsender", "sig1", &model.UnsignedTx{RawDataHex: "bb"})
	require.NoError(t, err)
	require.Equal(t, "bb", p.UnsignedTx.RawDataHex)
}

func TestAssembleNotReadyBelowQuorum(t *testing.T) {
	p := samplePayout()
	p, err := AddSignature(p, "Tsender", "sig1", nil)
	require.NoError(t, err)

	_, _, ok := Assemble(p)
	require.False(t, ok)
}

func TestAssembleOrdersSignaturesByOwnerList(t *testing.T) {
	p := samplePayout()
	p, err := AddSignature(p, "Treceiver", "sig-receiver", nil)
	require.NoError(t, err)
	p, err = AddSignature(p, "Tarbiter", "sig-arbiter", nil)
	require.NoError(t, err)

	unsigned, ordered, ok := Assemble(p)
	require.True(t, ok)
	require.Equal(t, p.UnsignedTx.RawDataHex, unsigned.RawDataHex)
	require.Equal(t, []string{"sig-receiver", "sig-arbiter"}, ordered)
}

func TestAssembleStripsHexPrefix(t *testing.T) {
	p := samplePayout()
	p, err := AddSignature(p, "Tsender", "0xsig1", nil)
	require.NoError(t, err)
	p, err = AddSignature(p, "Treceiver", "sig2", nil)
	require.NoError(t, err)

	_, ordered, ok := Assemble(p)
	require.True(t, ok)
	require.Equal(t, []string{"sig1", "sig2"}, ordered)
}
