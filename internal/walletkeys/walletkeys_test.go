package walletkeys

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)

	encoded, err := Encrypt("correct-secret", mnemonic)
	require.NoError(t, err)
	require.NotEqual(t, mnemonic, encoded)

	decoded, err := Decrypt("correct-secret", encoded)
	require.NoError(t, err)
	require.Equal(t, mnemonic, decoded)
}

func TestDecryptFailsWithWrongSecret(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)

	encoded, err := Encrypt("correct-secret", mnemonic)
	require.NoError(t, err)

	_, err = Decrypt("wrong-secret", encoded)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := Decrypt("any-secret", "not-base64-json!!")
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNewMnemonicIsValidBIP39(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)

	signer, err := DeriveFromMnemonic(mnemonic)
	require.NoError(t, err)
	require.NotEmpty(t, signer.Address)
	// TRON addresses are base58check-encoded and always start with 'T'.
	require.True(t, signer.Address[0] == 'T')
}

func TestDeriveFromMnemonicRejectsInvalidMnemonic(t *testing.T) {
	_, err := DeriveFromMnemonic("not a real mnemonic at all")
	require.Error(t, err)
}

func TestDeriveFromMnemonicIsDeterministic(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)

	a, err := DeriveFromMnemonic(mnemonic)
	require.NoError(t, err)
	b, err := DeriveFromMnemonic(mnemonic)
	require.NoError(t, err)

	require.Equal(t, a.Address, b.Address)
}

func TestSignProducesRecoverableCompactSignature(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)
	signer, err := DeriveFromMnemonic(mnemonic)
	require.NoError(t, err)

	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}
	txID := hex.EncodeToString(digest)

	sigHex, err := signer.Sign(txID)
	require.NoError(t, err)

	sigBytes, err := hex.DecodeString(sigHex)
	require.NoError(t, err)
	require.Len(t, sigBytes, 65)
	require.LessOrEqual(t, sigBytes[64], byte(1))
}

func TestSignRejectsNonHashLengthInput(t *testing.T) {
	mnemonic, err := NewMnemonic()
	require.NoError(t, err)
	signer, err := DeriveFromMnemonic(mnemonic)
	require.NoError(t, err)

	_, err = signer.Sign("abcd")
	require.Error(t, err)
}
