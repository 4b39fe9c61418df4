package walletkeys

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/go-errors/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"
)

// tronAddressPrefix is the 0x41 byte TRON prepends to the Keccak256-derived
// 20-byte address before the base58check encoding step.
const tronAddressPrefix = 0x41

// Signer bundles the private key material derived for an escrow or
// wallet row along with the TRON address it corresponds to.
type Signer struct {
	PrivateKey *btcec.PrivateKey
	Address    string
}

// DeriveFromMnemonic derives the single signing keypair used by an
// escrow's own key or an arbiter/backup wallet, following TRON's
// Ethereum-style address derivation (Keccak256 of the uncompressed
// public key, last 20 bytes, 0x41 prefix, base58check).
func DeriveFromMnemonic(mnemonic string) (*Signer, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("walletkeys: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	priv, pub := btcec.PrivKeyFromBytes(seed[:32])
	address, err := addressFromPubkey(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{PrivateKey: priv, Address: address}, nil
}

// Sign produces a TRON-style 65-byte recoverable signature (r || s || v,
// v in {0,1}) over txIDHex, the hex-encoded SHA256 hash of a
// transaction's raw_data that TRON nodes sign and verify against.
// btcec's compact-signature format packs the recovery id into the
// leading byte as 27+v; Sign strips that header and appends v instead
// to match the layout TRON's multisig verifier expects.
func (s *Signer) Sign(txIDHex string) (string, error) {
	digest, err := hex.DecodeString(txIDHex)
	if err != nil {
		return "", errors.Errorf("walletkeys: invalid tx id hex: %w", err)
	}
	if len(digest) != 32 {
		return "", errors.New("walletkeys: tx id must be a 32-byte hash")
	}
	compact := ecdsa.SignCompact(s.PrivateKey, digest, false)
	header := compact[0]
	recoveryID := header - 27
	sig := append(append([]byte{}, compact[1:]...), recoveryID)
	return hex.EncodeToString(sig), nil
}

func addressFromPubkey(pub *btcec.PublicKey) (string, error) {
	uncompressed := pub.SerializeUncompressed()
	if len(uncompressed) != 65 {
		return "", errors.New("walletkeys: unexpected pubkey length")
	}

	hash := sha3.NewLegacyKeccak256()
	hash.Write(uncompressed[1:])
	digest := hash.Sum(nil)

	raw := append([]byte{tronAddressPrefix}, digest[len(digest)-20:]...)
	checksum := doubleSHA256(raw)
	full := append(raw, checksum[:4]...)
	return base58.Encode(full), nil
}

func doubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}
