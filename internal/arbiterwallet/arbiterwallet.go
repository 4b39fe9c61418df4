// Package arbiterwallet manages the active/backup arbiter signing
// wallet rotation, grounded on original_source/services/arbiter/service.py
// (create_arbiter_address's active-to-backup demotion when a new
// arbiter key is installed). spec.md's Provisioner depends on exactly
// one active arbiter wallet existing at all times (internal/provisioner
// reads it through store.GetArbiterWallet); this package is the only
// writer of that invariant.
package arbiterwallet

import (
	"context"

	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/RuSwift/garantex-sub000/internal/walletkeys"
	"github.com/go-errors/errors"
)

// ErrNoBackupConfigured is returned by Rotate when no backup wallet
// exists to promote.
var ErrNoBackupConfigured = errors.New("arbiterwallet: no backup wallet configured to rotate into")

// Status reports the current active/backup wallet addresses, the
// read-side counterpart of Rotate.
type Status struct {
	ActiveAddress string
	BackupAddress string
}

// Service manages the two-wallet arbiter rotation scheme.
type Service struct {
	store  *store.Store
	secret string
}

// New constructs a Service. secret decrypts/encrypts wallet mnemonics
// the same way internal/walletkeys does elsewhere.
func New(db *store.Store, secret string) *Service {
	return &Service{store: db, secret: secret}
}

// Status returns the current active and backup wallet addresses.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	active, err := store.GetArbiterWallet(ctx, s.store.Pool, store.WalletRoleActive)
	if err != nil {
		return nil, err
	}
	backup, err := store.GetArbiterWallet(ctx, s.store.Pool, store.WalletRoleBackup)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	status := &Status{ActiveAddress: active.Address}
	if backup != nil {
		status.BackupAddress = backup.Address
	}
	return status, nil
}

// Rotate promotes the backup wallet to active and demotes the
// previously active one to backup, recording an audit row. reason is
// an operator-supplied free-text note (compromise suspected, scheduled
// rotation, key escrow drill) persisted alongside the swap.
//
// This mirrors create_arbiter_address's behavior of demoting whichever
// wallet currently holds the active role the moment a new one takes
// over, except the rotation target here is an existing backup wallet
// rather than a freshly imported mnemonic.
func (s *Service) Rotate(ctx context.Context, reason string) (*Status, error) {
	var result *Status
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		active, err := store.GetArbiterWallet(ctx, q, store.WalletRoleActive)
		if err != nil {
			return err
		}
		backup, err := store.GetArbiterWallet(ctx, q, store.WalletRoleBackup)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoBackupConfigured
			}
			return err
		}

		if err := store.SwapArbiterWallets(ctx, q); err != nil {
			return err
		}
		if err := store.InsertArbiterWalletAudit(ctx, q, active.Address, backup.Address, reason); err != nil {
			return err
		}

		log.Infof("Arbiter wallet rotated: %s -> %s, reason=%q", active.Address, backup.Address, reason)
		result = &Status{ActiveAddress: backup.Address, BackupAddress: active.Address}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyMnemonic decrypts and validates the wallet currently holding
// role, returning the address it derives to. Used by escrowctl's
// "walletverify" command to confirm the stored ciphertext still
// decrypts to the address on record, without ever printing the
// mnemonic itself.
func (s *Service) VerifyMnemonic(ctx context.Context, role store.WalletRole) (string, error) {
	wallet, err := store.GetArbiterWallet(ctx, s.store.Pool, role)
	if err != nil {
		return "", err
	}
	mnemonic, err := walletkeys.Decrypt(s.secret, wallet.EncryptedMnemonic)
	if err != nil {
		return "", err
	}
	signer, err := walletkeys.DeriveFromMnemonic(mnemonic)
	if err != nil {
		return "", err
	}
	if signer.Address != wallet.Address {
		return "", errors.Errorf("arbiterwallet: stored address %s does not match derived address %s", wallet.Address, signer.Address)
	}
	return signer.Address, nil
}
