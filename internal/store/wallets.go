package store

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// WalletRole distinguishes the two roles a managed wallet can hold in
// the arbiter rotation scheme (spec.md's supplemented arbiter wallet
// rotation feature, see SPEC_FULL.md).
type WalletRole string

const (
	WalletRoleActive WalletRole = "active"
	WalletRoleBackup WalletRole = "backup"
)

// Wallet is a managed signing identity holding one of the two arbiter
// rotation slots; escrows keep their own keys in escrows.encrypted_mnemonic.
type Wallet struct {
	ID                int64
	Address           string
	EncryptedMnemonic string
	Role              WalletRole
}

// ResolveWalletUserDID looks up the DID a wallet_users row maps an
// address to. No other package in this module calls it.
func ResolveWalletUserDID(ctx context.Context, q Querier, address string) (string, error) {
	var did string
	err := q.QueryRow(ctx, `SELECT did FROM wallet_users WHERE address = $1`, address).Scan(&did)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	return did, err
}

// ResolveWalletAddress looks up the on-chain address a DID currently
// controls, the inverse of ResolveWalletUserDID, used by the Payout
// Transaction Builder to turn a deal participant's DID into the
// to_address of a payout.
func ResolveWalletAddress(ctx context.Context, q Querier, did string) (string, error) {
	var address string
	err := q.QueryRow(ctx, `SELECT address FROM wallet_users WHERE did = $1`, did).Scan(&address)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	return address, err
}

// UpsertWalletUser records the address a DID currently controls,
// overwriting any prior mapping (an address rotates to a new DID owner
// only by explicit reassignment, never silently).
func UpsertWalletUser(ctx context.Context, q Querier, did, address string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO wallet_users (did, address) VALUES ($1, $2)
		ON CONFLICT (did) DO UPDATE SET address = EXCLUDED.address
	`, did, address)
	return err
}

// GetArbiterWallet returns the wallet row currently holding role (active
// or backup).
func GetArbiterWallet(ctx context.Context, q Querier, role WalletRole) (*Wallet, error) {
	var w Wallet
	var roleStr string
	err := q.QueryRow(ctx, `
		SELECT id, address, encrypted_mnemonic, role FROM wallets WHERE role = $1
	`, string(role)).Scan(&w.ID, &w.Address, &w.EncryptedMnemonic, &roleStr)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Role = WalletRole(roleStr)
	return &w, nil
}

// SwapArbiterWallets promotes the backup wallet to active and demotes
// the previously active one to backup in a single two-row update, the
// rotation operation the supplemented arbiter wallet feature exposes
// through escrowctl. Must run inside Store.WithTx so the swap is
// atomic: no row can be read as "active" twice.
func SwapArbiterWallets(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, `
		UPDATE wallets SET role = CASE role
			WHEN 'active' THEN 'backup'
			WHEN 'backup' THEN 'active'
		END
		WHERE role IN ('active', 'backup')
	`)
	return err
}

// InsertArbiterWalletAudit records a rotation event, the supplemented
// audit trail from SPEC_FULL.md.
func InsertArbiterWalletAudit(ctx context.Context, q Querier, fromAddress, toAddress, reason string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO arbiter_wallet_audit (from_address, to_address, reason) VALUES ($1, $2, $3)
	`, fromAddress, toAddress, reason)
	return err
}
