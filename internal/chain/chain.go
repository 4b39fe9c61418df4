// Package chain models the blockchain RPC client as an opaque capability,
// per spec.md §1/§9: the core is never coupled to a concrete client
// library, only to this interface, which is dependency-injected into the
// Provisioner, Escrow Lifecycle Service, Payout Builder and Deal State
// Machine. The Signature Aggregator does not take a Client and makes no
// chain calls.
package chain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ReceiptResult is the on-chain execution outcome of a transaction.
type ReceiptResult string

const (
	ReceiptPending ReceiptResult = "PENDING"
	ReceiptSuccess ReceiptResult = "SUCCESS"
	ReceiptFailed  ReceiptResult = "FAILED"
)

// Account is the on-chain account state relevant to escrow provisioning.
type Account struct {
	Address          string
	Exists           bool
	ActivePermission *Permission
}

// Permission is an installed multisig permission (owner or active) on an
// account.
type Permission struct {
	Threshold int
	Keys      []PermissionKey
}

// PermissionKey is one owner key entry within a Permission.
type PermissionKey struct {
	Address string
	Weight  int
}

// TransactionInfo is the receipt returned for a broadcast transaction.
type TransactionInfo struct {
	Result          ReceiptResult
	BlockNumber     int64
	ResultMessage   string
	ContractResult  string
}

// UnsignedTxRequest describes a transfer or contract call to build.
type UnsignedTxRequest struct {
	FromAddress   string
	ToAddress     string
	Amount        decimal.Decimal
	TokenContract string
	FunctionCall  string
	Parameters    []byte
}

// UnsignedTx is the chain-specific unsigned transaction envelope
// returned by CreateTransaction/TriggerSmartContract.
type UnsignedTx struct {
	TxID       string
	RawDataHex string
	RawData    string
	ContractData string
}

// PermissionUpdateRequest installs an owner permission and a single
// active permission over the given 2-of-3 multisig key set.
type PermissionUpdateRequest struct {
	OwnerAddress string
	Threshold    int
	Keys         []PermissionKey
}

// Client is the opaque blockchain RPC capability consumed by the core.
// Every method is a potential suspension point (spec.md §5) and must
// honor ctx's deadline.
type Client interface {
	// GetAccount fetches the account state (existence, permissions) at
	// address.
	GetAccount(ctx context.Context, address string) (*Account, error)

	// GetBalance returns the native-coin balance of address.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// CreateTransaction builds an unsigned transaction for req, either a
	// native transfer or a token/contract call depending on req's
	// fields.
	CreateTransaction(ctx context.Context, req UnsignedTxRequest) (*UnsignedTx, error)

	// UpdateAccountPermission builds an unsigned AccountPermissionUpdate
	// transaction installing req's owner/active permission.
	UpdateAccountPermission(ctx context.Context, req PermissionUpdateRequest) (*UnsignedTx, error)

	// TriggerSmartContract builds an unsigned contract call, used for
	// the TRC20 token payout path, which escrowsvc issues as a plain
	// transfer(address,uint256) call; no executePayoutAndFees call is
	// built.
	TriggerSmartContract(ctx context.Context, req UnsignedTxRequest) (*UnsignedTx, error)

	// BroadcastTransaction submits a fully-signed transaction payload
	// and returns its on-chain id.
	BroadcastTransaction(ctx context.Context, signedTxRaw []byte) (string, error)

	// GetTransactionInfo returns the receipt for a previously broadcast
	// transaction id.
	GetTransactionInfo(ctx context.Context, txID string) (*TransactionInfo, error)
}

// ResolveAddress looks up the on-chain address for a DID. This is kept
// separate from Client because, unlike the RPC capability, it is served
// by the wallet_users table rather than the chain itself; a thin
// interface lets the Payout Builder depend on it without pulling in the
// whole store package.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, did string) (string, error)
}
