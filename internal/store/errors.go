package store

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

// Sentinel errors returned by the query helpers in this package. Callers
// (escrowsvc, dealfsm, chatledger) match against these with errors.Is
// rather than inspecting pgconn.PgError directly.
var (
	ErrNotFound      = errors.New("store: row not found")
	ErrAlreadyExists = errors.New("store: row already exists")

	// ErrArbiterBusy is returned by InsertEscrow when the arbiter address
	// already seeds escrow_address for a different non-inactive escrow
	// (escrows_address_idx), distinct from a participant-pair dedup hit.
	ErrArbiterBusy = errors.New("store: arbiter address already backs a pending or active escrow")
)

// classifyWriteError maps a Postgres error into one of the sentinels
// above when it recognizes the SQLSTATE, and returns err unchanged
// otherwise. InsertDeal runs its result through this directly and
// InsertEscrow through classifyEscrowInsertError; InsertStorageRecord
// and InsertArbiterWalletAudit return driver errors unchanged.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

// classifyEscrowInsertError is InsertEscrow's own write-error classifier:
// it additionally distinguishes a unique violation on escrows_address_idx
// (this arbiter already backs a different non-inactive escrow) from one
// on escrows_participant_pair_idx (an ordinary dedup hit).
func classifyEscrowInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.ConstraintName == "escrows_address_idx" {
			return ErrArbiterBusy
		}
		return ErrAlreadyExists
	}
	return classifyWriteError(err)
}
