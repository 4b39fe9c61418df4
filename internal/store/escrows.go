package store

import (
	"context"
	"encoding/json"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/jackc/pgx/v4"
)

// InsertEscrow persists a newly provisioned-pending Escrow row and
// assigns its ID. The unique index on (blockchain, network,
// escrow_type, owner_did, participant_pair_low, participant_pair_high,
// arbiter_address) scoped to non-inactive rows is what gives
// EnsureExists its deduplication guarantee; a racing insert surfaces as
// ErrAlreadyExists via classifyEscrowInsertError, which reports a
// collision on escrows_address_idx as ErrArbiterBusy instead.
func InsertEscrow(ctx context.Context, q Querier, e *model.Escrow) (int64, error) {
	multisigConfig, err := json.Marshal(e.MultisigConfig)
	if err != nil {
		return 0, err
	}
	addressRoles, err := json.Marshal(e.AddressRoles)
	if err != nil {
		return 0, err
	}
	low, high := e.ParticipantPairKey()

	var id int64
	err = q.QueryRow(ctx, `
		INSERT INTO escrows (
			blockchain, network, escrow_type, escrow_address, owner_did,
			participant1_address, participant2_address, arbiter_address,
			multisig_config, address_roles, encrypted_mnemonic, status,
			participant_pair_low, participant_pair_high
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`,
		e.Blockchain, e.Network, string(e.EscrowType), e.EscrowAddress, string(e.OwnerDID),
		e.Participant1Address, e.Participant2Address, e.ArbiterAddress,
		multisigConfig, addressRoles, e.EncryptedMnemonic, string(e.Status),
		low, high,
	).Scan(&id)
	if err != nil {
		return 0, classifyEscrowInsertError(err)
	}
	return id, nil
}

// FindEscrowByParticipants looks up an existing, non-inactive escrow
// for the caller's (blockchain, network, escrow_type, owner_did),
// unordered participant address pair, and arbiter_address, the dedup
// lookup behind the Escrow Lifecycle Service's ensure_exists operation
// (spec.md §4.2). Two escrows that differ only in their arbiter must
// never collide here: a sender/receiver pair can be escrowed by more
// than one arbiter at once.
func FindEscrowByParticipants(ctx context.Context, q Querier, blockchain, network string, escrowType model.EscrowType, ownerDID model.DID, addrA, addrB, arbiterAddress string) (*model.Escrow, error) {
	low, high := addrA, addrB
	if low > high {
		low, high = high, low
	}
	row := q.QueryRow(ctx, `
		SELECT id, blockchain, network, escrow_type, escrow_address, owner_did,
			participant1_address, participant2_address, arbiter_address,
			multisig_config, address_roles, encrypted_mnemonic, status
		FROM escrows
		WHERE blockchain = $1 AND network = $2 AND escrow_type = $3 AND owner_did = $4
			AND participant_pair_low = $5 AND participant_pair_high = $6
			AND arbiter_address = $7
			AND status <> $8
	`, blockchain, network, string(escrowType), string(ownerDID), low, high, arbiterAddress, string(model.EscrowInactive))
	return scanEscrow(row)
}

// GetEscrowByAddress loads the non-inactive escrow currently seeded at
// escrowAddress, used to resolve an escrows_address_idx collision (two
// ensure_exists calls racing for the same arbiter) into the row that is
// actually holding the slot.
func GetEscrowByAddress(ctx context.Context, q Querier, escrowAddress string) (*model.Escrow, error) {
	row := q.QueryRow(ctx, `
		SELECT id, blockchain, network, escrow_type, escrow_address, owner_did,
			participant1_address, participant2_address, arbiter_address,
			multisig_config, address_roles, encrypted_mnemonic, status
		FROM escrows
		WHERE escrow_address = $1 AND status <> $2
	`, escrowAddress, string(model.EscrowInactive))
	return scanEscrow(row)
}

// GetEscrow loads a single escrow row by ID.
func GetEscrow(ctx context.Context, q Querier, id int64) (*model.Escrow, error) {
	row := q.QueryRow(ctx, `
		SELECT id, blockchain, network, escrow_type, escrow_address, owner_did,
			participant1_address, participant2_address, arbiter_address,
			multisig_config, address_roles, encrypted_mnemonic, status
		FROM escrows WHERE id = $1
	`, id)
	return scanEscrow(row)
}

func scanEscrow(row pgx.Row) (*model.Escrow, error) {
	var (
		e              model.Escrow
		escrowType     string
		status         string
		ownerDID       string
		multisigConfig []byte
		addressRoles   []byte
	)
	err := row.Scan(
		&e.ID, &e.Blockchain, &e.Network, &escrowType, &e.EscrowAddress, &ownerDID,
		&e.Participant1Address, &e.Participant2Address, &e.ArbiterAddress,
		&multisigConfig, &addressRoles, &e.EncryptedMnemonic, &status,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.EscrowType = model.EscrowType(escrowType)
	e.Status = model.EscrowStatus(status)
	e.OwnerDID = model.DID(ownerDID)
	if err := json.Unmarshal(multisigConfig, &e.MultisigConfig); err != nil {
		return nil, err
	}
	if len(addressRoles) > 0 {
		if err := json.Unmarshal(addressRoles, &e.AddressRoles); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// ClaimPendingEscrows locks up to limit escrows in EscrowPending status
// for this worker using SELECT ... FOR UPDATE SKIP LOCKED, the idiom
// that gives the Escrow Provisioner exactly-once processing across
// competing daemon instances without a distributed lock service
// (spec.md §4.3, §9). Must be called within a transaction opened by
// Store.WithTx; the row locks are held until that transaction commits
// or rolls back.
func ClaimPendingEscrows(ctx context.Context, q Querier, limit int) ([]*model.Escrow, error) {
	rows, err := q.Query(ctx, `
		SELECT id, blockchain, network, escrow_type, escrow_address, owner_did,
			participant1_address, participant2_address, arbiter_address,
			multisig_config, address_roles, encrypted_mnemonic, status
		FROM escrows
		WHERE status = $1
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, string(model.EscrowPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEscrowStatus transitions an escrow's provisioning status
// without touching its address/mnemonic fields.
func UpdateEscrowStatus(ctx context.Context, q Querier, id int64, status model.EscrowStatus) error {
	_, err := q.Exec(ctx, `UPDATE escrows SET status = $1 WHERE id = $2`, string(status), id)
	return err
}

// UpdateEscrowArbiter rewrites the arbiter address, address-role map, and
// multisig owner list of an existing escrow, the persistence half of
// verify_and_update_escrow's case 4 (the on-chain permission now names a
// different third key than the one on file). escrow_address itself is
// never touched here: per original_source/services/tron/escrow.py it is
// seeded once at creation and is not reassigned by arbiter rotation.
func UpdateEscrowArbiter(ctx context.Context, q Querier, id int64, arbiterAddress string, addressRoles map[string]model.AddressRole, multisigConfig model.MultisigConfig) error {
	rolesJSON, err := json.Marshal(addressRoles)
	if err != nil {
		return err
	}
	configJSON, err := json.Marshal(multisigConfig)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE escrows SET arbiter_address = $1, address_roles = $2, multisig_config = $3
		WHERE id = $4
	`, arbiterAddress, rolesJSON, configJSON, id)
	return err
}
