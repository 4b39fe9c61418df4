// Package escrowsvc is the Escrow Lifecycle Service: it resolves or
// creates the 2-of-3 multisig escrow for a participant pair, verifies a
// resolved escrow's on-chain permission before handing it back, and
// builds unsigned payout transactions against it. Grounded on
// original_source/services/escrow/service.py (EnsureExists's dedup
// query) and original_source/services/tron/escrow.py (initialize_escrow,
// _check_existing_escrow's pending-wait policy, _verify_and_update_escrow's
// chain-verification table, and CreatePaymentTransaction).
package escrowsvc

import (
	"context"
	"time"

	"github.com/RuSwift/garantex-sub000/internal/chain"
	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/RuSwift/garantex-sub000/internal/store"
	"github.com/RuSwift/garantex-sub000/internal/walletkeys"
	"github.com/go-errors/errors"
	"github.com/shopspring/decimal"
)

// requiredSignatures is the fixed 2-of-3 threshold every multisig
// escrow is provisioned with, per spec.md §3's GLOSSARY.
const requiredSignatures = 2

// pendingWaitInterval and pendingWaitTimeout bound
// _check_existing_escrow's poll loop: a pending escrow found by
// ensure_exists is re-read every pendingWaitInterval until it leaves
// pending or pendingWaitTimeout elapses, at which point it is marked
// inactive and the caller proceeds as if nothing had been found.
const (
	pendingWaitInterval = 2 * time.Second
	pendingWaitTimeout  = 30 * time.Second
)

// createRetryLimit bounds EnsureExists's retry after losing an
// escrows_address_idx or escrows_participant_pair_idx race to a
// since-expired pending escrow; it is not
// a real contention budget, just a backstop against an infinite loop if
// the slot never frees.
const createRetryLimit = 2

// ErrNotActivated is returned when a payout transaction is requested
// for an escrow whose on-chain account has not yet been provisioned
// (no active_permission set).
var ErrNotActivated = errors.New("escrowsvc: escrow account not activated on chain")

// ErrPermissionsMismatch mirrors EscrowError(PERMISSIONS_MISMATCH, ...):
// the escrow account's active on-chain permission exists and has the
// right shape but is missing one of the two participant addresses this
// escrow was provisioned for.
var ErrPermissionsMismatch = errors.New("escrowsvc: on-chain permission does not include both participants")

// ErrArbiterBusy is escrowsvc's wrapper around store.ErrArbiterBusy for
// the case where waiting out the colliding escrow did not free the slot
// (it is active, not merely pending).
var ErrArbiterBusy = errors.New("escrowsvc: arbiter address already backs a different active escrow")

// Service resolves and provisions multisig escrows for a single
// blockchain/network pair.
type Service struct {
	store       *store.Store
	chainClient chain.Client
	secret      string
	blockchain  string
	network     string
}

// New constructs a Service. secret is the process-wide key used to
// encrypt freshly generated escrow mnemonics at rest.
func New(db *store.Store, chainClient chain.Client, secret, blockchain, network string) *Service {
	return &Service{store: db, chainClient: chainClient, secret: secret, blockchain: blockchain, network: network}
}

// EnsureExists finds the escrow already covering (senderAddress,
// receiverAddress, arbiterAddress) or provisions a new pending one,
// grounded on EscrowService.initialize_escrow: check_existing_escrow's
// dedup-and-wait lookup, then either verify_and_update_escrow against
// the chain or create_new_escrow.
func (s *Service) EnsureExists(ctx context.Context, ownerDID model.DID, senderAddress, receiverAddress, arbiterAddress string) (*model.Escrow, error) {
	existing, err := s.checkExisting(ctx, ownerDID, senderAddress, receiverAddress, arbiterAddress)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.VerifyAndUpdate(ctx, existing)
	}
	return s.createPending(ctx, ownerDID, senderAddress, receiverAddress, arbiterAddress, 0)
}

// checkExisting runs the dedup lookup and, if it finds a pending
// escrow, applies the pending-wait policy before returning. A nil,nil
// result means no usable escrow exists and the caller should create one.
func (s *Service) checkExisting(ctx context.Context, ownerDID model.DID, senderAddress, receiverAddress, arbiterAddress string) (*model.Escrow, error) {
	escrow, err := store.FindEscrowByParticipants(ctx, s.store.Pool, s.blockchain, s.network, model.EscrowTypeMultisig, ownerDID, senderAddress, receiverAddress, arbiterAddress)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.waitForPending(ctx, escrow)
}

// waitForPending polls a pending escrow every pendingWaitInterval until
// it leaves pending status or pendingWaitTimeout elapses, mirroring
// _check_existing_escrow's asyncio.sleep(2)/session.refresh loop. On
// timeout the escrow is marked inactive and (nil, nil) is returned, so
// the caller treats the slot as free.
func (s *Service) waitForPending(ctx context.Context, escrow *model.Escrow) (*model.Escrow, error) {
	if escrow.Status != model.EscrowPending {
		return escrow, nil
	}

	deadline := time.Now().Add(pendingWaitTimeout)
	ticker := time.NewTicker(pendingWaitInterval)
	defer ticker.Stop()

	for escrow.Status == model.EscrowPending {
		if time.Now().After(deadline) {
			if err := store.UpdateEscrowStatus(ctx, s.store.Pool, escrow.ID, model.EscrowInactive); err != nil {
				return nil, err
			}
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		refreshed, err := store.GetEscrow(ctx, s.store.Pool, escrow.ID)
		if err != nil {
			return nil, err
		}
		escrow = refreshed
	}
	return escrow, nil
}

// createPending provisions a brand-new pending escrow, grounded on
// _create_new_escrow: escrow_address is permanently seeded to
// arbiterAddress (the original system never reassigns it afterward).
// attempt bounds the retry that follows losing either unique-index race
// to an escrow that has since gone stale.
func (s *Service) createPending(ctx context.Context, ownerDID model.DID, senderAddress, receiverAddress, arbiterAddress string, attempt int) (*model.Escrow, error) {
	mnemonic, err := walletkeys.NewMnemonic()
	if err != nil {
		return nil, err
	}
	encrypted, err := walletkeys.Encrypt(s.secret, mnemonic)
	if err != nil {
		return nil, err
	}

	escrow := &model.Escrow{
		Blockchain:          s.blockchain,
		Network:             s.network,
		EscrowType:          model.EscrowTypeMultisig,
		EscrowAddress:       arbiterAddress,
		OwnerDID:            ownerDID,
		Participant1Address: senderAddress,
		Participant2Address: receiverAddress,
		ArbiterAddress:      arbiterAddress,
		MultisigConfig: model.MultisigConfig{
			RequiredSignatures: requiredSignatures,
			OwnerAddresses:     []string{senderAddress, receiverAddress, arbiterAddress},
		},
		AddressRoles: map[string]model.AddressRole{
			senderAddress:   model.RoleParticipant,
			receiverAddress: model.RoleParticipant,
			arbiterAddress:  model.RoleArbiter,
		},
		EncryptedMnemonic: encrypted,
		Status:            model.EscrowPending,
	}

	var result *model.Escrow
	err = s.store.WithTx(ctx, func(ctx context.Context, q store.Querier) error {
		id, err := store.InsertEscrow(ctx, q, escrow)
		if err != nil {
			return err
		}
		escrow.ID = id
		result = escrow
		return nil
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, store.ErrAlreadyExists) {
		refetched, ferr := store.FindEscrowByParticipants(ctx, s.store.Pool, s.blockchain, s.network, model.EscrowTypeMultisig, ownerDID, senderAddress, receiverAddress, arbiterAddress)
		if ferr != nil {
			return nil, ferr
		}
		found, werr := s.waitForPending(ctx, refetched)
		if werr != nil || found != nil {
			return found, werr
		}
		// The winner stayed pending and has been marked inactive: the
		// slot is free again.
		if attempt >= createRetryLimit {
			return nil, err
		}
		return s.createPending(ctx, ownerDID, senderAddress, receiverAddress, arbiterAddress, attempt+1)
	}

	if errors.Is(err, store.ErrArbiterBusy) {
		if attempt >= createRetryLimit {
			return nil, errors.Errorf("%w: %s", ErrArbiterBusy, arbiterAddress)
		}
		blocking, gerr := store.GetEscrowByAddress(ctx, s.store.Pool, arbiterAddress)
		if gerr != nil {
			return nil, gerr
		}
		freed, werr := s.waitForPending(ctx, blocking)
		if werr != nil {
			return nil, werr
		}
		if freed != nil {
			// The colliding escrow is still occupying the address and is
			// not pending: it is genuinely active for a different owner
			// or participant pair.
			return nil, errors.Errorf("%w: %s", ErrArbiterBusy, arbiterAddress)
		}
		return s.createPending(ctx, ownerDID, senderAddress, receiverAddress, arbiterAddress, attempt+1)
	}

	return nil, err
}

// VerifyAndUpdate reconciles an existing escrow against its on-chain
// account, grounded on _verify_and_update_escrow's six-case table:
//  1. account does not exist yet on chain: leave pending, no error.
//  2. account exists but has no active permission: leave pending.
//  3. active permission present but not a 2-of-3: leave pending
//     (not yet recognizable as this escrow's multisig).
//  4. both participants present but the third key differs from the
//     escrow's recorded arbiter: adopt the on-chain key as the new
//     arbiter_address and persist it.
//  5. a participant address is missing from the on-chain permission:
//     ErrPermissionsMismatch.
//  6. all three addresses match: promote to active if not already.
func (s *Service) VerifyAndUpdate(ctx context.Context, escrow *model.Escrow) (*model.Escrow, error) {
	account, err := s.chainClient.GetAccount(ctx, escrow.EscrowAddress)
	if err != nil {
		return nil, err
	}
	if !account.Exists {
		return escrow, nil
	}
	perm := account.ActivePermission
	if perm == nil {
		return escrow, nil
	}
	if perm.Threshold != requiredSignatures || len(perm.Keys) != 3 {
		return escrow, nil
	}

	onChain := make(map[string]bool, len(perm.Keys))
	for _, k := range perm.Keys {
		onChain[k.Address] = true
	}

	for _, participant := range []string{escrow.Participant1Address, escrow.Participant2Address} {
		if !onChain[participant] {
			return nil, errors.Errorf("%w: %s", ErrPermissionsMismatch, participant)
		}
	}

	var thirdKey string
	for addr := range onChain {
		if addr != escrow.Participant1Address && addr != escrow.Participant2Address {
			thirdKey = addr
			break
		}
	}

	updated := *escrow
	if thirdKey != "" && thirdKey != escrow.ArbiterAddress {
		updated.ArbiterAddress = thirdKey
		roles := make(map[string]model.AddressRole, len(escrow.AddressRoles)+1)
		for addr, role := range escrow.AddressRoles {
			if role != model.RoleArbiter {
				roles[addr] = role
			}
		}
		roles[thirdKey] = model.RoleArbiter
		updated.AddressRoles = roles
		updated.MultisigConfig.OwnerAddresses = []string{escrow.Participant1Address, escrow.Participant2Address, thirdKey}
		if err := store.UpdateEscrowArbiter(ctx, s.store.Pool, escrow.ID, updated.ArbiterAddress, updated.AddressRoles, updated.MultisigConfig); err != nil {
			return nil, err
		}
	}

	if updated.Status != model.EscrowActive {
		if err := store.UpdateEscrowStatus(ctx, s.store.Pool, escrow.ID, model.EscrowActive); err != nil {
			return nil, err
		}
		updated.Status = model.EscrowActive
	}
	return &updated, nil
}

// Get loads an escrow by ID.
func (s *Service) Get(ctx context.Context, id int64) (*model.Escrow, error) {
	return store.GetEscrow(ctx, s.store.Pool, id)
}

// CreatePaymentTransaction builds an unsigned payout transaction
// spending from escrow to toAddress, grounded on
// EscrowService.create_payment_transaction. tokenContract empty means
// a native TRX transfer; non-empty selects a TRC20 transfer via
// TriggerSmartContract.
func (s *Service) CreatePaymentTransaction(ctx context.Context, escrow *model.Escrow, toAddress string, amount decimal.Decimal, tokenContract string) (*model.PayoutTxn, error) {
	account, err := s.chainClient.GetAccount(ctx, escrow.EscrowAddress)
	if err != nil {
		return nil, err
	}
	if !account.Exists || account.ActivePermission == nil {
		return nil, errors.Errorf("%w: %s", ErrNotActivated, escrow.EscrowAddress)
	}

	var (
		unsigned     *chain.UnsignedTx
		contractType model.ContractType
	)
	if tokenContract != "" {
		unsigned, err = s.chainClient.TriggerSmartContract(ctx, chain.UnsignedTxRequest{
			FromAddress:   escrow.EscrowAddress,
			ToAddress:     toAddress,
			Amount:        amount,
			TokenContract: tokenContract,
			FunctionCall:  "transfer(address,uint256)",
		})
		contractType = model.ContractTypeTriggerSmartContract
	} else {
		unsigned, err = s.chainClient.CreateTransaction(ctx, chain.UnsignedTxRequest{
			FromAddress: escrow.EscrowAddress,
			ToAddress:   toAddress,
			Amount:      amount,
		})
		contractType = model.ContractTypeTransfer
	}
	if err != nil {
		return nil, err
	}

	return &model.PayoutTxn{
		Blockchain:    escrow.Blockchain,
		Network:       escrow.Network,
		EscrowID:      escrow.ID,
		ToAddress:     toAddress,
		Amount:        amount,
		TokenContract: tokenContract,
		UnsignedTx: model.UnsignedTx{
			TxID:       unsigned.TxID,
			RawDataHex: unsigned.RawDataHex,
			RawData:    unsigned.RawData,
		},
		ContractData:       unsigned.ContractData,
		RequiredSignatures: escrow.MultisigConfig.RequiredSignatures,
		Participants:       []string{escrow.Participant1Address, escrow.Participant2Address},
		Arbiter:            escrow.ArbiterAddress,
		OwnerAddresses:     escrow.MultisigConfig.OwnerAddresses,
		ContractType:       contractType,
		Signatures:         nil,
	}, nil
}
