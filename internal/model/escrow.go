package model

import "github.com/shopspring/decimal"

// EscrowType distinguishes the two on-chain escrow implementations named
// in spec.md §9. Only multisig is exercised by the core; contract is a
// planned, unexercised branch and must never be treated as a subclass of
// multisig.
type EscrowType string

const (
	EscrowTypeMultisig EscrowType = "multisig"
	EscrowTypeContract EscrowType = "contract"
)

// EscrowStatus is the provisioning lifecycle of an Escrow.
type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "pending"
	EscrowActive   EscrowStatus = "active"
	EscrowInactive EscrowStatus = "inactive"
)

// AddressRole marks whether an owner address on the multisig permission
// belongs to a participant or the arbiter.
type AddressRole string

const (
	RoleParticipant AddressRole = "participant"
	RoleArbiter     AddressRole = "arbiter"
)

// MultisigConfig is the threshold policy plus ordered owner list used
// both to build the on-chain permission and to validate/assemble
// signatures off-chain, per the GLOSSARY.
type MultisigConfig struct {
	RequiredSignatures int      `json:"required_signatures"`
	OwnerAddresses     []string `json:"owner_addresses"`
	Weights            []int    `json:"weights,omitempty"`
}

// SumWeights returns the sum of configured weights, or len(OwnerAddresses)
// if no explicit weights were set (equal-weight default).
func (c *MultisigConfig) SumWeights() int {
	if len(c.Weights) == 0 {
		return len(c.OwnerAddresses)
	}
	sum := 0
	for _, w := range c.Weights {
		sum += w
	}
	return sum
}

// Escrow is a shared on-chain account (or contract) holding funds under a
// 2-of-3 multisignature policy, per spec.md §3.
type Escrow struct {
	ID                   int64
	Blockchain           string
	Network              string
	EscrowType           EscrowType
	EscrowAddress        string
	OwnerDID             DID
	Participant1Address  string
	Participant2Address  string
	ArbiterAddress       string
	MultisigConfig       MultisigConfig
	AddressRoles         map[string]AddressRole
	EncryptedMnemonic    string
	Status               EscrowStatus
}

// ParticipantPairKey returns a deterministic, order-insensitive key for
// the escrow's two participant addresses, used for deduplication lookups
// per spec.md §4.2.
func (e *Escrow) ParticipantPairKey() (string, string) {
	if e.Participant1Address <= e.Participant2Address {
		return e.Participant1Address, e.Participant2Address
	}
	return e.Participant2Address, e.Participant1Address
}

// ContractType names the kind of on-chain call a payout transaction
// represents, per spec.md §6.
type ContractType string

const (
	ContractTypeTransfer                ContractType = "TransferContract"
	ContractTypeTriggerSmartContract    ContractType = "TriggerSmartContract"
	ContractTypeAccountPermissionUpdate ContractType = "AccountPermissionUpdateContract"
)

// PayoutTxn is the persisted JSON bundle of {unsigned_tx, multisig
// config snapshot, collected signatures} on deal.payout_txn, per the
// GLOSSARY.
type PayoutTxn struct {
	Blockchain         string          `json:"blockchain"`
	Network            string          `json:"network"`
	EscrowID           int64           `json:"escrow_id"`
	ToAddress          string          `json:"to_address"`
	Amount             decimal.Decimal `json:"amount"`
	TokenContract      string          `json:"token_contract,omitempty"`
	UnsignedTx         UnsignedTx      `json:"unsigned_tx"`
	ContractData       string          `json:"contract_data,omitempty"`
	RequiredSignatures int             `json:"required_signatures"`
	Participants       []string        `json:"participants"`
	Arbiter            string          `json:"arbiter"`
	OwnerAddresses     []string        `json:"owner_addresses,omitempty"`
	ContractType       ContractType    `json:"contract_type"`
	Signatures         []Signature     `json:"signatures"`
}

// UnsignedTx is the chain-specific unsigned transaction envelope. TxID is
// the id the node reports when it builds the transaction, before any
// broadcast; the builder uses it to poll for confirmation.
type UnsignedTx struct {
	TxID       string `json:"txID,omitempty"`
	RawDataHex string `json:"raw_data_hex"`
	RawData    string `json:"raw_data,omitempty"`
}

// Signature is one collected off-chain signature for a payout
// transaction.
type Signature struct {
	SignerAddress string `json:"signer_address"`
	SignatureHex  string `json:"signature_hex"`
}

// Matches reports whether the payout txn's recipient/amount/token match
// the given parameters exactly, the idempotence check from spec.md §4.4.
func (p *PayoutTxn) Matches(toAddress string, amount decimal.Decimal, tokenContract string) bool {
	if p == nil {
		return false
	}
	return p.ToAddress == toAddress &&
		p.Amount.Equal(amount) &&
		p.TokenContract == tokenContract
}
