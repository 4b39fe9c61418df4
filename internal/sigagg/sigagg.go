// Package sigagg collects and assembles the off-chain signatures for a
// deal's payout transaction, grounded on
// original_source/services/deals/service.py's add_payout_signature and
// get_payout_signed_tx.
package sigagg

import (
	"strings"

	"github.com/RuSwift/garantex-sub000/internal/model"
	"github.com/go-errors/errors"
)

// ErrSignerNotAllowed is returned when a signature is offered by an
// address that is neither a participant nor the arbiter on the
// payout's multisig config.
var ErrSignerNotAllowed = errors.New("sigagg: signer not allowed")

// ErrTxLocked is returned when a caller tries to swap the unsigned
// transaction of a payout that already carries at least one signature
// (add_payout_signature's "Нельзя заменить транзакцию" guard).
var ErrTxLocked = errors.New("sigagg: cannot replace transaction once signed")

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func allowedSigners(p *model.PayoutTxn) map[string]bool {
	allowed := map[string]bool{}
	if len(p.OwnerAddresses) > 0 {
		for _, a := range p.OwnerAddresses {
			allowed[normalize(a)] = true
		}
		return allowed
	}
	for _, a := range p.Participants {
		allowed[normalize(a)] = true
	}
	if p.Arbiter != "" {
		allowed[normalize(p.Arbiter)] = true
	}
	return allowed
}

// AddSignature appends signerAddress's signature to p, returning the
// updated payout. A signer already present is a no-op (idempotent
// resubmission). replacement, when non-nil, extends the transaction's
// expiry by swapping in a freshly built unsigned tx — only permitted
// while no signatures have been collected yet.
func AddSignature(p *model.PayoutTxn, signerAddress, signatureHex string, replacement *model.UnsignedTx) (*model.PayoutTxn, error) {
	allowed := allowedSigners(p)
	if !allowed[normalize(signerAddress)] {
		return nil, errors.Errorf("%w: %s", ErrSignerNotAllowed, signerAddress)
	}

	for _, sig := range p.Signatures {
		if normalize(sig.SignerAddress) == normalize(signerAddress) {
			return p, nil
		}
	}

	out := *p
	if replacement != nil {
		if len(p.Signatures) > 0 {
			return nil, ErrTxLocked
		}
		out.UnsignedTx = *replacement
	}
	out.Signatures = append(append([]model.Signature{}, p.Signatures...), model.Signature{
		SignerAddress: signerAddress,
		SignatureHex:  signatureHex,
	})
	return &out, nil
}

// orderedOwners returns the owner address list a quorum is computed
// over: owner_addresses if the payout carries one, else
// participants+arbiter.
func orderedOwners(p *model.PayoutTxn) []string {
	if len(p.OwnerAddresses) > 0 {
		return p.OwnerAddresses
	}
	owners := append([]string{}, p.Participants...)
	if p.Arbiter != "" {
		owners = append(owners, p.Arbiter)
	}
	return owners
}

// Assemble returns the final {unsigned tx fields, signature: [...]}
// payload ready for broadcast once enough owners (in owner-list order)
// have signed, or (nil, nil, false) if the quorum hasn't been reached yet.
// The ordered signature list is required by TRON's multisig broadcast
// format, which expects signatures in the same order as the account's
// active-permission key list.
func Assemble(p *model.PayoutTxn) (*model.UnsignedTx, []string, bool) {
	owners := orderedOwners(p)
	required := p.RequiredSignatures
	if required == 0 {
		required = len(owners)
	}

	bySigner := make(map[string]string, len(p.Signatures))
	for _, sig := range p.Signatures {
		bySigner[normalize(sig.SignerAddress)] = strings.TrimPrefix(sig.SignatureHex, "0x")
	}

	var ordered []string
	for _, owner := range owners {
		if sig, ok := bySigner[normalize(owner)]; ok {
			ordered = append(ordered, sig)
		}
		if len(ordered) >= required {
			break
		}
	}
	if len(ordered) < required {
		return nil, nil, false
	}
	return &p.UnsignedTx, ordered, true
}
