package model

import (
	"strings"

	"github.com/go-errors/errors"
)

// Method names the blockchain family a DID's address belongs to.
type Method string

const (
	MethodEthr     Method = "ethr"
	MethodTron     Method = "tron"
	MethodBitcoin  Method = "bitcoin"
	MethodPolkadot Method = "polkadot"
	MethodDeal     Method = "deal"
)

// ErrInvalidDID is returned when a string does not conform to the
// did:{method}:{address} shape required by the rest of the core.
var ErrInvalidDID = errors.New("invalid did")

// DID is a decentralized identifier of the form did:{method}:{address},
// with address stored lower-cased per spec.
type DID string

// NewDID validates and normalizes a raw DID string.
func NewDID(raw string) (DID, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return "", errors.Errorf("%w: %q: expected 3 colon-separated segments", ErrInvalidDID, raw)
	}
	if parts[0] != "did" {
		return "", errors.Errorf("%w: %q: must start with \"did\"", ErrInvalidDID, raw)
	}
	if parts[1] == "" {
		return "", errors.Errorf("%w: %q: empty method", ErrInvalidDID, raw)
	}
	if parts[2] == "" {
		return "", errors.Errorf("%w: %q: empty address", ErrInvalidDID, raw)
	}
	return DID("did:" + parts[1] + ":" + strings.ToLower(parts[2])), nil
}

// Method returns the method segment of the DID.
func (d DID) Method() Method {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return Method(parts[1])
}

// Address returns the address segment of the DID.
func (d DID) Address() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// DealDID builds the synthetic "did:deal:{uid}" identifier used as the
// per-owner conversation id for deal threads.
func DealDID(uid DealUID) DID {
	return DID("did:deal:" + string(uid))
}
