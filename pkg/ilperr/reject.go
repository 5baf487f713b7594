// Package ilperr centralises the ILP reject-code taxonomy (spec.md §7) as
// a typed error so any pipeline layer can construct or inspect a Reject
// with errors.As, in the spirit of the teacher's pkg/utils.Wrap
// convention of carrying context on a plain error value.
package ilperr

import (
	"fmt"

	"ilpconnector/pkg/ilpaddr"
)

// Kind classifies a reject code by retry semantics.
type Kind int

const (
	// KindFinal rejects are never worth retrying (sender bug).
	KindFinal Kind = iota
	// KindTemporary rejects may be retried as-is.
	KindTemporary
	// KindRelative rejects may be retried after adjusting expiry/amount.
	KindRelative
)

func (k Kind) String() string {
	switch k {
	case KindFinal:
		return "final"
	case KindTemporary:
		return "temporary"
	case KindRelative:
		return "relative"
	default:
		return "unknown"
	}
}

// Well-known reject codes (spec.md §7).
const (
	CodeF00BadRequest          = "F00"
	CodeF01InvalidPacket       = "F01"
	CodeF02Unreachable         = "F02"
	CodeF03InvalidAmount       = "F03"
	CodeF04InsufficientDstAmt  = "F04"
	CodeF05WrongCondition      = "F05"
	CodeF06UnexpectedPayment   = "F06"
	CodeF07CannotReceive       = "F07"
	CodeF08AmountTooLarge      = "F08"
	CodeF99Application         = "F99"
	CodeT00InternalError       = "T00"
	CodeT01PeerUnreachable     = "T01"
	CodeT02PeerBusy            = "T02"
	CodeT03ConnectorBusy       = "T03"
	CodeT04InsufficientLiq     = "T04"
	CodeT05RateLimited         = "T05"
	CodeR00TransferTimedOut    = "R00"
	CodeR01InsufficientSrcAmt  = "R01"
	CodeR02InsufficientTimeout = "R02"
)

var kindByPrefix = map[byte]Kind{'F': KindFinal, 'T': KindTemporary, 'R': KindRelative}

// Reject is an ILP Reject carried as a Go error. It implements error so it
// can flow through normal Go error-handling while still exposing the
// triggering node's address and the three-byte code.
type Reject struct {
	Code        string
	Message     string
	TriggeredBy ilpaddr.Address // zero value means "no triggered_by"
	Data        []byte
}

func (r *Reject) Error() string {
	if r.Message == "" {
		return fmt.Sprintf("ilp reject %s", r.Code)
	}
	return fmt.Sprintf("ilp reject %s: %s", r.Code, r.Message)
}

// Kind classifies r's code by its first byte, per the taxonomy in
// spec.md §7 (F=final, T=temporary, R=relative).
func (r *Reject) Kind() Kind {
	if len(r.Code) == 0 {
		return KindFinal
	}
	if k, ok := kindByPrefix[r.Code[0]]; ok {
		return k
	}
	return KindFinal
}

// New constructs a Reject with the given code, message and triggering
// address.
func New(code, message string, triggeredBy ilpaddr.Address) *Reject {
	return &Reject{Code: code, Message: message, TriggeredBy: triggeredBy}
}

// Wrap constructs a T00_INTERNAL_ERROR Reject wrapping a lower-level
// store/network failure, matching the policy in spec.md §7 that "store
// failures surface as T00".
func Wrap(err error, triggeredBy ilpaddr.Address) *Reject {
	return New(CodeT00InternalError, err.Error(), triggeredBy)
}
