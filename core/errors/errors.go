// Package errors defines the failure taxonomy shared by every settlement
// engine. Each failure belongs to exactly one category so callers can branch on
// the category with errors.Is while still matching the precise failure.
package errors

import stderrors "errors"

var (
	// ErrAuthorization groups signature, nonce and expiry failures.
	ErrAuthorization = stderrors.New("authorization error")
	// ErrCustody groups failures while moving assets between parties.
	ErrCustody = stderrors.New("custody error")
	// ErrRule groups staking rule lookups and deposit validation failures.
	ErrRule = stderrors.New("rule error")
	// ErrState groups failures caused by the caller referencing records in the
	// wrong lifecycle state or owned by someone else.
	ErrState = stderrors.New("state error")
)

// Error is a single taxonomy member. Code is stable and machine readable;
// the message mirrors the revert reasons clients already match on.
type Error struct {
	Code     string
	Category error
	msg      string
}

// New declares a taxonomy member under the supplied category.
func New(category error, code, msg string) *Error {
	return &Error{Code: code, Category: category, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Is reports whether target is the category this error belongs to.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Category
}

// CodeOf extracts the taxonomy code from err, or "" when err is not part of the
// taxonomy.
func CodeOf(err error) string {
	var tagged *Error
	if stderrors.As(err, &tagged) {
		return tagged.Code
	}
	return ""
}

// CategoryOf returns the category err belongs to, or nil.
func CategoryOf(err error) error {
	for _, cat := range []error{ErrAuthorization, ErrCustody, ErrRule, ErrState} {
		if stderrors.Is(err, cat) {
			return cat
		}
	}
	return nil
}

var (
	ErrInvalidSignature = New(ErrAuthorization, "InvalidSignature", "invalid signature")
	ErrNonceReused      = New(ErrAuthorization, "NonceReused", "expired signature")
	ErrOrderExpired     = New(ErrAuthorization, "OrderExpired", "order expired")

	ErrInsufficientAllowance = New(ErrCustody, "InsufficientAllowance", "insufficient allowance")
	ErrInsufficientBalance   = New(ErrCustody, "InsufficientBalance", "transfer amount exceeds balance")
	ErrReceiverRejected      = New(ErrCustody, "ReceiverRejected", "transfer to non receiver implementer")
	ErrTransferFailed        = New(ErrCustody, "TransferFailed", "native transfer failed")
	ErrInvalidTokenID        = New(ErrCustody, "InvalidTokenId", "invalid token ID")
	ErrUnsupportedKind       = New(ErrCustody, "UnsupportedKind", "unsupported token type")
	ErrBlacklisted           = New(ErrCustody, "Blacklisted", "BlackListError")

	ErrRuleNotFound       = New(ErrRule, "RuleNotFound", "rule doesn't exist")
	ErrRuleInactive       = New(ErrRule, "RuleInactive", "rule doesn't active")
	ErrWrongAmount        = New(ErrRule, "WrongAmount", "wrong amount")
	ErrWrongDepositToken  = New(ErrRule, "WrongDepositToken", "wrong deposit token templateID")
	ErrStakeLimitExceeded = New(ErrRule, "StakeLimitExceeded", "stake limit exceeded")

	ErrInvalidStakeID   = New(ErrState, "InvalidStakeId", "wrong staking id")
	ErrNotOwner         = New(ErrState, "NotOwner", "not an owner")
	ErrAlreadyWithdrawn = New(ErrState, "AlreadyWithdrawn", "deposit withdrawn already")
	ErrNothingToClaim   = New(ErrState, "NothingToClaim", "nothing to claim")
)
