package program

import (
	"errors"
	"fmt"
)

// Error is a program-level failure with a stable numeric code. Codes start at
// 6000, continuing the numbering the on-chain revisions used for custom
// errors, so off-chain consumers can match either form.
type Error struct {
	Code uint32
	Name string
	msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.msg)
}

var (
	// State-conflict errors: the record is already in a terminal or
	// incompatible state.
	ErrAlreadyInitialized    = &Error{6000, "AlreadyInitialized", "the campaign has already been initialized"}
	ErrAirdropAlreadyClaimed = &Error{6001, "AirdropAlreadyClaimed", "the airdrop has already been claimed by this user"}
	ErrAllocationNotEnabled  = &Error{6002, "AllocationNotEnabled", "allocation is not enabled for this campaign"}
	ErrClaimCompleted        = &Error{6003, "ClaimCompleted", "the allocation has been fully claimed"}

	// Authorization errors: a supplied account fails a derivation or
	// ownership check.
	ErrPdaMismatch              = &Error{6004, "PdaMismatch", "derived program address does not match the supplied account"}
	ErrUnauthorized             = &Error{6005, "Unauthorized", "signer is not authorized for this operation"}
	ErrMintMismatch             = &Error{6006, "MintMismatch", "token account mint does not match the campaign mint"}
	ErrInvalidTokenAccount      = &Error{6007, "InvalidTokenAccount", "token account does not match the campaign reserve"}
	ErrInvalidTokenAccountOwner = &Error{6008, "InvalidTokenAccountOwner", "token account is not owned by the campaign authority"}

	// Policy errors: a precondition on time or balance is unmet.
	ErrUnlockPeriodNotMet = &Error{6009, "UnlockPeriodNotMet", "the unlock period has not elapsed"}
	ErrInsufficientFunds  = &Error{6010, "InsufficientFunds", "insufficient funds for transfer"}

	// Lookup failures for read paths.
	ErrCampaignNotFound   = &Error{6011, "CampaignNotFound", "no campaign record exists for this address"}
	ErrAllocationNotFound = &Error{6012, "AllocationNotFound", "no allocation record exists for this address"}
	ErrAccountNotFound    = &Error{6013, "AccountNotFound", "no such account on the ledger"}
)

// CodeOf returns the stable error name for a program error, or "Internal" for
// anything else. Used for HTTP error bodies and metrics labels.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Name
	}
	return "Internal"
}
