package service

import (
	"errors"

	apperrors "github.com/chainsafe/xchain-vault/pkg/app/errors"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInsufficientFee  = errors.New("insufficient fee")
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyResolved  = errors.New("withdrawal already resolved")
	ErrNotEligible      = errors.New("account not eligible for badge")
	ErrAlreadyClaimed   = errors.New("badge already claimed")
	ErrAlreadyRelocated = errors.New("badge already relocated")
	ErrTransferFailed   = errors.New("transfer failed")
	ErrDispatchFailed   = errors.New("gateway dispatch failed")
)

// The helpers below pair a sentinel with the message returned to callers;
// errors.Is matches the sentinel through ServiceError.Unwrap.

func invalidInput(msg string) error {
	return apperrors.BadRequestError(ErrInvalidInput, msg)
}

func notFound(msg string) error {
	return apperrors.ResourceNotFoundError(ErrNotFound, msg)
}

func unauthorized(msg string) error {
	return apperrors.UnAuthorizedError(ErrUnauthorized, msg)
}

func insufficientFee(msg string) error {
	return apperrors.PaymentRequiredError(ErrInsufficientFee, msg)
}

func invalidState(msg string) error {
	return apperrors.ConflictError(ErrInvalidState, msg)
}

func alreadyResolved() error {
	return apperrors.ConflictError(ErrAlreadyResolved, "withdrawal already resolved")
}

func notEligible() error {
	return apperrors.ForbiddenError(ErrNotEligible, "account has not triggered a refund")
}

func alreadyClaimed() error {
	return apperrors.ConflictError(ErrAlreadyClaimed, "badge already claimed")
}

func alreadyRelocated() error {
	return apperrors.ConflictError(ErrAlreadyRelocated, "badge already relocated")
}

func transferFailed(err error) error {
	return apperrors.DependencyError(errors.Join(ErrTransferFailed, err), "payout failed")
}

func dispatchFailed(err error) error {
	return apperrors.DependencyError(errors.Join(ErrDispatchFailed, err), "gateway dispatch failed")
}
