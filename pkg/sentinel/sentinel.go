// Package sentinel holds infrastructure-layer sentinel errors for
// factual resource states. Stores and other infrastructure return these
// (optionally wrapped) so services can translate them into domainerrors.
//
// These represent facts about resources, not validation failures:
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: uniqueness constraint violated
//   - ErrExpired: token/session/challenge has expired
//   - ErrAlreadyUsed: single-use resource (challenge, refresh token) already consumed
//   - ErrInvalidState: entity in the wrong state for the requested operation
//   - ErrUnavailable: dependency temporarily unavailable
//   - ErrCounterRollback: WebAuthn signature counter did not increase
//   - ErrChainBroken: audit hash chain verification failed
//
// For validation errors (bad input, missing fields) use pkg/domain-errors directly.
package sentinel

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrAlreadyUsed     = errors.New("already used")
	ErrInvalidState    = errors.New("invalid state")
	ErrUnavailable     = errors.New("unavailable")
	ErrCounterRollback = errors.New("signature counter rollback")
	ErrChainBroken     = errors.New("audit chain broken")
)
