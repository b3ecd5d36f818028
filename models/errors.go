package models

import "errors"

// Domain errors returned by the services layer. Handlers map these onto
// HTTP status codes; anything not listed here surfaces as a 500.

// Not found
var (
	ErrGameNotFound     = errors.New("game not found")
	ErrProposalNotFound = errors.New("proposal not found")
)

// Invalid lifecycle state
var (
	ErrNotJoinable          = errors.New("game is not open for joining")
	ErrNotActive            = errors.New("game is not active")
	ErrNotCancellable       = errors.New("game can no longer be cancelled")
	ErrTimeoutNotReached    = errors.New("game timeout not reached")
	ErrVotingClosed         = errors.New("voting window has closed")
	ErrVotingStillOpen      = errors.New("voting window has not elapsed")
	ErrMoveExecuted         = errors.New("ballot already resolved")
	ErrDirectMovesDisabled  = errors.New("direct moves disabled, use move proposals")
	ErrConsensusDisabled    = errors.New("move proposals disabled, use direct moves")
)

// Invalid amounts
var (
	ErrInvalidStake        = errors.New("stake outside allowed bounds")
	ErrStakeMismatch       = errors.New("stake does not match the game's stake amount")
	ErrZeroAmount          = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("amount exceeds pooled balance")
)

// Unauthorized
var (
	ErrNotPlayer          = errors.New("caller is not a player of this game")
	ErrWrongTurn          = errors.New("not the caller's turn")
	ErrAlreadyVoted       = errors.New("caller already voted on this proposal")
	ErrInsufficientShares = errors.New("vote weight exceeds caller's stake valuation")
	ErrSelfJoin           = errors.New("creator cannot join their own game")
)

// Transfer / arithmetic
var (
	ErrTransferFailed = errors.New("external value transfer failed")
	ErrVaultEmpty     = errors.New("ledger has no value locked")
)
