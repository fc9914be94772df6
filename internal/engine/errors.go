package engine

import (
	"errors"

	"accountsync/internal/bridge"
)

var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrNotConnected          = errors.New("account not connected")
	ErrAlreadyConnected      = errors.New("account already connected")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrResultDiscarded       = errors.New("result discarded")
	ErrPollInFlight          = errors.New("poll already in flight")
	ErrAccountNotFound       = errors.New("account not found")
	ErrApprovalStale         = errors.New("account state kept changing during assessment")
	ErrInvalidTrade          = errors.New("invalid trade request")
	ErrInvalidRiskParameters = errors.New("invalid risk parameters")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrTicketExhausted       = errors.New("no free simulated ticket")

	// ErrAuthRejected - терминал отклонил учётные данные
	ErrAuthRejected = bridge.ErrAuthRejected
)
