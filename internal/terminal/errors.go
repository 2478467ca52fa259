package terminal

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCancelUnsupported      = errors.New("cancel not supported by provider")
	ErrPairingUnsupported     = errors.New("pairing not supported by provider")
	ErrNotPaired              = errors.New("terminal not paired")
	ErrInvalidAmount          = errors.New("amount must be a positive integer in minor units")
	ErrCredentialNotPersisted = errors.New("terminal paired but credential could not be stored")
)

// PairingError covers a rejected code, a pairing timeout and a failure to
// persist the resulting credential. DevicePaired is true in the last case: the
// device believes it is paired while the application holds no key.
type PairingError struct {
	Provider     Provider
	Reason       string
	DevicePaired bool
	Err          error
}

func (e *PairingError) Error() string {
	msg := fmt.Sprintf("%s pairing failed: %s", e.Provider, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PairingError) Unwrap() error { return e.Err }

// TransactionCreateError is returned before a transaction exists: bad input,
// unreachable terminal, or missing pairing.
type TransactionCreateError struct {
	Provider Provider
	Reason   string
	Err      error
}

func (e *TransactionCreateError) Error() string {
	msg := fmt.Sprintf("%s transaction not created: %s", e.Provider, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransactionCreateError) Unwrap() error { return e.Err }

// PollingTimeoutError is the soft-deadline notice. It is passed to the
// delayed callback and never returned as a failure.
type PollingTimeoutError struct {
	Provider      Provider
	TransactionID string
	Elapsed       time.Duration
}

func (e *PollingTimeoutError) Error() string {
	return fmt.Sprintf("%s transaction %s still processing after %s", e.Provider, e.TransactionID, e.Elapsed.Round(time.Millisecond))
}

// TerminalFailure is a hard failure reported by the device or a hard deadline
// being exceeded.
type TerminalFailure struct {
	Provider Provider
	Reason   string
	Err      error
}

func (e *TerminalFailure) Error() string {
	msg := fmt.Sprintf("%s terminal failure: %s", e.Provider, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TerminalFailure) Unwrap() error { return e.Err }

// ValidateAmount rejects non-positive amounts before anything reaches the
// network.
func ValidateAmount(provider Provider, amountMinorUnits int64) error {
	if amountMinorUnits <= 0 {
		return &TransactionCreateError{
			Provider: provider,
			Reason:   fmt.Sprintf("invalid amount %d", amountMinorUnits),
			Err:      ErrInvalidAmount,
		}
	}
	return nil
}

// CreateFailed wraps a transport error raised while creating a transaction.
func CreateFailed(provider Provider, reason string, err error) error {
	return &TransactionCreateError{Provider: provider, Reason: reason, Err: err}
}
