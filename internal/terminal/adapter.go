// Package terminal defines the contract every payment-terminal vendor adapter
// implements and the canonical outcome they all normalise into.
package terminal

import (
	"context"
	"encoding/json"
	"time"

	"pos-terminal-bridge/internal/transport"

	"github.com/sirupsen/logrus"
)

type Provider string

const (
	SmartPay Provider = "SmartPay"
	Tyro     Provider = "Tyro"
	Verifone Provider = "Verifone"
	Windcave Provider = "Windcave"
)

type Kind string

const (
	Purchase   Kind = "Purchase"
	Refund     Kind = "Refund"
	QRPurchase Kind = "QRPurchase"
	QRRefund   Kind = "QRRefund"
)

// Mode is how an adapter delivers its outcome. It is fixed per provider.
type Mode int

const (
	// ModeImmediate providers resolve inside CreateTransaction.
	ModeImmediate Mode = iota
	ModePolling
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModePolling:
		return "polling"
	case ModeStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

type PairingInput struct {
	Code       string `json:"code,omitempty"`
	MerchantID string `json:"merchantId,omitempty"`
	TerminalID string `json:"terminalId,omitempty"`
}

// PairingCredential is what a successful pairing yields. MerchantID and
// TerminalID are kept for providers whose key is bound to those ids.
type PairingCredential struct {
	Provider   Provider  `json:"provider"`
	Credential string    `json:"credential"`
	MerchantID string    `json:"merchantId,omitempty"`
	TerminalID string    `json:"terminalId,omitempty"`
	ObtainedAt time.Time `json:"obtainedAt"`
}

type TransactionRequest struct {
	TransactionID    string
	AmountMinorUnits int64
	Kind             Kind
	// Reference is the order reference shown on the terminal, if any.
	Reference string
}

// Handle identifies a created transaction on the vendor side. PollingHandle
// holds the polling URL, txnRef or session id; Session carries adapter-private
// state such as an open stream.
type Handle struct {
	TransactionID    string
	Provider         Provider
	PollingHandle    string
	StationID        string
	AmountMinorUnits int64
	Kind             Kind
	CreatedAt        time.Time

	// Result is set by ModeImmediate adapters.
	Result *Outcome

	Session any
}

// Adapter is the capability set shared by every vendor.
type Adapter interface {
	Provider() Provider
	Mode() Mode
	Pair(ctx context.Context, input PairingInput) (*PairingCredential, error)
	CreateTransaction(ctx context.Context, req TransactionRequest) (*Handle, error)
	CancelTransaction(ctx context.Context, h *Handle) error
}

// Poller is implemented by client-driven polling providers. onDelayed may be
// invoked more than once by an adapter; callers latch it.
type Poller interface {
	Adapter
	PollOutcome(ctx context.Context, h *Handle, onDelayed func(*PollingTimeoutError)) (Outcome, error)
}

// Streamer is implemented by push providers.
type Streamer interface {
	Adapter
	StreamOutcome(ctx context.Context, h *Handle, onStatusUpdate func(string)) (Outcome, error)
}

// CredentialSource yields a stored pairing credential. It returns ErrNotPaired
// when the provider has never been paired.
type CredentialSource interface {
	Credential(provider Provider) (*PairingCredential, error)
}

// Dependencies are handed to every adapter constructor.
type Dependencies struct {
	Logger      *logrus.Logger
	Bridge      transport.Bridge
	Credentials CredentialSource
}

// NewFunc creates an adapter from its provider-specific configuration block.
type NewFunc func(deps Dependencies, rawConfig json.RawMessage) (Adapter, error)

// Millis converts a configured millisecond value, falling back to def when it
// is not set.
func Millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
