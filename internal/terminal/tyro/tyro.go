// Package tyro drives Tyro terminals. Pairing by merchant and terminal id
// yields an integration key; transactions run over a duplex stream that pushes
// human-readable status lines until a result arrives.
package tyro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/transport"

	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL   = "https://iclient.tyro.com"
	defaultStreamURL = "wss://iclient.tyro.com"
)

type Settings struct {
	BaseURL    string `json:"base_url"`
	StreamURL  string `json:"stream_url"`
	MerchantID string `json:"merchant_id"`
	TerminalID string `json:"terminal_id"`
	// HardTimeoutMs bounds a streamed transaction; zero leaves it to the
	// terminal, which always ends a transaction on its own.
	HardTimeoutMs int `json:"hard_timeout_ms"`
}

func init() {
	terminal.Register(terminal.Tyro, New)
}

type Adapter struct {
	logger      *logrus.Logger
	bridge      transport.Bridge
	credentials terminal.CredentialSource
	settings    Settings
	hardTimeout time.Duration
}

func New(deps terminal.Dependencies, rawConfig json.RawMessage) (terminal.Adapter, error) {
	var s Settings
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &s); err != nil {
			return nil, fmt.Errorf("invalid tyro settings: %w", err)
		}
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("tyro adapter requires a transport bridge")
	}
	if s.BaseURL == "" {
		s.BaseURL = defaultBaseURL
	}
	if s.StreamURL == "" {
		s.StreamURL = defaultStreamURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	s.StreamURL = strings.TrimRight(s.StreamURL, "/")

	logger := deps.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	var hard time.Duration
	if s.HardTimeoutMs > 0 {
		hard = time.Duration(s.HardTimeoutMs) * time.Millisecond
	}
	return &Adapter{
		logger:      logger,
		bridge:      deps.Bridge,
		credentials: deps.Credentials,
		settings:    s,
		hardTimeout: hard,
	}, nil
}

func (a *Adapter) Provider() terminal.Provider { return terminal.Tyro }
func (a *Adapter) Mode() terminal.Mode         { return terminal.ModeStreaming }

type pairResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	IntegrationKey string `json:"integrationKey"`
}

// Pair exchanges merchant and terminal ids for an integration key. Ids from
// input override the configured ones.
func (a *Adapter) Pair(ctx context.Context, input terminal.PairingInput) (*terminal.PairingCredential, error) {
	mid := firstNonEmpty(input.MerchantID, a.settings.MerchantID)
	tid := firstNonEmpty(input.TerminalID, a.settings.TerminalID)
	if mid == "" || tid == "" {
		return nil, &terminal.PairingError{Provider: terminal.Tyro, Reason: "merchant id and terminal id are required"}
	}

	var resp pairResponse
	err := transport.DoJSON(ctx, a.bridge, http.MethodPost, a.settings.BaseURL+"/pair", nil,
		map[string]string{"merchantId": mid, "terminalId": tid}, &resp)
	if err != nil {
		reason := "terminal unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "pairing timed out"
		}
		return nil, &terminal.PairingError{Provider: terminal.Tyro, Reason: reason, Err: err}
	}
	if resp.Status != "success" || resp.IntegrationKey == "" {
		reason := resp.Message
		if reason == "" {
			reason = "pairing rejected by terminal"
		}
		return nil, &terminal.PairingError{Provider: terminal.Tyro, Reason: reason}
	}

	return &terminal.PairingCredential{
		Provider:   terminal.Tyro,
		Credential: resp.IntegrationKey,
		MerchantID: mid,
		TerminalID: tid,
		ObtainedAt: time.Now().UTC(),
	}, nil
}

type message struct {
	Type            string `json:"type,omitempty"`
	Command         string `json:"command,omitempty"`
	Amount          string `json:"amount,omitempty"`
	MID             string `json:"mid,omitempty"`
	TID             string `json:"tid,omitempty"`
	IntegrationKey  string `json:"integrationKey,omitempty"`
	TransactionID   string `json:"transactionId,omitempty"`
	Message         string `json:"message,omitempty"`
	Result          string `json:"result,omitempty"`
	CustomerReceipt string `json:"customerReceipt,omitempty"`
}

// CreateTransaction opens the transaction stream and sends the start command.
// The stream is kept on the handle for StreamOutcome and CancelTransaction.
func (a *Adapter) CreateTransaction(ctx context.Context, req terminal.TransactionRequest) (*terminal.Handle, error) {
	if err := terminal.ValidateAmount(terminal.Tyro, req.AmountMinorUnits); err != nil {
		return nil, err
	}
	var command string
	switch req.Kind {
	case terminal.Purchase:
		command = "purchase"
	case terminal.Refund:
		command = "refund"
	default:
		return nil, terminal.CreateFailed(terminal.Tyro, "invalid transaction kind",
			fmt.Errorf("unsupported transaction kind %q", req.Kind))
	}

	if a.credentials == nil {
		return nil, terminal.CreateFailed(terminal.Tyro, "no credential store", terminal.ErrNotPaired)
	}
	cred, err := a.credentials.Credential(terminal.Tyro)
	if err != nil {
		return nil, terminal.CreateFailed(terminal.Tyro, "integration key unavailable", err)
	}

	stream, err := a.bridge.Stream(ctx, a.settings.StreamURL+"/transaction", nil)
	if err != nil {
		return nil, terminal.CreateFailed(terminal.Tyro, "terminal unreachable", err)
	}

	start, err := json.Marshal(message{
		Command:        command,
		Amount:         strconv.FormatInt(req.AmountMinorUnits, 10),
		MID:            firstNonEmpty(cred.MerchantID, a.settings.MerchantID),
		TID:            firstNonEmpty(cred.TerminalID, a.settings.TerminalID),
		IntegrationKey: cred.Credential,
		TransactionID:  req.TransactionID,
	})
	if err != nil {
		_ = stream.Close()
		return nil, terminal.CreateFailed(terminal.Tyro, "failed to encode command", err)
	}
	if err := stream.Send(ctx, start); err != nil {
		_ = stream.Close()
		return nil, terminal.CreateFailed(terminal.Tyro, "failed to start transaction", err)
	}

	return &terminal.Handle{
		TransactionID:    req.TransactionID,
		Provider:         terminal.Tyro,
		PollingHandle:    req.TransactionID,
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             req.Kind,
		CreatedAt:        time.Now(),
		Session:          stream,
	}, nil
}

func sessionStream(h *terminal.Handle) (transport.Stream, error) {
	if h == nil {
		return nil, fmt.Errorf("nil handle")
	}
	stream, ok := h.Session.(transport.Stream)
	if !ok || stream == nil {
		return nil, fmt.Errorf("transaction %s has no open stream", h.TransactionID)
	}
	return stream, nil
}

// StreamOutcome reads status lines until the result arrives. The stream is
// closed on return.
func (a *Adapter) StreamOutcome(ctx context.Context, h *terminal.Handle, onStatusUpdate func(string)) (terminal.Outcome, error) {
	stream, err := sessionStream(h)
	if err != nil {
		return terminal.Outcome{}, &terminal.TerminalFailure{Provider: terminal.Tyro, Reason: "stream missing", Err: err}
	}
	defer func() { _ = stream.Close() }()

	if a.hardTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.hardTimeout)
		defer cancel()
	}

	for {
		raw, err := stream.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && a.hardTimeout > 0 {
				return terminal.Outcome{}, &terminal.TerminalFailure{
					Provider: terminal.Tyro,
					Reason:   fmt.Sprintf("no result after %s", a.hardTimeout),
				}
			}
			if ctx.Err() != nil {
				return terminal.Outcome{}, ctx.Err()
			}
			return terminal.Outcome{}, &terminal.TerminalFailure{Provider: terminal.Tyro, Reason: "stream closed before result", Err: err}
		}

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			a.logger.Warningf("Tyro %s: ignoring malformed message: %v", h.TransactionID, err)
			continue
		}

		switch msg.Type {
		case "status":
			if onStatusUpdate != nil && msg.Message != "" {
				onStatusUpdate(msg.Message)
			}
		case "result":
			return mapResult(msg), nil
		default:
			a.logger.Debugf("Tyro %s: ignoring message type %q", h.TransactionID, msg.Type)
		}
	}
}

func mapResult(msg message) terminal.Outcome {
	switch strings.ToUpper(msg.Result) {
	case "APPROVED":
		return terminal.Approved(msg.Message, msg.CustomerReceipt)
	case "DECLINED":
		return terminal.Declined(msg.Message, msg.CustomerReceipt)
	case "REVERSED":
		return terminal.Declined("Transaction reversed", msg.CustomerReceipt)
	case "CANCELLED":
		return terminal.Cancelled()
	default:
		reason := msg.Message
		if reason == "" {
			reason = "terminal reported " + msg.Result
		}
		return terminal.Failed(reason)
	}
}

// CancelTransaction asks the terminal to abort. The terminal still reports a
// result on the stream, which may be a late approval if the card was already
// read.
func (a *Adapter) CancelTransaction(ctx context.Context, h *terminal.Handle) error {
	stream, err := sessionStream(h)
	if err != nil {
		return err
	}
	cmd, _ := json.Marshal(message{Command: "cancel", TransactionID: h.TransactionID})
	if err := stream.Send(ctx, cmd); err != nil {
		return fmt.Errorf("failed to send cancel: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
