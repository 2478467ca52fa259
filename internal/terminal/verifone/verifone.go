// Package verifone drives Verifone terminals on the local network. A single
// request carries the whole transaction and the result comes back on the same
// call.
package verifone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/terminal"
	"pos-terminal-bridge/internal/transport"

	"github.com/sirupsen/logrus"
)

const (
	defaultPort           = 8080
	defaultRequestTimeout = 2 * time.Minute
)

type Settings struct {
	IP               string `json:"ip"`
	Port             int    `json:"port"`
	RequestTimeoutMs int    `json:"request_timeout_ms"`
}

func init() {
	terminal.Register(terminal.Verifone, New)
}

type Adapter struct {
	logger   *logrus.Logger
	bridge   transport.Bridge
	endpoint string
	timeout  time.Duration
}

func New(deps terminal.Dependencies, rawConfig json.RawMessage) (terminal.Adapter, error) {
	var s Settings
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &s); err != nil {
			return nil, fmt.Errorf("invalid verifone settings: %w", err)
		}
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("verifone adapter requires a transport bridge")
	}
	if s.Port == 0 {
		s.Port = defaultPort
	}

	logger := deps.Logger
	if logger == nil {
		logger = core.NopLogger()
	}

	// ip may already carry a scheme when pointed at a simulator.
	endpoint := s.IP
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = fmt.Sprintf("http://%s:%d", s.IP, s.Port)
	}

	return &Adapter{
		logger:   logger,
		bridge:   deps.Bridge,
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  terminal.Millis(s.RequestTimeoutMs, defaultRequestTimeout),
	}, nil
}

func (a *Adapter) Provider() terminal.Provider { return terminal.Verifone }
func (a *Adapter) Mode() terminal.Mode         { return terminal.ModeImmediate }

func (a *Adapter) Pair(ctx context.Context, input terminal.PairingInput) (*terminal.PairingCredential, error) {
	return nil, &terminal.PairingError{
		Provider: terminal.Verifone,
		Reason:   "LAN terminals are addressed by IP",
		Err:      terminal.ErrPairingUnsupported,
	}
}

type transactionRequest struct {
	Amount          int64  `json:"amount"`
	TransactionType string `json:"transactionType"`
	TransactionID   string `json:"transactionId"`
}

type transactionResponse struct {
	Result          string `json:"result"`
	ResponseText    string `json:"responseText"`
	CustomerReceipt string `json:"customerReceipt"`
}

// CreateTransaction runs the whole transaction in one call and stores the
// outcome on the handle.
func (a *Adapter) CreateTransaction(ctx context.Context, req terminal.TransactionRequest) (*terminal.Handle, error) {
	if err := terminal.ValidateAmount(terminal.Verifone, req.AmountMinorUnits); err != nil {
		return nil, err
	}
	var txType string
	switch req.Kind {
	case terminal.Purchase:
		txType = "PURCHASE"
	case terminal.Refund:
		txType = "REFUND"
	default:
		return nil, terminal.CreateFailed(terminal.Verifone, "invalid transaction kind",
			fmt.Errorf("unsupported transaction kind %q", req.Kind))
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	var resp transactionResponse
	err := transport.DoJSON(callCtx, a.bridge, http.MethodPost, a.endpoint+"/transaction", nil, transactionRequest{
		Amount:          req.AmountMinorUnits,
		TransactionType: txType,
		TransactionID:   req.TransactionID,
	}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if callCtx.Err() != nil {
			// The request reached the terminal; the customer may still be
			// mid-transaction, so this is a terminal failure rather than a
			// creation failure.
			return nil, &terminal.TerminalFailure{
				Provider: terminal.Verifone,
				Reason:   fmt.Sprintf("no result after %s", a.timeout),
				Err:      err,
			}
		}
		return nil, terminal.CreateFailed(terminal.Verifone, "terminal unreachable", err)
	}
	a.logger.Debugf("Verifone %s answered %s in %s", req.TransactionID, resp.Result, time.Since(started).Round(time.Millisecond))

	outcome := mapResult(resp)
	return &terminal.Handle{
		TransactionID:    req.TransactionID,
		Provider:         terminal.Verifone,
		AmountMinorUnits: req.AmountMinorUnits,
		Kind:             req.Kind,
		CreatedAt:        started,
		Result:           &outcome,
	}, nil
}

func mapResult(resp transactionResponse) terminal.Outcome {
	switch strings.ToUpper(resp.Result) {
	case "APPROVED":
		return terminal.Approved(resp.ResponseText, resp.CustomerReceipt)
	case "DECLINED":
		return terminal.Declined(resp.ResponseText, resp.CustomerReceipt)
	case "CANCELLED":
		return terminal.Cancelled()
	default:
		reason := resp.ResponseText
		if reason == "" {
			reason = "terminal returned " + resp.Result
		}
		return terminal.Failed(reason)
	}
}

// CancelTransaction has nothing to act on: the call has already returned.
func (a *Adapter) CancelTransaction(ctx context.Context, h *terminal.Handle) error {
	return terminal.ErrCancelUnsupported
}
